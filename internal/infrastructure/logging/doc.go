// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for humans
//
// Subsystems take child loggers via Named so kernel, bus, and app
// log lines are attributable:
//
//	log := logging.New(cfg)
//	kernelLog := log.Named("kernel")
//	kernelLog.Info("frame complete", zap.Uint64("frame", n))
package logging
