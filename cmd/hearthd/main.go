// Command hearthd runs the Hearth kernel: it seeds apps from the
// manifest directory, drives the frame loop at the configured rate,
// and serves the status surface over HTTP.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hearth-engine/hearth/internal/app"
	"github.com/hearth-engine/hearth/internal/infrastructure/config"
	"github.com/hearth-engine/hearth/internal/infrastructure/logging"
	"github.com/hearth-engine/hearth/internal/kernel"
	"github.com/hearth-engine/hearth/internal/server"
)

func main() {
	cfg := config.LoadOrDefault()
	log := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	defer log.Sync()

	k := kernel.New(cfg, nil, log)

	if path := cfg.Kernel.SnapshotPath; path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.RestoreSnapshot(path); err != nil {
				log.Warn("snapshot restore failed", zap.Error(err))
			}
		}
	}

	seeder := app.NewSeeder(k.Apps(), cfg.Kernel.AppsDir, log)
	if err := seeder.SeedApps(); err != nil {
		log.Warn("app seeding failed", zap.Error(err))
	}

	if err := k.Start(); err != nil {
		log.Fatal("kernel start failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Kernel.HotReload {
		go func() {
			if err := seeder.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("manifest watcher stopped", zap.Error(err))
			}
		}()
	}

	srv := server.New(cfg, k, log)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errCh <- err
		}
	}()

	go runFrames(ctx, cancel, k, cfg, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server failed", zap.Error(err))
	case <-ctx.Done():
		log.Error("kernel requested emergency shutdown")
	}
	cancel()

	if path := cfg.Kernel.SnapshotPath; path != "" {
		if err := k.SaveSnapshot(path); err != nil {
			log.Warn("snapshot save failed", zap.Error(err))
		}
	}
	k.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown failed", zap.Error(err))
	}
}

// runFrames drives the kernel at the configured frame rate until ctx
// is done. A paused kernel skips frames without advancing the counter.
func runFrames(ctx context.Context, cancel context.CancelFunc, k *kernel.Kernel, cfg *config.Config, log *zap.Logger) {
	interval := time.Second / time.Duration(cfg.Kernel.TargetFPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now

			if _, err := k.Step(ctx, dt); err != nil {
				if errors.Is(err, kernel.ErrNotRunning) {
					continue
				}
				log.Error("frame failed", zap.Error(err))
				return
			}

			if k.NeedsEmergencyShutdown() {
				log.Error("health is dead and recovery exhausted")
				cancel()
				return
			}
		}
	}
}
