// Package config loads host configuration from environment variables.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all host configuration.
type Config struct {
	Kernel    KernelConfig
	Server    ServerConfig
	Logging   LogConfig
	Watchdog  WatchdogConfig
	RateLimit RateLimitConfig
}

// KernelConfig tunes the frame loop and resource ceilings.
type KernelConfig struct {
	TargetFPS      int     `envconfig:"TARGET_FPS" default:"60"`
	FixedTimestep  float64 `envconfig:"FIXED_TIMESTEP" default:"0.016666"`
	MaxDeltaTime   float64 `envconfig:"MAX_DELTA_TIME" default:"0.1"`
	HotReload      bool    `envconfig:"HOT_RELOAD" default:"true"`
	RollbackFrames int     `envconfig:"ROLLBACK_FRAMES" default:"8"`
	MaxApps        int     `envconfig:"MAX_APPS" default:"32"`
	MaxLayers      int     `envconfig:"MAX_LAYERS" default:"256"`
	MaxRestarts    int     `envconfig:"MAX_RESTARTS" default:"3"`
	QueueDepth     int     `envconfig:"QUEUE_DEPTH" default:"256"`
	AppsDir        string  `envconfig:"APPS_DIR" default:"./apps"`
	SnapshotPath   string  `envconfig:"SNAPSHOT_PATH" default:""`
}

// ServerConfig holds the status HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8700"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// WatchdogConfig holds liveness monitoring configuration.
type WatchdogConfig struct {
	Enabled            bool  `envconfig:"WATCHDOG_ENABLED" default:"true"`
	HeartbeatTimeoutMs int64 `envconfig:"WATCHDOG_TIMEOUT_MS" default:"500"`
	CheckIntervalMs    int64 `envconfig:"WATCHDOG_INTERVAL_MS" default:"100"`
}

// RateLimitConfig holds HTTP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("HEARTH", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects configurations the kernel cannot run with.
func (c *Config) Validate() error {
	if c.Kernel.TargetFPS <= 0 {
		return fmt.Errorf("target_fps must be positive, got %d", c.Kernel.TargetFPS)
	}
	if c.Kernel.FixedTimestep <= 0 {
		return fmt.Errorf("fixed_timestep must be positive, got %f", c.Kernel.FixedTimestep)
	}
	if c.Kernel.MaxDeltaTime <= 0 {
		return fmt.Errorf("max_delta_time must be positive, got %f", c.Kernel.MaxDeltaTime)
	}
	if c.Kernel.RollbackFrames <= 0 {
		return fmt.Errorf("rollback_frames must be positive, got %d", c.Kernel.RollbackFrames)
	}
	if c.Kernel.MaxApps <= 0 {
		return fmt.Errorf("max_apps must be positive, got %d", c.Kernel.MaxApps)
	}
	if c.Kernel.MaxLayers <= 0 {
		return fmt.Errorf("max_layers must be positive, got %d", c.Kernel.MaxLayers)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Kernel: KernelConfig{
			TargetFPS:      60,
			FixedTimestep:  1.0 / 60.0,
			MaxDeltaTime:   0.1,
			HotReload:      true,
			RollbackFrames: 8,
			MaxApps:        32,
			MaxLayers:      256,
			MaxRestarts:    3,
			QueueDepth:     256,
			AppsDir:        "./apps",
		},
		Server: ServerConfig{
			Port: "8700",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level: "info",
		},
		Watchdog: WatchdogConfig{
			Enabled:            true,
			HeartbeatTimeoutMs: 500,
			CheckIntervalMs:    100,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
