package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Detector DetectorConfig `mapstructure:"detector"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig represents the HTTP ingestion server configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig represents the verdict store configuration
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	VerdictTTL   time.Duration `mapstructure:"verdict_ttl"`   // How long the latest verdict per key is kept
	HistoryLimit int64         `mapstructure:"history_limit"` // Anomalies kept per subject
}

// DetectorConfig represents the sliding-window anomaly detector configuration.
// Both values are fixed for the lifetime of the process.
type DetectorConfig struct {
	WindowSize int     `mapstructure:"window_size"`
	ZThreshold float64 `mapstructure:"z_threshold"`
}

// EngineConfig represents the analytics worker pool configuration
type EngineConfig struct {
	Workers   int `mapstructure:"workers"`    // 0 means 2 x NumCPU, clamped to [4, 16]
	QueueSize int `mapstructure:"queue_size"` // Total buffered readings across workers
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json | console
	OutputPath string `mapstructure:"output_path"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 {
		return errors.New("server timeouts must not be negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}

	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Redis.PoolSize <= 0 {
		return fmt.Errorf("redis.pool_size must be positive, got %d", c.Redis.PoolSize)
	}
	if c.Redis.VerdictTTL <= 0 {
		return fmt.Errorf("redis.verdict_ttl must be positive, got %s", c.Redis.VerdictTTL)
	}
	if c.Redis.HistoryLimit <= 0 {
		return fmt.Errorf("redis.history_limit must be positive, got %d", c.Redis.HistoryLimit)
	}

	if c.Detector.WindowSize < 2 {
		return fmt.Errorf("detector.window_size must be at least 2, got %d", c.Detector.WindowSize)
	}
	if c.Detector.ZThreshold <= 0 {
		return fmt.Errorf("detector.z_threshold must be positive, got %g", c.Detector.ZThreshold)
	}

	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must not be negative, got %d", c.Engine.Workers)
	}
	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be positive, got %d", c.Engine.QueueSize)
	}

	switch c.Logging.Format {
	case "json", "console", "pretty":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	return nil
}
