package config

import (
	"time"
)

type Config struct {
	Queue     QueueConfig     `mapstructure:"queue"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type QueueConfig struct {
	// Path to the SQLite file holding pending changes. Must be on durable
	// storage so the queue survives a restart.
	Path string `mapstructure:"path"`
}

type RemoteConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	HealthPath string        `mapstructure:"health_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	Interval  time.Duration `mapstructure:"interval"`
	// MaxRetries is the per-item attempt budget before an item is
	// dead-lettered. 0 retries forever.
	MaxRetries int `mapstructure:"max_retries"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	// FailureWindow is the rolling interval within which consecutive
	// failures must occur to trip the breaker.
	FailureWindow time.Duration `mapstructure:"failure_window"`
}

type ReconnectConfig struct {
	InitialDelay       time.Duration `mapstructure:"initial_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	BackoffFactor      float64       `mapstructure:"backoff_factor"`
	JitterFraction     float64       `mapstructure:"jitter_fraction"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	ResetInterval      time.Duration `mapstructure:"reset_interval"`
	StabilizationDelay time.Duration `mapstructure:"stabilization_delay"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	AuthToken    string        `mapstructure:"auth_token"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CorsOrigins  []string      `mapstructure:"cors_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
