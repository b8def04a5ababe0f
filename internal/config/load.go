package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PROPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file falls back to defaults + env; a broken one is fatal.
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("queue.path", "propsync.db")

	v.SetDefault("remote.base_url", "http://localhost:8000")
	v.SetDefault("remote.health_path", "/health")
	v.SetDefault("remote.timeout", 10*time.Second)

	v.SetDefault("sync.batch_size", 20)
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.max_retries", 5)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown", 30*time.Second)
	v.SetDefault("breaker.failure_window", 60*time.Second)

	v.SetDefault("reconnect.initial_delay", time.Second)
	v.SetDefault("reconnect.max_delay", 60*time.Second)
	v.SetDefault("reconnect.backoff_factor", 2.0)
	v.SetDefault("reconnect.jitter_fraction", 0.25)
	v.SetDefault("reconnect.max_attempts", 0)
	v.SetDefault("reconnect.reset_interval", 5*time.Minute)
	v.SetDefault("reconnect.stabilization_delay", 2*time.Second)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
