// Package config loads service configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the alertpipe service.
type Config struct {
	// SQLitePath is the rule and statistics database file
	// (ALERTPIPE_SQLITE_PATH, default: ./data/alertpipe.db).
	SQLitePath string `mapstructure:"sqlite_path"`

	Redis struct {
		// Enabled switches the fingerprint tracker from in-memory to
		// Redis-backed.
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Server struct {
		ListenAddr      string        `mapstructure:"listen_addr"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Pipeline struct {
		// RegexBudget bounds a single regex match; exceeding it skips the
		// rule, never the alert.
		RegexBudget time.Duration `mapstructure:"regex_budget"`
		// ExpressionBudget bounds a single boolean-expression evaluation.
		ExpressionBudget time.Duration `mapstructure:"expression_budget"`
		// ObservationWindow bounds fingerprint uniqueness tracking.
		ObservationWindow time.Duration `mapstructure:"observation_window"`
		Workers           int           `mapstructure:"workers"`
		QueueSize         int           `mapstructure:"queue_size"`
	} `mapstructure:"pipeline"`

	Cache struct {
		MaxEntries int           `mapstructure:"max_entries"`
		TTL        time.Duration `mapstructure:"ttl"`
	} `mapstructure:"cache"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from the optional file path and the
// environment (ALERTPIPE_ prefix, dots become underscores).
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("sqlite_path", "./data/alertpipe.db")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("pipeline.regex_budget", 100*time.Millisecond)
	v.SetDefault("pipeline.expression_budget", 500*time.Millisecond)
	v.SetDefault("pipeline.observation_window", 24*time.Hour)
	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.queue_size", 1024)
	v.SetDefault("cache.max_entries", 4096)
	v.SetDefault("cache.ttl", 30*time.Minute)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("ALERTPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
