package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	BackendURL            string `mapstructure:"backend_url"`
	APIToken              string `mapstructure:"api_token"`
	DaemonPort            int    `mapstructure:"daemon_port"`
	DBPath                string `mapstructure:"db_path"`
	WatchlistPath         string `mapstructure:"watchlist_path"`
	ReconcileDelaySeconds int    `mapstructure:"reconcile_delay_seconds"`

	StreamRetryMaxElapsedSeconds int `mapstructure:"stream_retry_max_elapsed_seconds"`
}

var Default = Config{
	BackendURL:            "http://localhost:8001",
	DaemonPort:            9010,
	DBPath:                "syncdash.db",
	WatchlistPath:         "watchlist",
	ReconcileDelaySeconds: 1,

	StreamRetryMaxElapsedSeconds: 60,
}

func (c *Config) ReconcileDelay() time.Duration {
	return time.Duration(c.ReconcileDelaySeconds) * time.Second
}

func (c *Config) StreamRetryMaxElapsed() time.Duration {
	return time.Duration(c.StreamRetryMaxElapsedSeconds) * time.Second
}

func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home dir: %w", err)
	}

	configDir := filepath.Join(home, ".syncdash")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)

	viper.SetDefault("backend_url", Default.BackendURL)
	viper.SetDefault("api_token", Default.APIToken)
	viper.SetDefault("daemon_port", Default.DaemonPort)
	viper.SetDefault("db_path", Default.DBPath)
	viper.SetDefault("watchlist_path", filepath.Join(configDir, Default.WatchlistPath))
	viper.SetDefault("reconcile_delay_seconds", Default.ReconcileDelaySeconds)
	viper.SetDefault("stream_retry_max_elapsed_seconds", Default.StreamRetryMaxElapsedSeconds)

	viper.SetEnvPrefix("SYNCDASH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := errors.AsType[viper.ConfigFileNotFoundError](err); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
