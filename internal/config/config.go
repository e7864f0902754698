// Package config loads supervisor configuration from config.yaml,
// environment variables, and an optional env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the supervisor daemon configuration.
type Config struct {
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`

	NATS struct {
		URL            string        `mapstructure:"url"`
		MaxReconnects  int           `mapstructure:"max_reconnects"`
		ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	} `mapstructure:"nats"`

	Storage struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"storage"`

	Game struct {
		BaseURL string `mapstructure:"base_url"`
		Token   string `mapstructure:"token"`
	} `mapstructure:"game"`

	Supervisor struct {
		WorkerBinary         string        `mapstructure:"worker_binary"`
		AllowedWorkers       []string      `mapstructure:"allowed_workers"`
		MaxConcurrentWorkers int           `mapstructure:"max_concurrent_workers"`
		RetentionDays        int           `mapstructure:"retention_days"`
		DefaultCharacter     string        `mapstructure:"default_character"`
		EnvFile              string        `mapstructure:"env_file"`
		StatsInterval        time.Duration `mapstructure:"stats_interval"`
	} `mapstructure:"supervisor"`
}

// Load reads configuration. An env file, when given, is loaded first so its
// variables participate in the environment binding.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("storage.path", "tasks.db")
	v.SetDefault("game.base_url", "https://api.artifactsmmo.com")
	v.SetDefault("supervisor.worker_binary", "worker")
	v.SetDefault("supervisor.allowed_workers", []string{"gather", "fight", "deposit"})
	v.SetDefault("supervisor.max_concurrent_workers", 10)
	v.SetDefault("supervisor.retention_days", 7)
	v.SetDefault("supervisor.stats_interval", 30*time.Second)

	v.SetEnvPrefix("TASKS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Legacy environment names kept for operators.
	if raw := os.Getenv("MAX_CONCURRENT_WORKERS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_CONCURRENT_WORKERS: %w", err)
		}
		cfg.Supervisor.MaxConcurrentWorkers = n
	}
	if raw := os.Getenv("TASK_RETENTION_DAYS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid TASK_RETENTION_DAYS: %w", err)
		}
		cfg.Supervisor.RetentionDays = n
	}
	if token := os.Getenv("ARTIFACTS_TOKEN"); token != "" {
		cfg.Game.Token = token
	}

	return &cfg, nil
}
