package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis"`

	CarrierConfigPath string        `env:"CARRIER_CONFIG_PATH"`
	WebhookDedupeTTL  time.Duration `env:"WEBHOOK_DEDUPE_TTL" envDefault:"24h"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	if c.WebhookDedupeTTL <= 0 {
		return fmt.Errorf("WEBHOOK_DEDUPE_TTL must be positive")
	}

	if path := strings.TrimSpace(c.CarrierConfigPath); path != "" {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("CARRIER_CONFIG_PATH is not readable: %w", err)
		}
	}

	return nil
}
