// Package config loads ghlcrypt settings from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	KeyFile  string `env:"GHLCRYPT_KEYFILE" envDefault:"keys.json"`
	Game     string `env:"GHLCRYPT_GAME" envDefault:"GHL"`
	LogLevel string `env:"GHLCRYPT_LOG_LEVEL" envDefault:"info"`
	Trace    bool   `env:"GHLCRYPT_TRACE"`
	Workers  int    `env:"GHLCRYPT_WORKERS" envDefault:"4"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("parse env: GHLCRYPT_WORKERS must be positive, got %d", cfg.Workers)
	}
	return &cfg, nil
}

// ApplyLogging sets the global logrus level from LogLevel.
func (c *Config) ApplyLogging() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)
	return nil
}
