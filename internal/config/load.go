package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Load reads the configuration from an optional .env file and the process
// environment. Environment variables win over the file.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error
	if _, statErr := os.Stat(".env"); statErr == nil {
		err = cleanenv.ReadConfig(".env", cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.Presence = cfg.Presence.Normalize()
	if cfg.Notify.Backend != "nats" && cfg.Notify.Backend != "redis" {
		return nil, fmt.Errorf("NOTIFY_BACKEND must be one of nats or redis, got %q", cfg.Notify.Backend)
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}
