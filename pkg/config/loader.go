// Package config loads typed configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into the provided struct using `env`
// tags. Nested structs are walked, so a service can group its settings:
//
//	type Config struct {
//	    LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
//	    JWT      struct {
//	        Secret    string        `env:"JWT_SECRET,required"`
//	        AccessTTL time.Duration `env:"JWT_ACCESS_TTL" envDefault:"30m"`
//	    }
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment config: %w", err)
	}
	return nil
}
