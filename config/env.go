package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Env holds process-level overrides read from CELLGRID_* variables.
type Env struct {
	ConfigPath     string `envconfig:"CONFIG" default:"."`
	LogLevel       string `envconfig:"LOG_LEVEL"`
	LogJSON        *bool  `envconfig:"LOG_JSON"`
	Listen         string `envconfig:"LISTEN"`
	StorageBackend string `envconfig:"STORAGE_BACKEND"`
	StorageDSN     string `envconfig:"STORAGE_DSN"`
}

const namespace = "CELLGRID"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

// ApplyEnv overrides config values with the ones set in env.
func (c *Config) ApplyEnv(env *Env) {
	if env == nil {
		return
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.LogJSON != nil {
		c.Logging.JSON = *env.LogJSON
	}
	if env.Listen != "" {
		c.Server.Listen = env.Listen
	}
	if env.StorageBackend != "" {
		c.Storage.Backend = env.StorageBackend
		c.Storage.Defaults()
	}
	if env.StorageDSN != "" {
		c.Storage.DSN = env.StorageDSN
	}
}
