package config

import "fmt"

// StorageConfig defines where cell states are persisted
type StorageConfig struct {
	Backend string `hcl:"backend,optional"` // "memory", "sqlite" or "postgres"
	Path    string `hcl:"path,optional"`    // SQLite file path (default: ".cellgrid/store.db")
	DSN     string `hcl:"dsn,optional"`     // Postgres connection string
}

// Defaults fills in default values for unset fields
func (s *StorageConfig) Defaults() {
	if s.Backend == "" {
		s.Backend = "memory"
	}
	if s.Path == "" && s.Backend == "sqlite" {
		s.Path = ".cellgrid/store.db"
	}
}

func (s *StorageConfig) Validate() error {
	switch s.Backend {
	case "memory", "sqlite":
		return nil
	case "postgres":
		if s.DSN == "" {
			return fmt.Errorf("postgres backend needs a dsn")
		}
		return nil
	}
	return fmt.Errorf("unknown storage backend '%s' (expected 'memory', 'sqlite' or 'postgres')", s.Backend)
}
