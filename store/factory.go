package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cellgrid/config"
)

// NewStateStore creates a StateStore based on the storage configuration
func NewStateStore(ctx context.Context, cfg *config.StorageConfig) (StateStore, error) {
	if cfg == nil {
		return NewMemoryStore(), nil
	}

	switch cfg.Backend {
	case "sqlite":
		// Ensure directory exists
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage directory %s: %w", dir, err)
		}
		return NewSQLiteStore(cfg.Path)

	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN)

	case "memory", "":
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (expected 'memory', 'sqlite' or 'postgres')", cfg.Backend)
	}
}
