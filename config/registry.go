package config

import (
	"context"
	"fmt"

	"cellgrid/llm"
)

// ModelRegistry creates a provider client per model block.
func (c *Config) ModelRegistry(ctx context.Context) (*llm.Registry, error) {
	reg := llm.NewRegistry()
	for _, m := range c.Models {
		p, err := llm.NewProvider(ctx, string(m.Provider), m.APIKey)
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("model '%s': %w", m.Name, err)
		}
		reg.Register(m.Name, p, m.APIModels())
	}
	return reg, nil
}
