package config

import (
	"fmt"
	"time"
)

// PlannerConfig configures the planning call and the defaults planned tasks
// inherit.
type PlannerConfig struct {
	// Model runs the planning call (models.<block>.<key>)
	Model       string  `hcl:"model"`
	Temperature float64 `hcl:"temperature,optional"`
	MaxTokens   int     `hcl:"max_tokens,optional"`

	// DefaultModel is assigned to planned tasks that name none; defaults to Model
	DefaultModel    string  `hcl:"default_model,optional"`
	TaskTemperature float64 `hcl:"task_temperature,optional"`
	TaskMaxTokens   int     `hcl:"task_max_tokens,optional"`

	// CacheSize is how many plans are memoized (0 disables the cache)
	CacheSize int    `hcl:"cache_size,optional"`
	CacheTTL  string `hcl:"cache_ttl,optional"`
}

// Defaults fills in default values for unset fields
func (p *PlannerConfig) Defaults() {
	if p.DefaultModel == "" {
		p.DefaultModel = p.Model
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = 4096
	}
	if p.TaskMaxTokens == 0 {
		p.TaskMaxTokens = 1024
	}
}

func (p *PlannerConfig) Validate() error {
	if p.Model == "" {
		return fmt.Errorf("model is required")
	}
	if p.Temperature < 0 || p.TaskTemperature < 0 {
		return fmt.Errorf("temperature must not be negative")
	}
	if p.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative")
	}
	if _, err := p.TTL(); err != nil {
		return err
	}
	return nil
}

// TTL parses CacheTTL; zero keeps plans until evicted.
func (p *PlannerConfig) TTL() (time.Duration, error) {
	if p.CacheTTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.CacheTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid cache_ttl '%s': %w", p.CacheTTL, err)
	}
	return d, nil
}
