package config

import (
	"fmt"
	"time"
)

// EngineConfig tunes how cells run
type EngineConfig struct {
	// IterationCap bounds model calls per cell (1..10, default 5)
	IterationCap int `hcl:"iteration_cap,optional"`
	// RunBudget is the default wall-clock budget of a full run ("15m")
	RunBudget string `hcl:"run_budget,optional"`
	// TurnLogDir enables per-cell conversation logs
	TurnLogDir string `hcl:"turn_log_dir,optional"`
	// HTTPTool registers the built-in http_get tool
	HTTPTool bool `hcl:"http_tool,optional"`
}

// Defaults fills in default values for unset fields
func (e *EngineConfig) Defaults() {
	if e.IterationCap == 0 {
		e.IterationCap = 5
	}
	if e.RunBudget == "" {
		e.RunBudget = "15m"
	}
}

func (e *EngineConfig) Validate() error {
	if e.IterationCap < 1 || e.IterationCap > 10 {
		return fmt.Errorf("iteration_cap must be between 1 and 10, got %d", e.IterationCap)
	}
	if _, err := e.Budget(); err != nil {
		return err
	}
	return nil
}

// Budget parses RunBudget.
func (e *EngineConfig) Budget() (time.Duration, error) {
	d, err := time.ParseDuration(e.RunBudget)
	if err != nil {
		return 0, fmt.Errorf("invalid run_budget '%s': %w", e.RunBudget, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("run_budget must be positive")
	}
	return d, nil
}
