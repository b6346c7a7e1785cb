package planner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"cellgrid/task"
)

// LoadFile reads a plan from a YAML or JSON file (by extension) and
// validates it.
func LoadFile(path string) (*task.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var plan task.Plan
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &plan)
	default:
		err = yaml.Unmarshal(data, &plan)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedPlan, path, err)
	}
	return &plan, nil
}

// SaveFile writes plan as YAML, or JSON when path ends in .json.
func SaveFile(path string, plan *task.Plan) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(plan, "", "  ")
	default:
		data, err = yaml.Marshal(plan)
	}
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadTargets reads a list of targets from a YAML or JSON file. Every target
// needs an id and ids must be unique.
func LoadTargets(path string) ([]task.TargetSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}

	var targets []task.TargetSummary
	if err := yaml.Unmarshal(data, &targets); err != nil {
		return nil, fmt.Errorf("failed to parse targets file %s: %w", path, err)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("targets file %s lists no targets", path)
	}
	seen := make(map[string]bool, len(targets))
	for i, t := range targets {
		if t.ID == "" {
			return nil, fmt.Errorf("target #%d has no id", i+1)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate target id '%s'", t.ID)
		}
		seen[t.ID] = true
	}
	return targets, nil
}
