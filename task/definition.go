// Package task models cells of work and their lifecycle.
//
// A Definition describes what to ask; a State records what happened the last
// time it ran against one target. States change only through Reduce and
// Collection.Apply, which are pure and perform no I/O.
package task

import (
	"fmt"
	"strings"
)

// Kind distinguishes model-backed cells from cells a user fills in by hand.
type Kind string

const (
	KindModel  Kind = "model"
	KindManual Kind = "manual"
)

// ModelSelector names a configured model: Provider is the model block name
// and Name the model key (or API name) within it.
type ModelSelector struct {
	Provider string `json:"provider" yaml:"provider"`
	Name     string `json:"name" yaml:"name"`
}

func (m ModelSelector) String() string {
	if m.Provider == "" {
		return m.Name
	}
	return m.Provider + "." + m.Name
}

// IsZero reports whether no model was selected.
func (m ModelSelector) IsZero() bool {
	return m.Provider == "" && m.Name == ""
}

// ParseModelSelector parses "provider.name" (as written in plan files).
func ParseModelSelector(s string) (ModelSelector, error) {
	provider, name, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok || provider == "" || name == "" {
		return ModelSelector{}, fmt.Errorf("invalid model selector %q: want provider.model", s)
	}
	return ModelSelector{Provider: provider, Name: name}, nil
}

// Definition is one unit of work. Treat it as immutable: the With* methods
// return modified copies that keep the same ID.
type Definition struct {
	ID             string        `json:"id" yaml:"id"`
	Name           string        `json:"name,omitempty" yaml:"name,omitempty"`
	Prompt         string        `json:"prompt" yaml:"prompt"`
	Model          ModelSelector `json:"model" yaml:"model"`
	Temperature    float64       `json:"temperature" yaml:"temperature"`
	MaxTokens      int           `json:"max_tokens" yaml:"max_tokens"`
	ThinkingBudget int           `json:"thinking_budget,omitempty" yaml:"thinking_budget,omitempty"`
	Tools          []string      `json:"tools,omitempty" yaml:"tools,omitempty"`
	Shape          OutputShape   `json:"shape" yaml:"shape"`
	Kind           Kind          `json:"kind" yaml:"kind"`
	// Filter selects the targets this task applies to. The zero filter
	// matches every target.
	Filter TargetFilter `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// Normalize returns a copy with defaults filled in and the tool list
// de-duplicated in first-seen order.
func (d Definition) Normalize() Definition {
	out := d.clone()
	if out.Kind == "" {
		out.Kind = KindModel
	}
	if out.Shape.Kind == "" {
		out.Shape.Kind = ShapeText
	}
	if out.Name == "" {
		out.Name = out.ID
	}
	out.Tools = dedupe(out.Tools)
	return out
}

// Validate checks the fields a runnable definition needs.
func (d Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("task definition has no id")
	}
	if err := d.Shape.Validate(); err != nil {
		return fmt.Errorf("task '%s': %w", d.ID, err)
	}
	switch d.Kind {
	case KindManual:
		return nil
	case KindModel, "":
	default:
		return fmt.Errorf("task '%s': unknown kind %q", d.ID, d.Kind)
	}
	if strings.TrimSpace(d.Prompt) == "" {
		return fmt.Errorf("task '%s': prompt is required", d.ID)
	}
	if d.Model.IsZero() {
		return fmt.Errorf("task '%s': model is required", d.ID)
	}
	if d.MaxTokens < 0 {
		return fmt.Errorf("task '%s': max_tokens must not be negative", d.ID)
	}
	return nil
}

// IsManual reports whether the cell is filled in by a user.
func (d Definition) IsManual() bool {
	return d.Kind == KindManual
}

// Label is the display name, falling back to the ID.
func (d Definition) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

func (d Definition) WithPrompt(prompt string) Definition {
	out := d.clone()
	out.Prompt = prompt
	return out
}

func (d Definition) WithModel(m ModelSelector) Definition {
	out := d.clone()
	out.Model = m
	return out
}

func (d Definition) WithShape(s OutputShape) Definition {
	out := d.clone()
	out.Shape = s.clone()
	return out
}

func (d Definition) WithTools(tools ...string) Definition {
	out := d.clone()
	out.Tools = dedupe(tools)
	return out
}

func (d Definition) WithFilter(f TargetFilter) Definition {
	out := d.clone()
	out.Filter = f.clone()
	return out
}

func (d Definition) clone() Definition {
	out := d
	out.Tools = append([]string(nil), d.Tools...)
	out.Shape = d.Shape.clone()
	out.Filter = d.Filter.clone()
	return out
}

func dedupe(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
