package task

import "slices"

// TargetSummary is the metadata the planner and filters see for one target
// (usually a document).
type TargetSummary struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// TargetFilter selects targets by id and/or type. Both lists are optional;
// when both are set a target must satisfy both.
type TargetFilter struct {
	IDs   []string `json:"ids,omitempty" yaml:"ids,omitempty"`
	Types []string `json:"types,omitempty" yaml:"types,omitempty"`
}

// IsZero reports whether the filter matches every target.
func (f TargetFilter) IsZero() bool {
	return len(f.IDs) == 0 && len(f.Types) == 0
}

func (f TargetFilter) Match(t TargetSummary) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, t.ID) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, t.Type) {
		return false
	}
	return true
}

// Select returns the targets matching f, preserving order.
func (f TargetFilter) Select(targets []TargetSummary) []TargetSummary {
	var out []TargetSummary
	for _, t := range targets {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

func (f TargetFilter) clone() TargetFilter {
	return TargetFilter{
		IDs:   append([]string(nil), f.IDs...),
		Types: append([]string(nil), f.Types...),
	}
}
