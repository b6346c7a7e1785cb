package task

import (
	"errors"
	"fmt"
	"strings"
)

// Plan is the planner's output: groups of task definitions, each group
// scoped to the targets its filter selects.
type Plan struct {
	Title       string  `json:"title" yaml:"title"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Groups      []Group `json:"groups" yaml:"groups"`
}

type Group struct {
	Name   string       `json:"name" yaml:"name"`
	Filter TargetFilter `json:"filter,omitempty" yaml:"filter,omitempty"`
	Tasks  []Definition `json:"tasks" yaml:"tasks"`
}

// Definitions flattens the plan, stamping each definition with its group's
// filter.
func (p *Plan) Definitions() []Definition {
	var out []Definition
	for _, g := range p.Groups {
		for _, d := range g.Tasks {
			out = append(out, d.WithFilter(g.Filter).Normalize())
		}
	}
	return out
}

// TaskCount returns the number of task definitions across all groups.
func (p *Plan) TaskCount() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.Tasks)
	}
	return n
}

// Validate checks that the plan can populate a collection. Task IDs must be
// unique across the whole plan since cells are keyed by (target, task id).
func (p *Plan) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Title) == "" {
		errs = append(errs, fmt.Errorf("plan has no title"))
	}
	if p.TaskCount() == 0 {
		errs = append(errs, fmt.Errorf("plan has no tasks"))
	}

	seen := make(map[string]string)
	for gi, g := range p.Groups {
		groupName := g.Name
		if groupName == "" {
			groupName = fmt.Sprintf("#%d", gi+1)
		}
		for _, d := range g.Tasks {
			if d.ID == "" {
				errs = append(errs, fmt.Errorf("group '%s': task '%s' has no id", groupName, d.Label()))
				continue
			}
			if other, dup := seen[d.ID]; dup {
				errs = append(errs, fmt.Errorf("group '%s': duplicate task id '%s' (also in group '%s')", groupName, d.ID, other))
				continue
			}
			seen[d.ID] = groupName
			if err := d.Normalize().Validate(); err != nil {
				errs = append(errs, fmt.Errorf("group '%s': %w", groupName, err))
			}
		}
	}
	return errors.Join(errs...)
}
