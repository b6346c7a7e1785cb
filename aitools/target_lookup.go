package aitools

import (
	"context"
	"fmt"

	"cellgrid/task"
)

// TargetSource resolves target ids. The engine implements it over a
// collection.
type TargetSource interface {
	LookupTarget(collectionID, targetID string) (task.TargetSummary, bool)
}

// TargetLookupTool returns metadata about a target in the current
// collection. With no id it describes the target the cell is bound to.
type TargetLookupTool struct {
	Source TargetSource
}

func (t *TargetLookupTool) ToolName() string {
	return "get_target"
}

func (t *TargetLookupTool) ToolDescription() string {
	return "Returns the id, name and type of a target (document) in the current collection. Omit id to describe the target this task is about."
}

func (t *TargetLookupTool) ToolPayloadSchema() Schema {
	return Schema{
		Type: TypeObject,
		Properties: PropertyMap{
			"id": {
				Type:        TypeString,
				Description: "Target id to look up",
			},
		},
	}
}

func (t *TargetLookupTool) Call(ctx context.Context, args map[string]any, tc ToolContext) (any, error) {
	id, _ := args["id"].(string)
	if id == "" {
		if tc.Target.ID == "" {
			return nil, fmt.Errorf("no target bound to this task")
		}
		return tc.Target, nil
	}
	if id == tc.Target.ID {
		return tc.Target, nil
	}
	if t.Source == nil {
		return ErrorResult("not found"), nil
	}
	target, ok := t.Source.LookupTarget(tc.CollectionID, id)
	if !ok {
		return ErrorResult("not found"), nil
	}
	return target, nil
}
