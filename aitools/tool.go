package aitools

import (
	"context"

	"cellgrid/task"
)

// ToolContext identifies the agent run a tool call belongs to.
type ToolContext struct {
	CollectionID   string
	ConversationID string
	Target         task.TargetSummary
}

// Tool defines the interface for AI agent tools
type Tool interface {
	// ToolName returns the name of the tool
	ToolName() string

	// ToolDescription returns a description of what the tool does
	ToolDescription() string

	// ToolPayloadSchema returns the JSON schema for the tool's input parameters
	ToolPayloadSchema() Schema

	// Call executes the tool. The result must be JSON-encodable; a string
	// result is passed to the model verbatim.
	Call(ctx context.Context, args map[string]any, tc ToolContext) (any, error)
}

// FuncTool adapts a function to the Tool interface.
type FuncTool struct {
	Name        string
	Description string
	Schema      Schema
	Fn          func(ctx context.Context, args map[string]any, tc ToolContext) (any, error)
}

func (t *FuncTool) ToolName() string          { return t.Name }
func (t *FuncTool) ToolDescription() string   { return t.Description }
func (t *FuncTool) ToolPayloadSchema() Schema { return t.Schema }

func (t *FuncTool) Call(ctx context.Context, args map[string]any, tc ToolContext) (any, error) {
	return t.Fn(ctx, args, tc)
}
