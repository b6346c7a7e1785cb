package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"cellgrid/aitools"
)

// PluginTool exposes one plugin tool through the aitools.Tool interface
type PluginTool struct {
	provider ToolProvider
	info     *ToolInfo
}

func NewPluginTool(provider ToolProvider, info *ToolInfo) *PluginTool {
	return &PluginTool{
		provider: provider,
		info:     info,
	}
}

func (t *PluginTool) ToolName() string {
	return t.info.Name
}

func (t *PluginTool) ToolDescription() string {
	return t.info.Description
}

func (t *PluginTool) ToolPayloadSchema() aitools.Schema {
	return t.info.Schema
}

type callResult struct {
	out string
	err error
}

// Call sends args to the plugin as JSON. A JSON reply is passed through
// unchanged; anything else is returned as a string. The RPC itself cannot be
// interrupted, so a cancelled ctx only stops the wait.
func (t *PluginTool) Call(ctx context.Context, args map[string]any, _ aitools.ToolContext) (any, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}

	done := make(chan callResult, 1)
	go func() {
		out, err := t.provider.Call(t.info.Name, string(payload))
		done <- callResult{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if json.Valid([]byte(r.out)) {
			return json.RawMessage(r.out), nil
		}
		return r.out, nil
	}
}
