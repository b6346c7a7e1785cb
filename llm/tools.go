package llm

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// parseToolCall decodes provider-supplied JSON arguments. Arguments that do
// not parse are kept in RawArgs so the tool can report the problem.
func parseToolCall(id, name, rawArgs string) ToolCall {
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	tc := ToolCall{ID: id, Name: name, RawArgs: rawArgs}
	if strings.TrimSpace(rawArgs) == "" {
		tc.Args = map[string]any{}
		return tc
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err == nil {
		tc.Args = args
	}
	return tc
}

// encodeArgs renders tool call arguments as a JSON string.
func encodeArgs(tc ToolCall) string {
	if tc.Args == nil && tc.RawArgs != "" {
		return tc.RawArgs
	}
	if tc.Args == nil {
		return "{}"
	}
	b, err := json.Marshal(tc.Args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// requiredFields reads the "required" list of a JSON schema object built
// either in Go ([]string) or decoded from JSON ([]any).
func requiredFields(schema map[string]any) []string {
	switch r := schema["required"].(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, v := range r {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// schemaParameters returns a complete JSON schema object for a tool.
func schemaParameters(t ToolDefinition) map[string]any {
	if t.Parameters != nil {
		if _, ok := t.Parameters["type"]; ok {
			return t.Parameters
		}
	}
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	for k, v := range t.Parameters {
		params[k] = v
	}
	return params
}
