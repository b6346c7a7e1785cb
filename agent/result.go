package agent

import (
	"strings"
	"time"
	"unicode/utf8"

	"cellgrid/llm"
	"cellgrid/sanitize"
	"cellgrid/task"
)

// degradedResultLen is how much raw text a degraded result keeps.
const degradedResultLen = 50

// ToolCallRecord is one tool call made during a run.
type ToolCallRecord struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Args      map[string]any `json:"args,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	Iteration int            `json:"iteration"`
}

// ExecutionResult is the outcome of one agent run.
type ExecutionResult struct {
	Value       task.Value
	Result      string
	Explanation string
	Source      string
	// Raw is the unparsed answer text.
	Raw        string
	Usage      llm.Usage
	Latency    time.Duration
	ToolCalls  []ToolCallRecord
	Iterations int
	// Degraded is set when the answer could not be parsed and the result
	// fell back to a prefix of the raw text.
	Degraded bool
	// CapReached is set when the model was still calling tools when the
	// iteration cap forced a final answer.
	CapReached bool
}

// Outcome converts the result into the payload of a Complete event.
func (r *ExecutionResult) Outcome() task.Outcome {
	return task.Outcome{
		Value:       r.Value,
		Result:      r.Result,
		Explanation: r.Explanation,
		Source:      r.Source,
		Usage:       task.Usage{InputTokens: r.Usage.InputTokens, OutputTokens: r.Usage.OutputTokens},
		Latency:     r.Latency,
		Degraded:    r.Degraded,
	}
}

// interpret fills the answer fields of r from the model's final text.
func (r *ExecutionResult) interpret(shape task.OutputShape, answer string) error {
	r.Raw = answer

	value, explanation, source, err := decodeAnswer(shape, answer)
	if err != nil {
		r.Degraded = true
		r.Value = nil
		r.Result = truncate(strings.TrimSpace(answer), degradedResultLen)
		r.Explanation = answer
		return err
	}

	r.Value = value
	r.Result = value.String()
	r.Explanation = explanation
	r.Source = source
	return nil
}

// decodeAnswer reads {"answer", "explanation", "source"} from the model's
// reply. A reply that is valid JSON but not in that envelope is taken as the
// answer itself.
func decodeAnswer(shape task.OutputShape, text string) (task.Value, string, string, error) {
	parsed, err := sanitize.Sanitize(text)
	if err != nil {
		return nil, "", "", err
	}

	answer := parsed
	var explanation, source string
	if obj, ok := parsed.(map[string]any); ok {
		if a, has := obj["answer"]; has {
			answer = a
			explanation, _ = obj["explanation"].(string)
			source, _ = obj["source"].(string)
		}
	}

	v, err := task.Decode(shape, answer)
	if err != nil {
		return nil, "", "", err
	}
	return v, explanation, source, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
