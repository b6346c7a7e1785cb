package prompts

import (
	_ "embed"
	"fmt"
	"strings"

	"cellgrid/llm"
	"cellgrid/task"
)

//go:embed cell.md
var cellPromptTemplate string

//go:embed final_turn.md
var finalTurnPrompt string

// GetCellPrompt returns the system prompt for one cell with its tools and
// answer shape injected.
func GetCellPrompt(shape task.OutputShape, tools []llm.ToolDefinition) string {
	prompt := cellPromptTemplate
	prompt = strings.Replace(prompt, "{{TOOLS}}", formatTools(tools), 1)
	prompt = strings.Replace(prompt, "{{SHAPE}}", shapeInstructions(shape), 1)
	return prompt
}

// GetTaskPrompt returns the first user message of a cell's conversation.
func GetTaskPrompt(def task.Definition, target task.TargetSummary) string {
	var sb strings.Builder
	sb.WriteString("## Target\n\n")
	fmt.Fprintf(&sb, "- id: %s\n", target.ID)
	if target.Name != "" {
		fmt.Fprintf(&sb, "- name: %s\n", target.Name)
	}
	if target.Type != "" {
		fmt.Fprintf(&sb, "- type: %s\n", target.Type)
	}
	sb.WriteString("\n## Question\n\n")
	sb.WriteString(strings.TrimSpace(def.Prompt))
	sb.WriteString("\n")
	return sb.String()
}

// GetFinalTurnPrompt is appended before the last allowed model call.
func GetFinalTurnPrompt() string {
	return strings.TrimSpace(finalTurnPrompt)
}

func formatTools(tools []llm.ToolDefinition) string {
	if len(tools) == 0 {
		return "You have no tools for this cell. Answer from the question and target details alone."
	}
	var sb strings.Builder
	sb.WriteString("## Tools\n\n")
	sb.WriteString("Call tools when you need information about the target. Tool errors come back as {\"error\": \"...\"}; adjust and try something else.\n\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "- `%s`: %s\n", t.Name, t.Description)
	}
	return sb.String()
}

func shapeInstructions(shape task.OutputShape) string {
	switch shape.Kind {
	case task.ShapeBoolean:
		return "ANSWER is `true` or `false`."
	case task.ShapeNumber:
		return "ANSWER is a JSON number with no units or thousands separators."
	case task.ShapeJSON:
		return "ANSWER is whatever JSON value (object, array or scalar) best captures the result."
	case task.ShapeRichText:
		return "ANSWER is a markdown string. Use headings, lists and tables where they help the reader. Escape newlines inside the JSON string."
	case task.ShapeStatus:
		quoted := make([]string, len(shape.Labels))
		for i, l := range shape.Labels {
			quoted[i] = fmt.Sprintf("%q", l)
		}
		return "ANSWER is exactly one of: " + strings.Join(quoted, ", ") + "."
	default:
		return "ANSWER is a short string, a few words at most."
	}
}
