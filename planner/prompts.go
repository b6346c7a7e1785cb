package planner

import (
	_ "embed"
	"fmt"
	"strings"

	"cellgrid/llm"
	"cellgrid/task"
)

//go:embed plan_system.md
var systemPromptTemplate string

// maxPromptTargets bounds how many targets are listed in the request.
const maxPromptTargets = 200

func systemPrompt(models []llm.ModelInfo, def task.ModelSelector, tools []llm.ToolDefinition) string {
	prompt := systemPromptTemplate
	prompt = strings.Replace(prompt, "{{MODELS}}", formatModels(models, def), 1)
	prompt = strings.Replace(prompt, "{{TOOLS}}", formatTools(tools), 1)
	return prompt
}

func formatModels(models []llm.ModelInfo, def task.ModelSelector) string {
	var sb strings.Builder
	sb.WriteString("## Models\n\n")
	fmt.Fprintf(&sb, "Omit `model` to use the default (%s).", def)
	if len(models) > 0 {
		sb.WriteString(" Available:\n\n")
		for _, m := range models {
			fmt.Fprintf(&sb, "- %s.%s\n", m.Provider, m.Key)
		}
	} else {
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatTools(tools []llm.ToolDefinition) string {
	if len(tools) == 0 {
		return "## Tools\n\nNo tools are available. Leave `tools` empty.\n"
	}
	var sb strings.Builder
	sb.WriteString("## Tools\n\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "- `%s`: %s\n", t.Name, t.Description)
	}
	return sb.String()
}

func userPrompt(request string, targets []task.TargetSummary) string {
	var sb strings.Builder
	sb.WriteString("Request:\n")
	sb.WriteString(strings.TrimSpace(request))
	sb.WriteString("\n\nTargets:\n")
	if len(targets) == 0 {
		sb.WriteString("(none yet)\n")
	}
	for i, t := range targets {
		if i == maxPromptTargets {
			fmt.Fprintf(&sb, "... (%d more)\n", len(targets)-i)
			break
		}
		fmt.Fprintf(&sb, "- %s", t.ID)
		if t.Name != "" {
			fmt.Fprintf(&sb, " %q", t.Name)
		}
		if t.Type != "" {
			fmt.Fprintf(&sb, " [%s]", t.Type)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
