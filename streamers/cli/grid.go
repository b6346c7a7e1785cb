package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"

	"cellgrid/agent"
	"cellgrid/streamers"
	"cellgrid/task"
)

var (
	bold   = color.New(color.Bold)
	title  = color.New(color.Bold, color.FgCyan)
	ok     = color.New(color.FgGreen)
	failed = color.New(color.Bold, color.FgRed)
	warn   = color.New(color.FgYellow)
	gray   = color.New(color.FgHiBlack)
	tool   = color.New(color.FgMagenta)
)

// GridHandler implements streamers.GridHandler for terminal output. Rich
// text cells are rendered as markdown.
type GridHandler struct {
	mu       sync.Mutex
	out      io.Writer
	verbose  bool
	renderer *glamour.TermRenderer
}

var _ streamers.GridHandler = (*GridHandler)(nil)

// NewGridHandler writes to out (stdout when nil). With verbose set, tool
// calls and model turns are shown too.
func NewGridHandler(out io.Writer, verbose bool) *GridHandler {
	if out == nil {
		out = os.Stdout
	}
	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	return &GridHandler{out: out, verbose: verbose, renderer: renderer}
}

func (h *GridHandler) PlanReady(plan *task.Plan, targetCount int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	title.Fprintf(h.out, "\n=== Plan: %s ===\n", plan.Title)
	if plan.Description != "" {
		gray.Fprintf(h.out, "%s\n", plan.Description)
	}
	gray.Fprintf(h.out, "%d tasks over %d targets\n", plan.TaskCount(), targetCount)
	for _, g := range plan.Groups {
		bold.Fprintf(h.out, "\n%s\n", g.Name)
		for _, d := range g.Tasks {
			fmt.Fprintf(h.out, "  - %s ", d.Label())
			gray.Fprintf(h.out, "[%s, %s]\n", shapeLabel(d.Shape), modelLabel(d))
		}
	}
	fmt.Fprintln(h.out)
}

func (h *GridHandler) RunStarted(collectionID string, cellCount int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	title.Fprintf(h.out, "--- Running %d cells ---\n", cellCount)
	gray.Fprintf(h.out, "Collection: %s\n\n", collectionID)
}

func (h *GridHandler) CellStarted(key task.Key, def task.Definition, attempt int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	gray.Fprintf(h.out, "[%s] started", key)
	if attempt > 1 {
		gray.Fprintf(h.out, " (attempt %d)", attempt)
	}
	fmt.Fprintln(h.out)
}

func (h *GridHandler) CellActivity(key task.Key, activity string, data map[string]any) {
	if !h.verbose {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	switch activity {
	case agent.EventToolCall:
		if isErr, _ := data["is_error"].(bool); isErr {
			warn.Fprintf(h.out, "[%s] %v returned an error\n", key, data["tool"])
			return
		}
		tool.Fprintf(h.out, "[%s] called %v\n", key, data["tool"])
	case agent.EventModelTurn:
		gray.Fprintf(h.out, "[%s] turn %v, %v tool calls\n", key, data["iteration"], data["tool_calls"])
	case agent.EventDegraded:
		warn.Fprintf(h.out, "[%s] answer did not parse: %v\n", key, data["error"])
	}
}

func (h *GridHandler) CellCompleted(key task.Key, def task.Definition, state task.State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ok.Fprintf(h.out, "[%s] ", key)
	if def.Shape.Kind == task.ShapeRichText && h.renderer != nil {
		fmt.Fprintln(h.out)
		rendered, err := h.renderer.Render(state.Result)
		if err == nil {
			fmt.Fprint(h.out, rendered)
			return
		}
	}
	bold.Fprintf(h.out, "%s", truncate(state.Result, 120))
	if state.Degraded {
		warn.Fprintf(h.out, " (unparsed answer)")
	}
	fmt.Fprintln(h.out)
	if h.verbose && state.Explanation != "" {
		gray.Fprintf(h.out, "    %s\n", truncate(state.Explanation, 300))
	}
}

func (h *GridHandler) CellFailed(key task.Key, def task.Definition, errMsg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	failed.Fprintf(h.out, "[%s] FAILED: %s\n", key, errMsg)
}

func (h *GridHandler) Progress(p task.Progress) {
	if !h.verbose {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	gray.Fprintf(h.out, "    %d/%d done, %d running, %d errors\n", p.Complete+p.Error, p.Total, p.Running, p.Error)
}

func (h *GridHandler) RunFinished(collectionID string, s streamers.RunSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	title.Fprintf(h.out, "\n=== Run finished in %s ===\n", s.Elapsed.Round(1e6))
	ok.Fprintf(h.out, "Completed: %d", s.Completed)
	if s.Degraded > 0 {
		warn.Fprintf(h.out, " (%d unparsed)", s.Degraded)
	}
	fmt.Fprintln(h.out)
	if s.Failed > 0 {
		failed.Fprintf(h.out, "Failed: %d\n", s.Failed)
	}
	if len(s.TimedOut) > 0 {
		warn.Fprintf(h.out, "Still running at budget: %s\n", joinKeys(s.TimedOut))
	}
	if len(s.NotStarted) > 0 {
		warn.Fprintf(h.out, "Not started: %s\n", joinKeys(s.NotStarted))
	}
}

func shapeLabel(s task.OutputShape) string {
	if s.Kind == task.ShapeStatus && len(s.Labels) > 0 {
		return "status: " + strings.Join(s.Labels, "/")
	}
	if s.Kind == "" {
		return string(task.ShapeText)
	}
	return string(s.Kind)
}

func modelLabel(d task.Definition) string {
	if d.IsManual() {
		return "manual"
	}
	return d.Model.String()
}

func joinKeys(keys []task.Key) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
