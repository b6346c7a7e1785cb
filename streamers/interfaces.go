package streamers

import (
	"time"

	"cellgrid/task"
)

// GridHandler receives the progress of a collection run. Implementations
// render it for a terminal, a socket or a log.
type GridHandler interface {
	// PlanReady is called once the planner has produced a plan
	PlanReady(plan *task.Plan, targetCount int)

	// RunStarted is called before any cell of a run is submitted
	RunStarted(collectionID string, cellCount int)

	// CellStarted is called when a cell is admitted by its limiter
	CellStarted(key task.Key, def task.Definition, attempt int)

	// CellActivity reports a model turn or tool call inside a running cell
	CellActivity(key task.Key, activity string, data map[string]any)

	// CellCompleted is called when a cell produces an answer
	CellCompleted(key task.Key, def task.Definition, state task.State)

	// CellFailed is called when a cell ends in error
	CellFailed(key task.Key, def task.Definition, errMsg string)

	// Progress is called after every transition
	Progress(p task.Progress)

	// RunFinished is called when the run returns
	RunFinished(collectionID string, summary RunSummary)
}

// RunSummary is what a handler learns when a run returns.
type RunSummary struct {
	Completed  int
	Failed     int
	Degraded   int
	TimedOut   []task.Key
	NotStarted []task.Key
	Elapsed    time.Duration
}

// NopGridHandler ignores every event. Embed it to implement a subset.
type NopGridHandler struct{}

func (NopGridHandler) PlanReady(*task.Plan, int)                           {}
func (NopGridHandler) RunStarted(string, int)                              {}
func (NopGridHandler) CellStarted(task.Key, task.Definition, int)          {}
func (NopGridHandler) CellActivity(task.Key, string, map[string]any)       {}
func (NopGridHandler) CellCompleted(task.Key, task.Definition, task.State) {}
func (NopGridHandler) CellFailed(task.Key, task.Definition, string)        {}
func (NopGridHandler) Progress(task.Progress)                              {}
func (NopGridHandler) RunFinished(string, RunSummary)                      {}
