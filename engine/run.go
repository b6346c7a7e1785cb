package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"cellgrid/agent"
	"cellgrid/aitools"
	"cellgrid/scheduler"
	"cellgrid/task"
)

// RunReport summarizes one RunPlan call. Cells finishing after the budget
// are not counted in Completed or Failed.
type RunReport struct {
	CollectionID string        `json:"collection_id"`
	Started      int           `json:"started"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	Degraded     int           `json:"degraded"`
	TimedOut     []task.Key    `json:"timed_out,omitempty"`
	NotStarted   []task.Key    `json:"not_started,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
	Progress     task.Progress `json:"progress"`
}

// BudgetExceeded reports whether the budget expired with cells unfinished.
func (r *RunReport) BudgetExceeded() bool {
	return len(r.TimedOut) > 0 || len(r.NotStarted) > 0
}

func (e *Engine) limiterFor(def task.Definition) *scheduler.Limiter {
	if def.Shape.Kind == task.ShapeRichText {
		return e.sections
	}
	return e.cells
}

// RunTask runs def against target through the matching limiter and records
// the outcome. ctx bounds both the queue wait and the run. The returned
// error is also recorded as a Fail, except when the cell never started.
func (e *Engine) RunTask(ctx context.Context, collectionID string, def task.Definition, target task.TargetSummary) (*agent.ExecutionResult, error) {
	if err := e.checkRunnable(collectionID, def, target); err != nil {
		return nil, err
	}

	started := false
	res, err := e.runCell(ctx, ctx, collectionID, def, target, func() { started = true })
	if err != nil && !started && errors.Is(err, scheduler.ErrLimiterTimeout) && ctx.Err() == nil {
		// The limiter's own queue timeout gave up on the cell.
		key := task.Key{Target: target.ID, TaskID: def.ID}
		e.apply(collectionID, task.Fail{Key: key, Err: err.Error(), At: time.Now()})
	}
	return res, err
}

// Retry reruns a cell with its current definition.
func (e *Engine) Retry(ctx context.Context, collectionID string, key task.Key) (*agent.ExecutionResult, error) {
	c, ok := e.Collection(collectionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collectionID)
	}
	def, ok := c.Task(key.TaskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCell, key)
	}
	target, ok := c.Target(key.Target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCell, key)
	}
	e.logger.Debug("retrying cell", "collection", collectionID, "cell", key.String())
	return e.RunTask(ctx, collectionID, def, target)
}

func (e *Engine) checkRunnable(collectionID string, def task.Definition, target task.TargetSummary) error {
	if e.baseCtx.Err() != nil {
		return ErrClosed
	}
	if def.IsManual() {
		return fmt.Errorf("%w: %s", ErrManualTask, def.ID)
	}
	c, ok := e.Collection(collectionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, collectionID)
	}
	key := task.Key{Target: target.ID, TaskID: def.ID}
	st, ok := c.State(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCell, key)
	}
	if st.Status == task.StatusRunning {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, key)
	}
	return nil
}

// runCell waits for a slot under queueCtx, marks the cell running and runs
// it under runCtx. admitted is called once the cell is marked running.
func (e *Engine) runCell(queueCtx, runCtx context.Context, collectionID string, def task.Definition, target task.TargetSummary, admitted func()) (*agent.ExecutionResult, error) {
	key := task.Key{Target: target.ID, TaskID: def.ID}
	var res *agent.ExecutionResult
	err := e.limiterFor(def).Submit(queueCtx, func(context.Context) error {
		changed, err := e.apply(collectionID, task.MarkRunning{Key: key, At: time.Now()})
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			c, _ := e.Collection(collectionID)
			if _, ok := c.State(key); !ok {
				return fmt.Errorf("%w: %s", ErrUnknownCell, key)
			}
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, key)
		}
		if admitted != nil {
			admitted()
		}
		res, err = e.execute(runCtx, collectionID, def, target)
		return err
	})
	return res, err
}

// execute runs the agent and records Complete or Fail. Panics are caught
// and recorded as failures.
func (e *Engine) execute(ctx context.Context, collectionID string, def task.Definition, target task.TargetSummary) (*agent.ExecutionResult, error) {
	key := task.Key{Target: target.ID, TaskID: def.ID}
	logger := e.logger.With("collection", collectionID, "cell", key.String())
	tc := aitools.ToolContext{CollectionID: collectionID, Target: target}

	var (
		catcher panics.Catcher
		res     *agent.ExecutionResult
		err     error
	)
	catcher.Try(func() {
		res, err = e.exec.Run(ctx, def, tc)
	})
	if r := catcher.Recovered(); r != nil {
		logger.Error("cell panicked", "panic", r.Value, "stack", string(r.Stack))
		res, err = nil, fmt.Errorf("panic: %v", r.Value)
	}
	if err == nil && res == nil {
		err = fmt.Errorf("executor returned no result")
	}

	if err != nil {
		logger.Warn("cell failed", "error", err)
		e.apply(collectionID, task.Fail{Key: key, Err: err.Error(), At: time.Now()})
		return res, err
	}
	logger.Debug("cell complete", "result", res.Result, "iterations", res.Iterations, "degraded", res.Degraded)
	e.apply(collectionID, task.Complete{Key: key, Outcome: res.Outcome(), At: time.Now()})
	return res, nil
}

type cellRun struct {
	key    task.Key
	def    task.Definition
	target task.TargetSummary
}

// RunPlan runs every pending model cell of the collection and returns when
// all have finished or budget expires, whichever comes first. On expiry,
// admitted cells keep running (and are reported as TimedOut) while cells
// still waiting for a slot stay pending (NotStarted). A budget of zero uses
// the engine default.
func (e *Engine) RunPlan(ctx context.Context, collectionID string, budget time.Duration) (*RunReport, error) {
	if e.baseCtx.Err() != nil {
		return nil, ErrClosed
	}
	c, ok := e.Collection(collectionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collectionID)
	}
	if budget <= 0 {
		budget = e.runBudget
	}

	var cells []cellRun
	for _, k := range c.Keys() {
		st, _ := c.State(k)
		def, _ := c.Task(k.TaskID)
		if st.Status != task.StatusPending || def.IsManual() {
			continue
		}
		target, _ := c.Target(k.Target)
		cells = append(cells, cellRun{key: k, def: def, target: target})
	}

	start := time.Now()
	budgetCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	stop := context.AfterFunc(e.baseCtx, cancel)
	defer stop()

	e.logger.Info("run started", "collection", collectionID, "cells", len(cells), "budget", budget)

	var (
		mu                          sync.Mutex
		admitted                    = make(map[task.Key]bool)
		finished                    = make(map[task.Key]bool)
		completed, failed, degraded int
	)

	wg := conc.NewWaitGroup()
	for _, cell := range cells {
		e.wg.Add(1)
		wg.Go(func() {
			defer e.wg.Done()
			res, err := e.runCell(budgetCtx, e.baseCtx, collectionID, cell.def, cell.target, func() {
				mu.Lock()
				admitted[cell.key] = true
				mu.Unlock()
			})

			mu.Lock()
			defer mu.Unlock()
			if !admitted[cell.key] {
				return
			}
			finished[cell.key] = true
			switch {
			case err != nil:
				failed++
			case res.Degraded:
				completed++
				degraded++
			default:
				completed++
			}
		})
	}

	done := make(chan struct{})
	go func() {
		if r := wg.WaitAndRecover(); r != nil {
			e.logger.Error("run goroutine panicked", "collection", collectionID, "panic", r.Value, "stack", string(r.Stack))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-budgetCtx.Done():
	}

	mu.Lock()
	report := &RunReport{
		CollectionID: collectionID,
		Started:      len(admitted),
		Completed:    completed,
		Failed:       failed,
		Degraded:     degraded,
		Elapsed:      time.Since(start),
	}
	for _, cell := range cells {
		switch {
		case !admitted[cell.key]:
			report.NotStarted = append(report.NotStarted, cell.key)
		case !finished[cell.key]:
			report.TimedOut = append(report.TimedOut, cell.key)
		}
	}
	mu.Unlock()

	if p, err := e.Progress(collectionID); err == nil {
		report.Progress = p
	}

	e.logger.Info("run finished", "collection", collectionID,
		"completed", report.Completed, "failed", report.Failed,
		"timed_out", len(report.TimedOut), "not_started", len(report.NotStarted),
		"elapsed", report.Elapsed)

	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return report, err
	}
	return report, nil
}
