// Package engine wires the planner, the agent executor and the limiters to
// the task state machine. It is the only writer of collection state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"cellgrid/agent"
	"cellgrid/aitools"
	"cellgrid/scheduler"
	"cellgrid/store"
	"cellgrid/task"
)

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrUnknownCell       = errors.New("unknown cell")
	ErrAlreadyRunning    = errors.New("cell is already running")
	ErrManualTask        = errors.New("manual tasks are not run")
	ErrNotManual         = errors.New("only manual tasks can be edited")
	ErrNoPlanner         = errors.New("no planner configured")
	ErrClosed            = errors.New("engine is closed")
)

// DefaultRunBudget applies when RunPlan is called without a budget.
const DefaultRunBudget = 15 * time.Minute

// storeTimeout bounds each best-effort persistence call.
const storeTimeout = 5 * time.Second

// Executor runs one cell. *agent.Executor implements it.
type Executor interface {
	Run(ctx context.Context, def task.Definition, tc aitools.ToolContext) (*agent.ExecutionResult, error)
}

// Planner turns a request into a plan. *planner.Planner implements it.
type Planner interface {
	Plan(ctx context.Context, request string, targets []task.TargetSummary) (*task.Plan, error)
}

// ProgressFunc is called after every transition with the collection's
// progress. It must not modify the engine.
type ProgressFunc func(task.Progress)

type Options struct {
	Executor Executor
	Planner  Planner
	// Cells runs every shape except rich_text; Sections runs rich_text.
	// Sections falls back to Cells when nil.
	Cells    *scheduler.Limiter
	Sections *scheduler.Limiter
	Store    store.StateStore
	Bus      *Bus
	// RunBudget is the default RunPlan budget.
	RunBudget time.Duration
	Logger    hclog.Logger
}

type Engine struct {
	exec      Executor
	planner   Planner
	cells     *scheduler.Limiter
	sections  *scheduler.Limiter
	store     store.StateStore
	bus       *Bus
	runBudget time.Duration
	logger    hclog.Logger

	// pubMu orders persistence and notifications the same way as the
	// transitions they describe. It is always taken before mu.
	pubMu       sync.Mutex
	mu          sync.RWMutex
	collections map[string]*task.Collection
	// plans holds the plan each populated collection was built from.
	plans map[string]*task.Plan

	progressMu sync.RWMutex
	progress   map[int]ProgressFunc
	nextFn     int

	// runs admitted by RunPlan outlive the budget; Close cancels them.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(opts Options) (*Engine, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("engine needs an executor")
	}
	if opts.Cells == nil {
		return nil, fmt.Errorf("engine needs a cells limiter")
	}
	e := &Engine{
		exec:        opts.Executor,
		planner:     opts.Planner,
		cells:       opts.Cells,
		sections:    opts.Sections,
		store:       opts.Store,
		bus:         opts.Bus,
		runBudget:   opts.RunBudget,
		logger:      opts.Logger,
		collections: make(map[string]*task.Collection),
		plans:       make(map[string]*task.Plan),
		progress:    make(map[int]ProgressFunc),
	}
	if e.sections == nil {
		e.sections = e.cells
	}
	if e.logger == nil {
		e.logger = hclog.NewNullLogger()
	}
	e.logger = e.logger.Named("engine")
	if e.bus == nil {
		e.bus = NewBus(e.logger)
	}
	if e.runBudget <= 0 {
		e.runBudget = DefaultRunBudget
	}
	e.baseCtx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Bus returns the event bus transitions are published on.
func (e *Engine) Bus() *Bus {
	return e.bus
}

// Close cancels runs still in flight and waits for them to record their
// outcome. It does not close the store.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// OnProgress registers fn and returns a function that unregisters it.
func (e *Engine) OnProgress(fn ProgressFunc) func() {
	e.progressMu.Lock()
	id := e.nextFn
	e.nextFn++
	e.progress[id] = fn
	e.progressMu.Unlock()

	return func() {
		e.progressMu.Lock()
		delete(e.progress, id)
		e.progressMu.Unlock()
	}
}

// =============================================================================
// Reads
// =============================================================================

// Collection returns the current collection. The value is never mutated by
// the engine and can be read without locking.
func (e *Engine) Collection(id string) (*task.Collection, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.collections[id]
	return c, ok
}

// Collections returns the ids of every loaded collection.
func (e *Engine) Collections() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.collections))
	for id := range e.collections {
		ids = append(ids, id)
	}
	return ids
}

// GetState returns a copy of every cell state, or nil for an unknown
// collection.
func (e *Engine) GetState(collectionID string) map[task.Key]task.State {
	c, ok := e.Collection(collectionID)
	if !ok {
		return nil
	}
	return c.Snapshot()
}

// Progress returns the collection's progress counters.
func (e *Engine) Progress(collectionID string) (task.Progress, error) {
	c, ok := e.Collection(collectionID)
	if !ok {
		return task.Progress{}, fmt.Errorf("%w: %s", ErrUnknownCollection, collectionID)
	}
	return c.Progress(), nil
}

// LookupTarget implements aitools.TargetSource.
func (e *Engine) LookupTarget(collectionID, targetID string) (task.TargetSummary, bool) {
	c, ok := e.Collection(collectionID)
	if !ok {
		return task.TargetSummary{}, false
	}
	return c.Target(targetID)
}

// =============================================================================
// Structural changes
// =============================================================================

// CreateCollection registers an empty collection over targets. An empty id
// gets a generated one.
func (e *Engine) CreateCollection(id, title string, targets []task.TargetSummary) (*task.Collection, error) {
	if id == "" {
		id = uuid.NewString()
	}
	c := task.NewCollection(id, title)
	for _, t := range targets {
		c, _ = c.Apply(task.AddTarget{Target: t})
	}
	e.install(c)
	e.logger.Debug("collection created", "collection", id, "targets", len(c.Targets))
	return c, nil
}

// install registers c, replacing any collection with the same id, then
// persists and announces all of its cells.
func (e *Engine) install(c *task.Collection) {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()

	e.mu.Lock()
	e.collections[c.ID] = c
	// a hand-built collection has no plan; Populate records its own after.
	e.plans[c.ID] = nil
	e.mu.Unlock()

	e.persist(c, nil, nil)
	if keys := c.Keys(); len(keys) > 0 {
		e.announce(c, keys)
	}
}

// DeleteCollection forgets a collection. Stored data is kept.
func (e *Engine) DeleteCollection(id string) {
	e.mu.Lock()
	delete(e.collections, id)
	delete(e.plans, id)
	e.mu.Unlock()
}

func (e *Engine) AddTask(collectionID string, def task.Definition) error {
	if err := def.Normalize().Validate(); err != nil {
		return err
	}
	_, err := e.apply(collectionID, task.AddTask{Definition: def})
	return err
}

// UpdateTask replaces a definition; its non-manual cells go back to pending.
func (e *Engine) UpdateTask(collectionID string, def task.Definition) error {
	if err := def.Normalize().Validate(); err != nil {
		return err
	}
	c, ok := e.Collection(collectionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, collectionID)
	}
	if _, ok := c.Task(def.ID); !ok {
		return fmt.Errorf("%w: task %s", ErrUnknownCell, def.ID)
	}
	_, err := e.apply(collectionID, task.UpdateTaskDefinition{Definition: def})
	return err
}

func (e *Engine) RemoveTask(collectionID, taskID string) error {
	_, err := e.apply(collectionID, task.RemoveTask{TaskID: taskID})
	return err
}

func (e *Engine) AddTarget(collectionID string, target task.TargetSummary) error {
	_, err := e.apply(collectionID, task.AddTarget{Target: target})
	return err
}

func (e *Engine) RemoveTarget(collectionID, targetID string) error {
	_, err := e.apply(collectionID, task.RemoveTarget{TargetID: targetID})
	return err
}

// Edit sets the value of a manual cell.
func (e *Engine) Edit(collectionID string, key task.Key, value string) error {
	c, ok := e.Collection(collectionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, collectionID)
	}
	def, ok := c.Task(key.TaskID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCell, key)
	}
	if !def.IsManual() {
		return fmt.Errorf("%w: %s", ErrNotManual, key.TaskID)
	}
	if _, ok := c.State(key); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCell, key)
	}
	_, err := e.apply(collectionID, task.ManualEdit{Key: key, Value: value, At: time.Now()})
	return err
}

// =============================================================================
// Transitions
// =============================================================================

// apply runs ev through the collection reducer, then persists and announces
// the changed cells. It returns the keys that changed.
func (e *Engine) apply(collectionID string, ev task.Event) ([]task.Key, error) {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()

	e.mu.Lock()
	c, ok := e.collections[collectionID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collectionID)
	}
	next, changed := c.Apply(ev)
	e.collections[collectionID] = next
	e.mu.Unlock()

	if len(changed) == 0 {
		return nil, nil
	}
	e.persist(next, ev, changed)
	e.announce(next, changed)
	return changed, nil
}

// persist writes the changed cells to the store. Failures are logged and
// never fail the transition.
func (e *Engine) persist(c *task.Collection, ev task.Event, changed []task.Key) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	logErr := func(op string, err error) {
		if err != nil {
			e.logger.Warn("persist failed", "op", op, "collection", c.ID, "error", err)
		}
	}

	if _, perKey := task.KeyOf(ev); !perKey {
		logErr("save collection", e.store.SaveCollection(ctx, c))
	}
	if ev == nil {
		for _, k := range c.Keys() {
			st, _ := c.State(k)
			logErr("save state", e.store.SaveState(ctx, c.ID, k, st))
		}
		return
	}
	if rm, ok := ev.(task.RemoveTask); ok {
		logErr("delete task", e.store.DeleteTask(ctx, c.ID, rm.TaskID))
		return
	}
	for _, k := range changed {
		if st, ok := c.State(k); ok {
			logErr("save state", e.store.SaveState(ctx, c.ID, k, st))
		} else {
			logErr("delete state", e.store.DeleteState(ctx, c.ID, k))
		}
	}
}

func (e *Engine) announce(c *task.Collection, changed []task.Key) {
	p := c.Progress()
	for _, k := range changed {
		ev := Event{Type: EventTransition, CollectionID: c.ID, Key: k, Progress: &p}
		if st, ok := c.State(k); ok {
			ev.State = &st
		}
		e.bus.Publish(ev)
	}

	e.progressMu.RLock()
	fns := make([]ProgressFunc, 0, len(e.progress))
	for _, fn := range e.progress {
		fns = append(fns, fn)
	}
	e.progressMu.RUnlock()
	for _, fn := range fns {
		fn(p)
	}
}

// =============================================================================
// Persistence
// =============================================================================

// Restore loads a stored collection. Cells that were running when it was
// saved are marked failed since their run did not survive.
func (e *Engine) Restore(ctx context.Context, collectionID string) (*task.Collection, error) {
	if e.store == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collectionID)
	}
	c, err := e.store.LoadCollection(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", collectionID, err)
	}

	e.mu.Lock()
	e.collections[c.ID] = c
	delete(e.plans, c.ID)
	e.mu.Unlock()

	for _, k := range c.Keys() {
		if st, _ := c.State(k); st.Status == task.StatusRunning {
			if _, err := e.apply(c.ID, task.Fail{Key: k, Err: "interrupted", At: time.Now()}); err != nil {
				return nil, err
			}
		}
	}
	c, _ = e.Collection(collectionID)
	e.logger.Debug("collection restored", "collection", collectionID, "cells", len(c.States))
	return c, nil
}

// RestoreAll loads every stored collection.
func (e *Engine) RestoreAll(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	infos, err := e.store.ListCollections(ctx)
	if err != nil {
		return 0, err
	}
	for _, info := range infos {
		if _, err := e.Restore(ctx, info.ID); err != nil {
			return 0, err
		}
	}
	return len(infos), nil
}
