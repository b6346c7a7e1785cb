package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"cellgrid/task"
)

// SubmitPlan asks the planner for a plan over targets. The plan is not
// applied; pass it to Populate.
func (e *Engine) SubmitPlan(ctx context.Context, request string, targets []task.TargetSummary) (*task.Plan, error) {
	if e.planner == nil {
		return nil, ErrNoPlanner
	}
	plan, err := e.planner.Plan(ctx, request, targets)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("plan ready", "title", plan.Title, "groups", len(plan.Groups), "tasks", plan.TaskCount())
	return plan, nil
}

// Populate builds a collection from plan over targets, replacing any
// collection with the same id. Model cells start pending and manual cells
// complete. An empty id gets a generated one.
func (e *Engine) Populate(collectionID string, plan *task.Plan, targets []task.TargetSummary) (*task.Collection, error) {
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("populate: %w", err)
	}
	if collectionID == "" {
		collectionID = uuid.NewString()
	}

	c := task.NewCollection(collectionID, plan.Title)
	c.Description = plan.Description
	for _, t := range targets {
		c, _ = c.Apply(task.AddTarget{Target: t})
	}
	for _, def := range plan.Definitions() {
		c, _ = c.Apply(task.AddTask{Definition: def})
	}
	e.install(c)
	e.mu.Lock()
	e.plans[collectionID] = plan
	e.mu.Unlock()

	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := e.store.SavePlan(ctx, collectionID, plan); err != nil {
			e.logger.Warn("persist failed", "op", "save plan", "collection", collectionID, "error", err)
		}
	}

	e.logger.Info("collection populated", "collection", collectionID, "tasks", len(c.Tasks), "cells", len(c.States))
	return c, nil
}

// Plan returns the plan a collection was populated from, or nil when it was
// built by hand. Plans of restored collections are read from the store.
func (e *Engine) Plan(ctx context.Context, collectionID string) (*task.Plan, error) {
	e.mu.RLock()
	plan, ok := e.plans[collectionID]
	e.mu.RUnlock()
	if ok || e.store == nil {
		return plan, nil
	}

	plan, err := e.store.LoadPlan(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if plan != nil {
		e.mu.Lock()
		e.plans[collectionID] = plan
		e.mu.Unlock()
	}
	return plan, nil
}
