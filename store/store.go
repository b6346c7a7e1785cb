// Package store persists collections and their cell states so a grid can be
// reloaded after a restart.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cellgrid/task"
)

// ErrNotFound is returned when a collection does not exist.
var ErrNotFound = errors.New("collection not found")

// StateStore tracks collections, the plan that populated them and the state
// of every cell.
type StateStore interface {
	// SaveCollection writes the collection's title, targets and task
	// definitions. States are written separately through SaveState.
	SaveCollection(ctx context.Context, c *task.Collection) error
	SaveState(ctx context.Context, collectionID string, key task.Key, st task.State) error
	DeleteState(ctx context.Context, collectionID string, key task.Key) error
	// DeleteTask drops every state keyed by the task.
	DeleteTask(ctx context.Context, collectionID, taskID string) error
	SavePlan(ctx context.Context, collectionID string, plan *task.Plan) error
	// LoadPlan returns nil when the collection was built by hand.
	LoadPlan(ctx context.Context, collectionID string) (*task.Plan, error)
	LoadCollection(ctx context.Context, collectionID string) (*task.Collection, error)
	ListCollections(ctx context.Context) ([]CollectionInfo, error)
	Close() error
}

// CollectionInfo describes a stored collection.
type CollectionInfo struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	TargetCount int       `json:"targetCount"`
	TaskCount   int       `json:"taskCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// stateRecord is the stored form of a task.State. The typed value is kept
// as its raw JSON together with the shape it was produced under, and decoded
// against the task's current shape on load.
type stateRecord struct {
	task.State
	Value json.RawMessage `json:"value,omitempty"`
	Shape task.Shape      `json:"shape,omitempty"`
}

func encodeState(st task.State) ([]byte, error) {
	rec := stateRecord{State: st}
	if st.Value != nil {
		raw, err := json.Marshal(st.Value.Raw())
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		rec.Value = raw
		rec.Shape = st.Value.Shape()
	}
	return json.Marshal(rec)
}

// decodeState restores a state. A value stored under a different shape kind
// than the task's current one, or that no longer decodes, is dropped while
// the text result is kept.
func decodeState(data []byte, def task.Definition, known bool) (task.State, error) {
	var rec stateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return task.State{}, fmt.Errorf("decode state: %w", err)
	}
	st := rec.State
	st.Value = nil
	if known && len(rec.Value) > 0 && string(rec.Value) != "null" && rec.Shape == shapeKind(def.Shape) {
		var raw any
		if err := json.Unmarshal(rec.Value, &raw); err == nil {
			if v, err := task.Decode(def.Shape, raw); err == nil {
				st.Value = v
			}
		}
	}
	return st, nil
}

// shapeKind is the kind of value Decode produces for shape.
func shapeKind(shape task.OutputShape) task.Shape {
	if shape.Kind == "" {
		return task.ShapeText
	}
	return shape.Kind
}

// collectionRecord holds the structural part of a collection.
type collectionRecord struct {
	ID          string
	Title       string
	Description string
	Targets     []byte
	Tasks       []byte
	UpdatedAt   time.Time
}

func encodeCollection(c *task.Collection) (collectionRecord, error) {
	targets, err := json.Marshal(c.Targets)
	if err != nil {
		return collectionRecord{}, fmt.Errorf("encode targets: %w", err)
	}
	tasks, err := json.Marshal(c.Tasks)
	if err != nil {
		return collectionRecord{}, fmt.Errorf("encode tasks: %w", err)
	}
	return collectionRecord{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		Targets:     targets,
		Tasks:       tasks,
	}, nil
}

func (r collectionRecord) collection() (*task.Collection, error) {
	c := task.NewCollection(r.ID, r.Title)
	c.Description = r.Description
	if len(r.Targets) > 0 {
		if err := json.Unmarshal(r.Targets, &c.Targets); err != nil {
			return nil, fmt.Errorf("decode targets: %w", err)
		}
	}
	if len(r.Tasks) > 0 {
		if err := json.Unmarshal(r.Tasks, &c.Tasks); err != nil {
			return nil, fmt.Errorf("decode tasks: %w", err)
		}
	}
	return c, nil
}

func (r collectionRecord) info() (CollectionInfo, error) {
	c, err := r.collection()
	if err != nil {
		return CollectionInfo{}, err
	}
	return CollectionInfo{
		ID:          r.ID,
		Title:       r.Title,
		TargetCount: len(c.Targets),
		TaskCount:   len(c.Tasks),
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

// restoreState decodes one stored cell into c.
func restoreState(c *task.Collection, key task.Key, data []byte) error {
	def, known := c.Task(key.TaskID)
	st, err := decodeState(data, def, known)
	if err != nil {
		return fmt.Errorf("cell %s: %w", key, err)
	}
	c.States[key] = st
	return nil
}

func encodePlan(plan *task.Plan) ([]byte, error) {
	data, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	return data, nil
}

func decodePlan(data []byte) (*task.Plan, error) {
	var plan task.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &plan, nil
}
