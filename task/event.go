package task

import "time"

// Event is a state change. Per-key events go through Reduce; collection
// events only make sense to Collection.Apply.
type Event interface {
	event()
}

// MarkRunning records that a cell was admitted by the limiter.
type MarkRunning struct {
	Key Key
	At  time.Time
}

// Complete records a successful run, overwriting any previous result.
type Complete struct {
	Key     Key
	Outcome Outcome
	At      time.Time
}

// Fail records a failed run.
type Fail struct {
	Key Key
	Err string
	At  time.Time
}

// ManualEdit sets the value of a manual cell.
type ManualEdit struct {
	Key   Key
	Value string
	At    time.Time
}

type AddTask struct {
	Definition Definition
}

// RemoveTask drops a task and every state keyed by it.
type RemoveTask struct {
	TaskID string
}

// UpdateTaskDefinition replaces a definition with the same ID.
type UpdateTaskDefinition struct {
	Definition Definition
}

type AddTarget struct {
	Target TargetSummary
}

type RemoveTarget struct {
	TargetID string
}

func (MarkRunning) event()          {}
func (Complete) event()             {}
func (Fail) event()                 {}
func (ManualEdit) event()           {}
func (AddTask) event()              {}
func (RemoveTask) event()           {}
func (UpdateTaskDefinition) event() {}
func (AddTarget) event()            {}
func (RemoveTarget) event()         {}

// KeyOf returns the key a per-key event addresses.
func KeyOf(ev Event) (Key, bool) {
	switch e := ev.(type) {
	case MarkRunning:
		return e.Key, true
	case Complete:
		return e.Key, true
	case Fail:
		return e.Key, true
	case ManualEdit:
		return e.Key, true
	}
	return Key{}, false
}
