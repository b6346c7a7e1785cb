package task

import (
	"maps"
	"reflect"
	"slices"
)

// Collection is a grid of tasks evaluated against targets. Apply never
// mutates its receiver, so a *Collection handed to a reader stays valid.
type Collection struct {
	ID          string
	Title       string
	Description string
	Targets     []TargetSummary
	Tasks       []Definition
	States      map[Key]State
}

func NewCollection(id, title string) *Collection {
	return &Collection{ID: id, Title: title, States: map[Key]State{}}
}

// Task returns the definition with the given ID.
func (c *Collection) Task(id string) (Definition, bool) {
	for _, d := range c.Tasks {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

func (c *Collection) Target(id string) (TargetSummary, bool) {
	for _, t := range c.Targets {
		if t.ID == id {
			return t, true
		}
	}
	return TargetSummary{}, false
}

// State returns the state of one cell.
func (c *Collection) State(k Key) (State, bool) {
	s, ok := c.States[k]
	return s, ok
}

// Keys returns every cell key in target-major, task-minor order.
func (c *Collection) Keys() []Key {
	var keys []Key
	for _, t := range c.Targets {
		for _, d := range c.Tasks {
			k := Key{Target: t.ID, TaskID: d.ID}
			if _, ok := c.States[k]; ok {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// Apply returns the collection after ev, along with the keys whose state
// changed. Per-key events for cells that do not exist are ignored, so a late
// completion for a removed task cannot resurrect it.
func (c *Collection) Apply(ev Event) (*Collection, []Key) {
	if k, ok := KeyOf(ev); ok {
		prev, exists := c.States[k]
		if !exists {
			return c, nil
		}
		def, _ := c.Task(k.TaskID)
		next := Reduce(prev, def, ev)
		if statesEqual(prev, next) {
			return c, nil
		}
		out := c.shallowCopy()
		out.States[k] = next
		return out, []Key{k}
	}

	switch e := ev.(type) {
	case AddTask:
		def := e.Definition.Normalize()
		if _, exists := c.Task(def.ID); exists {
			return c.Apply(UpdateTaskDefinition{Definition: def})
		}
		out := c.shallowCopy()
		out.Tasks = append(slices.Clone(c.Tasks), def)
		var changed []Key
		for _, t := range c.Targets {
			if !def.Filter.Match(t) {
				continue
			}
			k := Key{Target: t.ID, TaskID: def.ID}
			out.States[k] = Initial(def)
			changed = append(changed, k)
		}
		return out, changed

	case RemoveTask:
		idx := slices.IndexFunc(c.Tasks, func(d Definition) bool { return d.ID == e.TaskID })
		if idx < 0 {
			return c, nil
		}
		out := c.shallowCopy()
		out.Tasks = slices.Delete(slices.Clone(c.Tasks), idx, idx+1)
		var changed []Key
		for k := range out.States {
			if k.TaskID == e.TaskID {
				delete(out.States, k)
				changed = append(changed, k)
			}
		}
		return out, changed

	case UpdateTaskDefinition:
		def := e.Definition.Normalize()
		idx := slices.IndexFunc(c.Tasks, func(d Definition) bool { return d.ID == def.ID })
		if idx < 0 {
			return c, nil
		}
		out := c.shallowCopy()
		out.Tasks = slices.Clone(c.Tasks)
		out.Tasks[idx] = def
		var changed []Key
		for _, t := range c.Targets {
			k := Key{Target: t.ID, TaskID: def.ID}
			prev, exists := out.States[k]
			switch {
			case !def.Filter.Match(t):
				if exists {
					delete(out.States, k)
					changed = append(changed, k)
				}
			case !exists:
				out.States[k] = Initial(def)
				changed = append(changed, k)
			case def.IsManual():
				if prev.Status != StatusComplete {
					out.States[k] = Initial(def)
					changed = append(changed, k)
				}
			case prev.Status != StatusRunning:
				// Running cells are overwritten when their run finishes.
				out.States[k] = State{Status: StatusPending, Attempt: prev.Attempt}
				changed = append(changed, k)
			}
		}
		return out, changed

	case AddTarget:
		if _, exists := c.Target(e.Target.ID); exists {
			return c, nil
		}
		out := c.shallowCopy()
		out.Targets = append(slices.Clone(c.Targets), e.Target)
		var changed []Key
		for _, d := range c.Tasks {
			if !d.Filter.Match(e.Target) {
				continue
			}
			k := Key{Target: e.Target.ID, TaskID: d.ID}
			out.States[k] = Initial(d)
			changed = append(changed, k)
		}
		return out, changed

	case RemoveTarget:
		idx := slices.IndexFunc(c.Targets, func(t TargetSummary) bool { return t.ID == e.TargetID })
		if idx < 0 {
			return c, nil
		}
		out := c.shallowCopy()
		out.Targets = slices.Delete(slices.Clone(c.Targets), idx, idx+1)
		var changed []Key
		for k := range out.States {
			if k.Target == e.TargetID {
				delete(out.States, k)
				changed = append(changed, k)
			}
		}
		return out, changed
	}

	return c, nil
}

// Progress summarizes the collection.
func (c *Collection) Progress() Progress {
	p := Progress{CollectionID: c.ID, Total: len(c.States)}
	for _, s := range c.States {
		switch s.Status {
		case StatusPending:
			p.Pending++
		case StatusRunning:
			p.Running++
		case StatusComplete:
			p.Complete++
		case StatusError:
			p.Error++
		}
	}
	return p
}

// Snapshot returns a copy of every state.
func (c *Collection) Snapshot() map[Key]State {
	return maps.Clone(c.States)
}

func (c *Collection) shallowCopy() *Collection {
	out := *c
	out.States = maps.Clone(c.States)
	if out.States == nil {
		out.States = map[Key]State{}
	}
	return &out
}

func statesEqual(a, b State) bool {
	if a.Status != b.Status || a.Result != b.Result || a.Attempt != b.Attempt ||
		a.Error != b.Error || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	return a.Explanation == b.Explanation && a.Source == b.Source && reflect.DeepEqual(a.Value, b.Value) &&
		a.Usage == b.Usage && a.Latency == b.Latency && a.Degraded == b.Degraded
}

// Progress counts cells by status.
type Progress struct {
	CollectionID string `json:"collection_id"`
	Pending      int    `json:"pending"`
	Running      int    `json:"running"`
	Complete     int    `json:"complete"`
	Error        int    `json:"error"`
	Total        int    `json:"total"`
}

// Done reports whether no cell is pending or running.
func (p Progress) Done() bool {
	return p.Pending == 0 && p.Running == 0
}
