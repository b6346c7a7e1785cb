package wsbridge

import (
	"cellgrid/engine"
	"cellgrid/task"
)

// CellView is the wire form of one cell. Value holds the decoded value in
// its JSON form (string, bool, number or object).
type CellView struct {
	task.Key
	task.State
	Value any `json:"value,omitempty"`
}

// CollectionView describes a collection without its cells.
type CollectionView struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	Targets     []task.TargetSummary `json:"targets"`
	Tasks       []task.Definition    `json:"tasks"`
	Progress    task.Progress        `json:"progress"`
}

func cellView(k task.Key, s task.State) CellView {
	v := CellView{Key: k, State: s}
	if s.Value != nil {
		v.Value = s.Value.Raw()
	}
	return v
}

func collectionView(c *task.Collection) CollectionView {
	return CollectionView{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		Targets:     c.Targets,
		Tasks:       c.Tasks,
		Progress:    c.Progress(),
	}
}

// cellViews returns every cell of c in grid order.
func cellViews(c *task.Collection) []CellView {
	keys := c.Keys()
	out := make([]CellView, 0, len(keys))
	for _, k := range keys {
		s, _ := c.State(k)
		out = append(out, cellView(k, s))
	}
	return out
}

// eventEnvelope converts a bus event. It returns nil for events that have no
// wire form.
func eventEnvelope(ev engine.Event) (*Envelope, error) {
	switch ev.Type {
	case engine.EventTransition:
		p := TransitionPayload{Key: ev.Key, Progress: ev.Progress}
		if ev.State != nil {
			cv := cellView(ev.Key, *ev.State)
			p.Cell = &cv
		}
		return NewEnvelope(TypeTransition, ev.CollectionID, p)
	case engine.EventActivity:
		return NewEnvelope(TypeActivity, ev.CollectionID, ActivityPayload{
			Key:      ev.Key,
			Activity: ev.Activity,
			Data:     ev.Data,
		})
	}
	return nil, nil
}
