package engine

import (
	"cellgrid/streamers"
	"cellgrid/task"
)

// streamBuffer is large enough that a terminal renderer does not miss
// transitions of a typical run.
const streamBuffer = 1024

// Stream delivers the collection's events to h until the returned function
// is called. Events are delivered from a single goroutine, in order.
func (e *Engine) Stream(collectionID string, h streamers.GridHandler) func() {
	id, ch := e.bus.Subscribe(streamBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			if ev.CollectionID == collectionID {
				e.deliver(h, ev)
			}
		}
	}()
	return func() {
		e.bus.Unsubscribe(id)
		<-done
	}
}

func (e *Engine) deliver(h streamers.GridHandler, ev Event) {
	if ev.Type == EventActivity {
		h.CellActivity(ev.Key, ev.Activity, ev.Data)
		return
	}
	if ev.State != nil {
		var def task.Definition
		if c, ok := e.Collection(ev.CollectionID); ok {
			def, _ = c.Task(ev.Key.TaskID)
		}
		switch ev.State.Status {
		case task.StatusRunning:
			h.CellStarted(ev.Key, def, ev.State.Attempt)
		case task.StatusComplete:
			h.CellCompleted(ev.Key, def, *ev.State)
		case task.StatusError:
			h.CellFailed(ev.Key, def, ev.State.Error)
		}
	}
	if ev.Progress != nil {
		h.Progress(*ev.Progress)
	}
}

// Summary converts the report for a streamers.GridHandler.
func (r *RunReport) Summary() streamers.RunSummary {
	return streamers.RunSummary{
		Completed:  r.Completed,
		Failed:     r.Failed,
		Degraded:   r.Degraded,
		TimedOut:   r.TimedOut,
		NotStarted: r.NotStarted,
		Elapsed:    r.Elapsed,
	}
}
