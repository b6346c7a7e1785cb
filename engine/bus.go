package engine

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/oklog/ulid/v2"

	"cellgrid/task"
)

// Event types carried by the bus.
const (
	// EventTransition is a cell state change. State is nil when the cell
	// was removed.
	EventTransition = "transition"
	// EventActivity is a model turn or tool call inside a running cell.
	EventActivity = "activity"
)

// Event is what subscribers receive.
type Event struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	CollectionID string         `json:"collection_id"`
	Key          task.Key       `json:"key"`
	State        *task.State    `json:"state,omitempty"`
	Progress     *task.Progress `json:"progress,omitempty"`
	Activity     string         `json:"activity,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	At           time.Time      `json:"at"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	logger hclog.Logger

	mu   sync.RWMutex
	subs map[string]chan Event
}

func NewBus(logger hclog.Logger) *Bus {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Bus{
		logger: logger.Named("bus"),
		subs:   make(map[string]chan Event),
	}
}

// Subscribe registers a subscriber and returns its id and channel.
func (b *Bus) Subscribe(buffer int) (string, <-chan Event) {
	if buffer < 1 {
		buffer = 64
	}
	id := ulid.Make().String()
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	b.logger.Trace("subscribed", "id", id)
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	ch, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("subscriber buffer full, dropping event", "id", id, "type", ev.Type)
		}
	}
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// EventLogger returns an agent.EventLogger that forwards executor events to
// the bus as activity events.
func (b *Bus) EventLogger() *BusEventLogger {
	return &BusEventLogger{bus: b}
}

// BusEventLogger publishes agent events. The executor tags every event with
// collection_id, task_id and target.
type BusEventLogger struct {
	bus *Bus
}

func (l *BusEventLogger) LogEvent(eventType string, data map[string]any) {
	collectionID, _ := data["collection_id"].(string)
	taskID, _ := data["task_id"].(string)
	target, _ := data["target"].(string)
	l.bus.Publish(Event{
		Type:         EventActivity,
		CollectionID: collectionID,
		Key:          task.Key{Target: target, TaskID: taskID},
		Activity:     eventType,
		Data:         data,
	})
}
