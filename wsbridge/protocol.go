package wsbridge

import (
	"encoding/json"
	"fmt"

	"cellgrid/task"
)

// MessageType identifies a websocket message.
type MessageType string

const (
	// server → client
	TypeTransition  MessageType = "transition"
	TypeActivity    MessageType = "activity"
	TypeSnapshot    MessageType = "snapshot"
	TypeRunStarted  MessageType = "run_started"
	TypeRunFinished MessageType = "run_finished"
	TypeError       MessageType = "error"

	// client → server
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
)

// Envelope wraps every websocket message.
type Envelope struct {
	Type         MessageType     `json:"type"`
	CollectionID string          `json:"collection_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope.
func NewEnvelope(t MessageType, collectionID string, payload any) (*Envelope, error) {
	env := &Envelope{Type: t, CollectionID: collectionID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Payload = data
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into v.
func DecodePayload(env *Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", env.Type)
	}
	return json.Unmarshal(env.Payload, v)
}

// TransitionPayload carries one cell change. Cell is nil when the cell was
// removed.
type TransitionPayload struct {
	Key      task.Key       `json:"key"`
	Cell     *CellView      `json:"cell,omitempty"`
	Progress *task.Progress `json:"progress,omitempty"`
}

// ActivityPayload carries an agent event for a running cell.
type ActivityPayload struct {
	Key      task.Key       `json:"key"`
	Activity string         `json:"activity"`
	Data     map[string]any `json:"data,omitempty"`
}

// SnapshotPayload is sent in reply to a subscribe.
type SnapshotPayload struct {
	Collection CollectionView `json:"collection"`
	Cells      []CellView     `json:"cells"`
}

type RunStartedPayload struct {
	Pending int `json:"pending"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
