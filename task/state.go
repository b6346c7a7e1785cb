package task

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Key addresses one cell: a task evaluated against a target.
type Key struct {
	Target string `json:"target"`
	TaskID string `json:"task_id"`
}

func (k Key) String() string {
	return k.Target + "/" + k.TaskID
}

// Usage is the token usage of one run.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
	}
}

// State is the lifecycle of one cell. Result fields are meaningful only when
// Status is complete.
type State struct {
	Status      Status        `json:"status"`
	Result      string        `json:"result,omitempty"`
	Value       Value         `json:"-"`
	Explanation string        `json:"explanation,omitempty"`
	Source      string        `json:"source,omitempty"`
	Usage       Usage         `json:"usage"`
	Latency     time.Duration `json:"latency"`
	Degraded    bool          `json:"degraded,omitempty"`
	Error       string        `json:"error,omitempty"`
	Attempt     int           `json:"attempt"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Initial returns the state a freshly added cell starts in. Manual cells
// start complete with an empty result; model cells start pending.
func Initial(def Definition) State {
	if def.IsManual() {
		return State{Status: StatusComplete}
	}
	return State{Status: StatusPending}
}

// Outcome is the payload of a Complete event.
type Outcome struct {
	Value       Value
	Result      string
	Explanation string
	Source      string
	Usage       Usage
	Latency     time.Duration
	Degraded    bool
}
