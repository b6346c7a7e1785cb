package agent

import (
	"fmt"

	"cellgrid/task"
)

// ModelInvocationError wraps a failed model call.
type ModelInvocationError struct {
	Model     task.ModelSelector
	Iteration int
	Err       error
}

func (e *ModelInvocationError) Error() string {
	if e.Iteration == 0 {
		return fmt.Sprintf("model %s: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("model %s (iteration %d): %v", e.Model, e.Iteration, e.Err)
}

func (e *ModelInvocationError) Unwrap() error {
	return e.Err
}
