package task

// Reduce applies a per-key event to one state. It is pure: the result
// depends only on its arguments. Events that do not apply leave the state
// unchanged.
func Reduce(s State, def Definition, ev Event) State {
	switch e := ev.(type) {
	case MarkRunning:
		if def.IsManual() || s.Status == StatusRunning {
			return s
		}
		return State{
			Status:    StatusRunning,
			Attempt:   s.Attempt + 1,
			UpdatedAt: e.At,
		}

	case Complete:
		if def.IsManual() {
			return s
		}
		o := e.Outcome
		return State{
			Status:      StatusComplete,
			Value:       o.Value,
			Result:      o.Result,
			Explanation: o.Explanation,
			Source:      o.Source,
			Usage:       o.Usage,
			Latency:     o.Latency,
			Degraded:    o.Degraded,
			Attempt:     s.Attempt,
			UpdatedAt:   e.At,
		}

	case Fail:
		if def.IsManual() {
			return s
		}
		return State{
			Status:    StatusError,
			Error:     e.Err,
			Attempt:   s.Attempt,
			UpdatedAt: e.At,
		}

	case ManualEdit:
		if !def.IsManual() {
			return s
		}
		out := State{
			Status:    StatusComplete,
			Result:    e.Value,
			Attempt:   s.Attempt,
			UpdatedAt: e.At,
		}
		if v, err := ParseLiteral(def.Shape, e.Value); err == nil {
			out.Value = v
		}
		return out
	}
	return s
}
