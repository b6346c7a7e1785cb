package aitools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/sourcegraph/conc/panics"

	"cellgrid/llm"
)

// Dispatcher routes tool calls to registered tools. Dispatch never fails:
// unknown tools, tool errors and panics all come back as {"error": "..."}
// so the model can react to them.
type Dispatcher struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	interceptor *ResultInterceptor
	logger      hclog.Logger
}

type DispatcherOption func(*Dispatcher)

func WithLogger(l hclog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l.Named("tools") }
}

// WithLargeResults shrinks oversized results with the given config.
func WithLargeResults(cfg LargeResultConfig) DispatcherOption {
	return func(d *Dispatcher) { d.interceptor = NewResultInterceptor(cfg) }
}

func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		tools:       make(map[string]Tool),
		interceptor: NewResultInterceptor(DefaultLargeResultConfig()),
		logger:      hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a tool. Names must be unique.
func (d *Dispatcher) Register(t Tool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	name := t.ToolName()
	if name == "" {
		return fmt.Errorf("tool has no name")
	}
	if _, exists := d.tools[name]; exists {
		return fmt.Errorf("tool '%s' is already registered", name)
	}
	d.tools[name] = t
	return nil
}

// Lookup returns the tool registered under name.
func (d *Dispatcher) Lookup(name string) (Tool, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.tools))
	for n := range d.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Subset returns definitions for the allowed tools in the given order,
// skipping names that are not registered.
func (d *Dispatcher) Subset(names []string) []llm.ToolDefinition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var defs []llm.ToolDefinition
	for _, n := range names {
		if t, ok := d.tools[n]; ok {
			defs = append(defs, Definition(t))
		}
	}
	return defs
}

// Dispatch invokes the named tool.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any, tc ToolContext) any {
	t, ok := d.Lookup(name)
	if !ok {
		d.logger.Warn("unknown tool", "tool", name, "conversation", tc.ConversationID)
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}
	if args == nil {
		args = map[string]any{}
	}

	var (
		catcher panics.Catcher
		out     any
		err     error
	)
	catcher.Try(func() {
		out, err = t.Call(ctx, args, tc)
	})
	if r := catcher.Recovered(); r != nil {
		d.logger.Error("tool panicked", "tool", name, "panic", r.Value, "stack", string(r.Stack))
		return ErrorResult(fmt.Sprintf("tool %s panicked: %v", name, r.Value))
	}
	if err != nil {
		d.logger.Debug("tool returned error", "tool", name, "error", err)
		return ErrorResult(err.Error())
	}
	return out
}

// Encode renders a tool result as the text sent back to the model.
func (d *Dispatcher) Encode(result any) string {
	var text string
	switch r := result.(type) {
	case string:
		text = r
	case json.RawMessage:
		text = string(r)
	default:
		b, err := json.Marshal(r)
		if err != nil {
			text = fmt.Sprintf(`{"error":%q}`, "result is not JSON-encodable: "+err.Error())
		} else {
			text = string(b)
		}
	}
	if d.interceptor == nil {
		return text
	}
	return d.interceptor.Intercept(text)
}

// ErrorResult is the value returned for failed calls.
func ErrorResult(msg string) map[string]any {
	return map[string]any{"error": msg}
}

// IsError reports whether a tool result signals failure.
func IsError(result any) bool {
	m, ok := result.(map[string]any)
	if !ok {
		return false
	}
	_, has := m["error"]
	return has
}
