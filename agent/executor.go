// Package agent runs one bounded tool-calling conversation per cell.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"cellgrid/agent/internal/prompts"
	"cellgrid/aitools"
	"cellgrid/llm"
	"cellgrid/task"
)

const (
	DefaultIterationCap = 5
	MaxIterationCap     = 10
)

// Resolver maps a model selector to a provider and API model name.
// *llm.Registry implements it.
type Resolver interface {
	Resolve(provider, model string) (llm.Provider, string, error)
}

// Options for creating an executor
type Options struct {
	Resolver   Resolver
	Dispatcher *aitools.Dispatcher
	// IterationCap bounds model calls per run (default 5, at most 10).
	IterationCap int
	Logger       hclog.Logger
	// EventLogger receives model turn and tool call events (optional)
	EventLogger EventLogger
	// TurnLogDir enables per-run conversation snapshots, one JSONL file per
	// run (optional)
	TurnLogDir string
}

// Executor runs the agent loop. It holds no per-run state and is safe for
// concurrent use.
type Executor struct {
	resolver   Resolver
	dispatcher *aitools.Dispatcher
	cap        int
	logger     hclog.Logger
	events     EventLogger
	turnLogDir string
}

func NewExecutor(opts Options) (*Executor, error) {
	if opts.Resolver == nil {
		return nil, fmt.Errorf("executor needs a model resolver")
	}
	capN := opts.IterationCap
	if capN == 0 {
		capN = DefaultIterationCap
	}
	if capN < 1 || capN > MaxIterationCap {
		return nil, fmt.Errorf("iteration cap must be between 1 and %d, got %d", MaxIterationCap, capN)
	}
	e := &Executor{
		resolver:   opts.Resolver,
		dispatcher: opts.Dispatcher,
		cap:        capN,
		logger:     opts.Logger,
		events:     opts.EventLogger,
		turnLogDir: opts.TurnLogDir,
	}
	if e.dispatcher == nil {
		e.dispatcher = aitools.NewDispatcher()
	}
	if e.logger == nil {
		e.logger = hclog.NewNullLogger()
	}
	e.logger = e.logger.Named("agent")
	if e.events == nil {
		e.events = nopEventLogger{}
	}
	return e, nil
}

// IterationCap returns the configured cap.
func (e *Executor) IterationCap() int {
	return e.cap
}

// Run executes def against the target in tc. Every iteration but the last
// offers the allowed tools; the last forbids tool calls so the model must
// answer. Model failures are returned as *ModelInvocationError; an answer
// that cannot be parsed is not an error and yields a degraded result.
func (e *Executor) Run(ctx context.Context, def task.Definition, tc aitools.ToolContext) (*ExecutionResult, error) {
	start := time.Now()
	if tc.ConversationID == "" {
		tc.ConversationID = uuid.NewString()
	}

	provider, model, err := e.resolver.Resolve(def.Model.Provider, def.Model.Name)
	if err != nil {
		return nil, &ModelInvocationError{Model: def.Model, Err: err}
	}

	logger := e.logger.With("task", def.ID, "target", tc.Target.ID, "conversation", tc.ConversationID)
	events := newContextEventLogger(e.events, map[string]any{
		"collection_id":   tc.CollectionID,
		"task_id":         def.ID,
		"target":          tc.Target.ID,
		"conversation_id": tc.ConversationID,
	})
	turnLog := e.openTurnLog(logger, tc, def)
	if turnLog != nil {
		defer turnLog.Close()
	}

	tools := e.dispatcher.Subset(def.Tools)
	allowed := make([]string, len(tools))
	for i, t := range tools {
		allowed[i] = t.Name
	}

	conv := llm.NewConversation(prompts.GetCellPrompt(def.Shape, tools))
	if err := conv.AppendUser(prompts.GetTaskPrompt(def, tc.Target)); err != nil {
		return nil, err
	}

	res := &ExecutionResult{}
	var answer string

	for i := 0; i < e.cap; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		final := i == e.cap-1
		if final {
			if err := conv.AppendUser(prompts.GetFinalTurnPrompt()); err != nil {
				return nil, err
			}
		}

		req := &llm.ChatRequest{
			Model:          model,
			Messages:       conv.Messages(),
			MaxTokens:      def.MaxTokens,
			Temperature:    def.Temperature,
			ThinkingBudget: def.ThinkingBudget,
		}
		if len(tools) > 0 {
			// Tools stay declared on the final turn since earlier turns
			// reference them; the choice forbids new calls.
			req.Tools = tools
			req.ToolChoice = llm.ToolChoiceAuto
			if final {
				req.ToolChoice = llm.ToolChoiceNone
			}
		}

		resp, err := provider.Chat(ctx, req)
		if err != nil {
			logger.Warn("model call failed", "iteration", i+1, "error", err)
			return nil, &ModelInvocationError{Model: def.Model, Iteration: i + 1, Err: err}
		}
		res.Iterations++
		res.Usage = res.Usage.Add(resp.Usage)
		events.LogEvent(EventModelTurn, map[string]any{
			"iteration":     i + 1,
			"tool_calls":    len(resp.ToolCalls),
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		})

		if len(resp.ToolCalls) == 0 || final {
			if final && i > 0 {
				res.CapReached = true
			}
			// A provider that ignores the none choice still gets no tools.
			reply := *resp
			reply.ToolCalls = nil
			if err := conv.AppendAssistant(&reply); err != nil {
				return nil, err
			}
			answer = resp.Content
			if answer == "" {
				answer = conv.LastAssistantContent()
			}
			if turnLog != nil {
				turnLog.LogTurn("answer", conv.Messages())
			}
			break
		}

		if err := conv.AppendAssistant(resp); err != nil {
			return nil, err
		}
		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			result := e.dispatch(ctx, call, allowed, tc)
			isErr := aitools.IsError(result)
			res.ToolCalls = append(res.ToolCalls, ToolCallRecord{
				ID:        call.ID,
				Name:      call.Name,
				Args:      call.Args,
				IsError:   isErr,
				Iteration: i + 1,
			})
			events.LogEvent(EventToolCall, map[string]any{
				"iteration": i + 1,
				"tool":      call.Name,
				"is_error":  isErr,
			})
			if err := conv.AppendToolResult(call, e.dispatcher.Encode(result), isErr); err != nil {
				return nil, err
			}
		}
		if turnLog != nil {
			turnLog.LogTurn("tools", conv.Messages())
		}
	}

	res.Latency = time.Since(start)
	if err := res.interpret(def.Shape, answer); err != nil {
		logger.Debug("answer degraded", "error", err)
		events.LogEvent(EventDegraded, map[string]any{"error": err.Error()})
	}
	logger.Debug("run finished",
		"iterations", res.Iterations,
		"tool_calls", len(res.ToolCalls),
		"cap_reached", res.CapReached,
		"degraded", res.Degraded,
		"latency", res.Latency)
	return res, nil
}

// dispatch runs one tool call, refusing tools outside the allow-list.
func (e *Executor) dispatch(ctx context.Context, call llm.ToolCall, allowed []string, tc aitools.ToolContext) any {
	if !slices.Contains(allowed, call.Name) {
		return aitools.ErrorResult(fmt.Sprintf("tool %s is not available for this task", call.Name))
	}
	if call.Args == nil && call.RawArgs != "" {
		return aitools.ErrorResult("arguments are not a JSON object: " + call.RawArgs)
	}
	return e.dispatcher.Dispatch(ctx, call.Name, call.Args, tc)
}

func (e *Executor) openTurnLog(logger hclog.Logger, tc aitools.ToolContext, def task.Definition) *llm.TurnLogger {
	if e.turnLogDir == "" {
		return nil
	}
	if err := os.MkdirAll(e.turnLogDir, 0o755); err != nil {
		logger.Warn("could not create turn log dir", "error", err)
		return nil
	}
	name := fmt.Sprintf("%s_%s_%s.jsonl", def.ID, sanitizeFileName(tc.Target.ID), tc.ConversationID)
	tl, err := llm.NewTurnLogger(filepath.Join(e.turnLogDir, name))
	if err != nil {
		logger.Warn("could not open turn log", "error", err)
		return nil
	}
	return tl
}

func sanitizeFileName(s string) string {
	out := []rune(s)
	for i, r := range out {
		switch r {
		case '/', '\\', ':', ' ':
			out[i] = '_'
		}
	}
	return string(out)
}
