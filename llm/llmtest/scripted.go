// Package llmtest provides scripted providers for tests.
package llmtest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"cellgrid/llm"
)

// ErrScriptExhausted is returned when a ScriptedProvider runs out of replies.
var ErrScriptExhausted = errors.New("scripted provider has no more replies")

// Reply is one scripted model response.
type Reply struct {
	Response *llm.ChatResponse
	Err      error
	// Delay is waited (honoring ctx) before replying.
	Delay time.Duration
}

// Text replies with plain content and some token usage.
func Text(content string) Reply {
	return Reply{Response: &llm.ChatResponse{
		Content: content,
		Usage:   llm.Usage{InputTokens: 10, OutputTokens: 5},
	}}
}

// Calls replies with tool calls.
func Calls(calls ...llm.ToolCall) Reply {
	return Reply{Response: &llm.ChatResponse{
		ToolCalls: calls,
		Usage:     llm.Usage{InputTokens: 10, OutputTokens: 5},
	}}
}

// Failure replies with an error.
func Failure(err error) Reply {
	return Reply{Err: err}
}

// ScriptedProvider returns scripted replies in order and records every
// request it receives.
type ScriptedProvider struct {
	mu       sync.Mutex
	replies  []Reply
	requests []*llm.ChatRequest
	// Fallback answers once the script is exhausted (optional).
	Fallback func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

func NewScripted(replies ...Reply) *ScriptedProvider {
	return &ScriptedProvider{replies: replies}
}

func (p *ScriptedProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	cp := *req
	cp.Messages = slices.Clone(req.Messages)
	cp.Tools = slices.Clone(req.Tools)
	p.requests = append(p.requests, &cp)
	var next *Reply
	if len(p.replies) > 0 {
		next = &p.replies[0]
		p.replies = p.replies[1:]
	}
	fallback := p.Fallback
	p.mu.Unlock()

	if next == nil {
		if fallback != nil {
			return fallback(ctx, req)
		}
		return nil, ErrScriptExhausted
	}
	if next.Delay > 0 {
		select {
		case <-time.After(next.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if next.Err != nil {
		return nil, next.Err
	}
	resp := *next.Response
	return &resp, nil
}

// Requests returns copies of the requests received so far.
func (p *ScriptedProvider) Requests() []*llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.requests)
}

// Func adapts a function to llm.Provider.
type Func func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

func (f Func) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return f(ctx, req)
}

// Registry returns a registry serving p under the provider name "test" for
// any model name.
func Registry(p llm.Provider) *llm.Registry {
	r := llm.NewRegistry()
	r.Register("test", p, nil)
	return r
}
