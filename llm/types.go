package llm

import (
	"context"
	"errors"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	// RoleTool carries the result of one tool call back to the model.
	RoleTool Role = "tool"
)

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
	// RawArgs holds the arguments as the provider sent them.
	RawArgs string
}

// ThinkingBlock is an opaque reasoning block. Redacted blocks carry only
// Data.
type ThinkingBlock struct {
	Thinking  string
	Signature string
	Data      string
}

// ToolDefinition binds a tool to a model request.
type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is a JSON schema object describing the arguments.
	Parameters map[string]any
}

// ToolChoice controls whether the model may call tools.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// Message is one entry in a conversation.
//
// Assistant messages may carry ToolCalls; each must be answered by a
// RoleTool message with the matching ToolCallID before the next model call.
type Message struct {
	Role      Role
	Content   string
	ToolCalls []ToolCall
	// Thinking holds reasoning blocks an assistant turn produced. Anthropic
	// requires them to be sent back alongside tool_use blocks.
	Thinking []ThinkingBlock

	// Set on RoleTool messages.
	ToolCallID string
	ToolName   string
	IsError    bool
}

// NewTextMessage creates a simple text-only message
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: text}
}

// NewToolResultMessage answers the tool call with the given ID.
func NewToolResultMessage(call ToolCall, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    isError,
	}
}

type ChatRequest struct {
	Model         string
	Messages      []Message
	MaxTokens     int
	Temperature   float64
	StopSequences []string

	Tools      []ToolDefinition
	ToolChoice ToolChoice
	// ThinkingBudget enables extended reasoning where the provider supports
	// it. Zero disables it.
	ThinkingBudget int
}

// ToolsEnabled reports whether the request lets the model call tools.
func (r *ChatRequest) ToolsEnabled() bool {
	return len(r.Tools) > 0 && r.ToolChoice != ToolChoiceNone
}

type ChatResponse struct {
	ID           string
	Content      string
	ToolCalls    []ToolCall
	Thinking     []ThinkingBlock
	FinishReason string
	Usage        Usage
}

type Usage struct {
	InputTokens  int
	OutputTokens int

	// Cache-related fields (provider-specific, may be zero if not supported)
	CacheCreationInputTokens int // Anthropic: tokens used to create new cache entry
	CacheReadInputTokens     int // Anthropic: tokens read from existing cache
	CachedTokens             int // OpenAI: tokens served from cache (prompt_tokens_details.cached_tokens)
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:              u.InputTokens + o.InputTokens,
		OutputTokens:             u.OutputTokens + o.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens + o.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens + o.CacheReadInputTokens,
		CachedTokens:             u.CachedTokens + o.CachedTokens,
	}
}

// ErrEmptyResponse is returned when a provider answers with no candidates.
var ErrEmptyResponse = errors.New("provider returned no response")

type Provider interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}
