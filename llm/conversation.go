package llm

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrUnansweredToolCalls is returned when a turn is appended while tool
	// calls from the previous assistant turn still lack results.
	ErrUnansweredToolCalls = errors.New("conversation has unanswered tool calls")
	ErrUnknownToolCall     = errors.New("tool result does not answer a pending call")
)

// Conversation is the append-only message history of one agent run. It
// enforces that every tool call is answered by exactly one tool result
// before the next model call.
type Conversation struct {
	systemPrompts []string
	messages      []Message
	pending       []string
}

func NewConversation(systemPrompts ...string) *Conversation {
	return &Conversation{systemPrompts: systemPrompts}
}

func (c *Conversation) AddSystemPrompt(prompt string) {
	c.systemPrompts = append(c.systemPrompts, prompt)
}

// AppendUser adds a user turn.
func (c *Conversation) AppendUser(text string) error {
	if len(c.pending) > 0 {
		return fmt.Errorf("%w: %v", ErrUnansweredToolCalls, c.pending)
	}
	c.messages = append(c.messages, NewTextMessage(RoleUser, text))
	return nil
}

// AppendAssistant records a model response. Its tool calls become pending.
func (c *Conversation) AppendAssistant(resp *ChatResponse) error {
	if len(c.pending) > 0 {
		return fmt.Errorf("%w: %v", ErrUnansweredToolCalls, c.pending)
	}
	c.messages = append(c.messages, Message{
		Role:      RoleAssistant,
		Content:   resp.Content,
		ToolCalls: slices.Clone(resp.ToolCalls),
		Thinking:  slices.Clone(resp.Thinking),
	})
	for _, tc := range resp.ToolCalls {
		c.pending = append(c.pending, tc.ID)
	}
	return nil
}

// AppendToolResult answers one pending tool call.
func (c *Conversation) AppendToolResult(call ToolCall, content string, isError bool) error {
	idx := slices.Index(c.pending, call.ID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownToolCall, call.ID)
	}
	c.pending = slices.Delete(c.pending, idx, idx+1)
	c.messages = append(c.messages, NewToolResultMessage(call, content, isError))
	return nil
}

// Ready reports whether the conversation may be sent to the model.
func (c *Conversation) Ready() bool {
	return len(c.pending) == 0
}

// Messages returns the system prompts followed by the history. The slice is
// a copy.
func (c *Conversation) Messages() []Message {
	out := make([]Message, 0, len(c.systemPrompts)+len(c.messages))
	for _, p := range c.systemPrompts {
		out = append(out, NewTextMessage(RoleSystem, p))
	}
	return append(out, c.messages...)
}

// History returns the non-system messages.
func (c *Conversation) History() []Message {
	return slices.Clone(c.messages)
}

// LastAssistantContent returns the most recent non-empty assistant text.
func (c *Conversation) LastAssistantContent() string {
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Role == RoleAssistant && m.Content != "" {
			return m.Content
		}
	}
	return ""
}
