// Package model defines the provider-agnostic chat completion contract used by
// the agent engine. Adapters under features/model translate Request and
// Response into provider SDK calls (OpenAI, Anthropic).
package model

import (
	"context"
	"errors"
)

type (
	// Client invokes a chat completion. A single method covers both plain chat
	// and tool-calling requests: callers control tool use through Request.Tools
	// and Request.ToolChoice. Timeouts come from the ctx deadline.
	// Implementations must be safe for concurrent use.
	Client interface {
		Complete(ctx context.Context, req *Request) (*Response, error)
	}

	// Request is a normalized completion request.
	Request struct {
		// Model overrides the adapter's default model when non-empty.
		Model string
		// Messages is the ordered conversation sent to the model.
		Messages []*Message
		// Temperature controls sampling. Zero means deterministic decoding.
		Temperature float32
		// MaxTokens caps completion tokens. Zero uses the adapter default.
		MaxTokens int
		// Tools lists the functions the model may call.
		Tools []*ToolDefinition
		// ToolChoice controls whether the model may call tools. The zero value
		// behaves like ToolChoiceAuto when Tools is non-empty.
		ToolChoice ToolChoice
	}

	// Response is the normalized completion result.
	Response struct {
		// Content is the assistant text. It may be empty when the model only
		// requested tool calls.
		Content string
		// ToolCalls lists the tool invocations requested by the model.
		ToolCalls []ToolCall
		// Usage reports token counts when the provider returns them.
		Usage TokenUsage
		// StopReason is the provider-specific termination reason.
		StopReason string
	}

	// Message is one entry of the conversation.
	Message struct {
		Role    ConversationRole
		Content string
		// ToolCalls is set on assistant messages that requested tools.
		ToolCalls []ToolCall
		// ToolCallID correlates a tool message with the originating call.
		ToolCallID string
		// Name is the tool name on tool messages.
		Name string
	}

	// ToolDefinition describes a function exposed to the model.
	ToolDefinition struct {
		Name        string
		Description string
		// InputSchema is a JSON Schema object describing the arguments.
		InputSchema map[string]any
	}

	// ToolCall is a tool invocation requested by the model.
	ToolCall struct {
		ID   string
		Name string
		// Arguments is the raw JSON arguments string produced by the model.
		// It may be malformed; callers decide how to recover.
		Arguments string
	}

	// TokenUsage records prompt and completion token counts.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// ConversationRole is the role of a message author.
	ConversationRole string

	// ToolChoice selects how the model may use tools.
	ToolChoice string
)

const (
	ConversationRoleSystem    ConversationRole = "system"
	ConversationRoleUser      ConversationRole = "user"
	ConversationRoleAssistant ConversationRole = "assistant"
	ConversationRoleTool      ConversationRole = "tool"
)

const (
	// ToolChoiceAuto lets the model decide whether to call tools.
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceNone forbids tool calls; the model must answer in text.
	ToolChoiceNone ToolChoice = "none"
)

// ErrRateLimited is returned (possibly wrapped) by adapters when the provider
// throttles the request.
var ErrRateLimited = errors.New("model: rate limited")

// Text returns a message with the given role and text content.
func Text(role ConversationRole, content string) *Message {
	return &Message{Role: role, Content: content}
}

// ToolResult returns a tool message answering call.
func ToolResult(call ToolCall, content string) *Message {
	return &Message{
		Role:       ConversationRoleTool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}
