// Package llm provides the completion API client layer.
package llm

import (
	"context"
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles used throughout the agent.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents one entry in a conversation transcript.
// All fields use proper Go types — wire format conversion happens
// at the provider boundary (openai.go).
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName are set on tool-result messages and
	// correlate the result with the assistant tool call that caused it.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ToolCall is a structured tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolSchema describes one callable tool to the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest carries everything one model invocation needs: the
// standing instructions, the full tool schema list, and the ordered
// message history. The system text is sent verbatim on every call.
type ChatRequest struct {
	System   string
	Messages []Message
	Tools    []ToolSchema
}

// ChatResponse is the provider-neutral result of one model invocation.
// Either Content is a final natural-language answer, or ToolCalls
// lists the structured tool invocations the model requested.
type ChatResponse struct {
	Model        string
	Content      string
	ToolCalls    []ToolCall
	FinishReason string

	InputTokens  int
	OutputTokens int
}

// Client is the completion API boundary.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
