// Package llm implements the uniform LLM backend abstraction (C1):
// Complete/CompleteStream over named providers, retry/backoff, a
// structured error taxonomy, and fallback routing between providers.
package llm

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a message in a Request.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// StopReason is why a completion ended.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// Message is one turn in a Request's conversation.
type Message struct {
	Role    Role
	Content string
}

// ToolSchema describes one callable tool offered to the model.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request carries everything a backend needs to produce a Response.
type Request struct {
	Model        string
	Messages     []Message
	MaxTokens    int
	SystemPrompt string
	Tools        []ToolSchema
	Temperature  *float64
	Stream       bool
}

// ContentBlockKind distinguishes Response content blocks.
type ContentBlockKind string

const (
	BlockText    ContentBlockKind = "text"
	BlockToolUse ContentBlockKind = "tool_use"
)

// ContentBlock is one unit of a Response's content.
type ContentBlock struct {
	Kind ContentBlockKind
	Text string

	ToolUseID   string
	ToolName    string
	ToolInput   json.RawMessage
}

// Usage reports token accounting for a Response.
type Usage struct {
	InputTokens       int
	OutputTokens      int
	CacheCreateTokens int
	CacheReadTokens   int
}

// Response is the result of a non-streaming Complete call.
type Response struct {
	ID         string
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
	Provider   string
}

// EventKind enumerates the streaming event types in the SSE contract.
type EventKind string

const (
	EventMessageStart      EventKind = "message_start"
	EventContentBlockStart EventKind = "content_block_start"
	EventContentBlockDelta EventKind = "content_block_delta"
	EventContentBlockStop  EventKind = "content_block_stop"
	EventMessageDelta      EventKind = "message_delta"
	EventMessageStop       EventKind = "message_stop"
	EventPing              EventKind = "ping"
	EventError             EventKind = "error"
)

// Event is one item in a CompleteStream sequence.
type Event struct {
	Kind  EventKind
	Index int

	// message_start
	MessageID string
	Model     string

	// content_block_start
	BlockKind ContentBlockKind

	// content_block_delta: either TextDelta or a fragment of JSON tool input
	TextDelta     string
	InputJSONDelta string

	// message_delta / message_stop
	StopReason StopReason
	Usage      Usage

	// error
	ErrorMessage string
}

// Backend is one LLM provider's uniform contract.
type Backend interface {
	Name() string
	SupportsNativeTools() bool
	Complete(ctx context.Context, req Request) (*Response, error)
	CompleteStream(ctx context.Context, req Request) (<-chan Event, error)
}
