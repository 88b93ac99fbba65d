// Package llm provides the language-model client boundary.
package llm

import "context"

// Message represents one chat message in a conversation history.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool-result messages
}

// ToolCall is a model request to invoke one capability.
type ToolCall struct {
	// ID is the provider-assigned call identifier, required to
	// correlate tool results back to requests.
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Tool describes one capability to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// Usage is provider-neutral token accounting for one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Stop reasons reported by the model.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ChatResponse is the final message accessor for one model call,
// available after the stream ends.
type ChatResponse struct {
	Model      string
	Message    Message
	StopReason string
	Usage      Usage
}

// StreamEventKind identifies the type of a stream event.
type StreamEventKind int

const (
	// KindTextDelta is an incremental text fragment from the model.
	KindTextDelta StreamEventKind = iota

	// KindToolCallBegin fires when the model opens a tool-use block.
	// ToolCall carries the call identifier and capability name; the
	// arguments arrive incrementally afterward.
	KindToolCallBegin

	// KindToolCallDelta carries a fragment of the in-progress
	// argument JSON for the current tool-use block.
	KindToolCallDelta

	// KindToolCallEnd fires when a tool-use block closes. ToolCall
	// carries the fully parsed arguments.
	KindToolCallEnd

	// KindTurnComplete signals the stream ended. StopReason and Usage
	// are populated.
	KindTurnComplete
)

// StreamEvent is a single event in a streaming model response.
// Consumers switch on Kind to determine which fields are set.
type StreamEvent struct {
	Kind StreamEventKind

	// Text is set for KindTextDelta.
	Text string

	// ToolCall is set for KindToolCallBegin and KindToolCallEnd.
	ToolCall *ToolCall

	// PartialJSON is set for KindToolCallDelta.
	PartialJSON string

	// StopReason and Usage are set for KindTurnComplete.
	StopReason string
	Usage      Usage
}

// StreamCallback receives stream events in arrival order, on the
// goroutine driving the model call.
type StreamCallback func(StreamEvent)

// Client is the model boundary. Implementations stream events through
// the callback and return the assembled final response.
type Client interface {
	// ChatStream sends the message history and tool schemas to the
	// model. When callback is non-nil the response is streamed; events
	// arrive in order and the returned ChatResponse reflects the
	// complete assistant message.
	ChatStream(ctx context.Context, system string, messages []Message, tools []Tool, callback StreamCallback) (*ChatResponse, error)
}
