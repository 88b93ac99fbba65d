package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nugget/reeve/internal/capability"
	"github.com/nugget/reeve/internal/events"
	"github.com/nugget/reeve/internal/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedClient replays one canned response per model call, streaming
// text deltas rune by rune before returning.
type scriptedClient struct {
	responses []*llm.ChatResponse
	err       error
	calls     int
	// histories records the message history of each call.
	histories [][]llm.Message
}

func (c *scriptedClient) ChatStream(_ context.Context, _ string, messages []llm.Message, _ []llm.Tool, callback llm.StreamCallback) (*llm.ChatResponse, error) {
	c.histories = append(c.histories, append([]llm.Message(nil), messages...))
	if c.err != nil {
		return nil, c.err
	}
	if c.calls >= len(c.responses) {
		return nil, errors.New("no scripted response left")
	}
	resp := c.responses[c.calls]
	c.calls++

	if callback != nil {
		for _, r := range resp.Message.Content {
			callback(llm.StreamEvent{Kind: llm.KindTextDelta, Text: string(r)})
		}
		for i := range resp.Message.ToolCalls {
			tc := resp.Message.ToolCalls[i]
			callback(llm.StreamEvent{Kind: llm.KindToolCallBegin, ToolCall: &tc})
			callback(llm.StreamEvent{Kind: llm.KindToolCallEnd, ToolCall: &tc})
		}
		callback(llm.StreamEvent{Kind: llm.KindTurnComplete, StopReason: resp.StopReason, Usage: resp.Usage})
	}
	return resp, nil
}

func newHarness(t *testing.T, client llm.Client) (*Orchestrator, *capability.Registry) {
	t.Helper()
	reg := capability.NewRegistry(testLogger())
	bus := events.New(testLogger())
	disp := capability.NewDispatcher(reg, bus, testLogger())
	return New(client, reg, disp, bus, testLogger()), reg
}

func TestRunZeroToolsReachesDoneInOneCycle(t *testing.T) {
	client := &scriptedClient{
		responses: []*llm.ChatResponse{{
			Message:    llm.Message{Role: "assistant", Content: "All quiet."},
			StopReason: llm.StopEndTurn,
			Usage:      llm.Usage{InputTokens: 12, OutputTokens: 3},
		}},
	}
	o, _ := newHarness(t, client)

	var streamed string
	res, err := o.Run(context.Background(), capability.DomainInfra, "status?", nil, Callbacks{
		OnText: func(s string) { streamed += s },
	})
	if err != nil {
		t.Fatal(err)
	}

	if res.ModelCalls != 1 {
		t.Errorf("ModelCalls = %d, want 1", res.ModelCalls)
	}
	if res.Text != "All quiet." {
		t.Errorf("Text = %q", res.Text)
	}
	if streamed != "All quiet." {
		t.Errorf("streamed = %q", streamed)
	}
	if res.Usage.InputTokens != 12 || res.Usage.OutputTokens != 3 {
		t.Errorf("Usage = %+v", res.Usage)
	}
}

func TestRunTwoToolsDispatchedBeforeNextModelCall(t *testing.T) {
	client := &scriptedClient{
		responses: []*llm.ChatResponse{
			{
				Message: llm.Message{
					Role: "assistant",
					ToolCalls: []llm.ToolCall{
						{ID: "call_a", Name: "get_time", Arguments: map[string]any{}},
						{ID: "call_b", Name: "get_weather", Arguments: map[string]any{"units": "metric"}},
					},
				},
				StopReason: llm.StopToolUse,
				Usage:      llm.Usage{InputTokens: 10, OutputTokens: 5},
			},
			{
				Message:    llm.Message{Role: "assistant", Content: "It's noon and sunny."},
				StopReason: llm.StopEndTurn,
				Usage:      llm.Usage{InputTokens: 30, OutputTokens: 8},
			},
		},
	}
	o, reg := newHarness(t, client)

	reg.Register(&capability.Capability{
		Name:   "get_time",
		Domain: capability.DomainGeneral,
		Handler: func(context.Context, map[string]any) (any, error) {
			return "12:00", nil
		},
	})
	reg.Register(&capability.Capability{
		Name:   "get_weather",
		Domain: capability.DomainGeneral,
		Handler: func(context.Context, map[string]any) (any, error) {
			return "sunny", nil
		},
	})

	var started, ended []string
	res, err := o.Run(context.Background(), capability.DomainGeneral, "time and weather?", nil, Callbacks{
		OnToolStart: func(name string) { started = append(started, name) },
		OnToolEnd:   func(name, _ string) { ended = append(ended, name) },
	})
	if err != nil {
		t.Fatal(err)
	}

	if res.ModelCalls != 2 {
		t.Errorf("ModelCalls = %d, want 2", res.ModelCalls)
	}
	if len(started) != 2 || len(ended) != 2 {
		t.Fatalf("started = %v, ended = %v", started, ended)
	}

	// The second model call must carry the assistant tool requests and
	// one tool result per call, keyed by the original identifiers.
	second := client.histories[1]
	last := second[len(second)-1]
	secondToLast := second[len(second)-2]

	assistant := second[len(second)-3]
	if len(assistant.ToolCalls) != 2 {
		t.Fatalf("assistant message has %d tool calls", len(assistant.ToolCalls))
	}

	gotIDs := map[string]string{}
	for _, m := range []llm.Message{secondToLast, last} {
		if m.Role != "tool" {
			t.Fatalf("expected tool-result message, got role %s", m.Role)
		}
		gotIDs[m.ToolCallID] = m.Content
	}
	if gotIDs["call_a"] != "12:00" {
		t.Errorf("call_a result = %q", gotIDs["call_a"])
	}
	if gotIDs["call_b"] != "sunny" {
		t.Errorf("call_b result = %q", gotIDs["call_b"])
	}

	// Usage accumulates across both model calls.
	if res.Usage.InputTokens != 40 || res.Usage.OutputTokens != 13 {
		t.Errorf("Usage = %+v", res.Usage)
	}
}

func TestRunCapabilityFailureDoesNotAbortTurn(t *testing.T) {
	client := &scriptedClient{
		responses: []*llm.ChatResponse{
			{
				Message: llm.Message{
					Role: "assistant",
					ToolCalls: []llm.ToolCall{
						{ID: "call_x", Name: "flaky", Arguments: map[string]any{}},
					},
				},
				StopReason: llm.StopToolUse,
			},
			{
				Message:    llm.Message{Role: "assistant", Content: "That integration is down."},
				StopReason: llm.StopEndTurn,
			},
		},
	}
	o, reg := newHarness(t, client)
	reg.Register(&capability.Capability{
		Name:   "flaky",
		Domain: capability.DomainGeneral,
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("connection refused")
		},
	})

	res, err := o.Run(context.Background(), capability.DomainGeneral, "check it", nil, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "That integration is down." {
		t.Errorf("Text = %q", res.Text)
	}

	second := client.histories[1]
	toolMsg := second[len(second)-1]
	if toolMsg.Content != "Error: connection refused" {
		t.Errorf("tool result = %q", toolMsg.Content)
	}
}

func TestRunModelTransportErrorFailsTurn(t *testing.T) {
	client := &scriptedClient{err: errors.New("connection reset")}
	o, _ := newHarness(t, client)

	_, err := o.Run(context.Background(), capability.DomainGeneral, "hello", nil, Callbacks{})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRunPublishesResponseEvent(t *testing.T) {
	client := &scriptedClient{
		responses: []*llm.ChatResponse{{
			Message:    llm.Message{Role: "assistant", Content: "Done."},
			StopReason: llm.StopEndTurn,
		}},
	}

	reg := capability.NewRegistry(testLogger())
	bus := events.New(testLogger())
	disp := capability.NewDispatcher(reg, bus, testLogger())
	o := New(client, reg, disp, bus, testLogger())

	var published []events.Event
	bus.Subscribe(events.TypeResponse, func(e events.Event) {
		published = append(published, e)
	})

	if _, err := o.Run(context.Background(), capability.DomainInfra, "hi", nil, Callbacks{}); err != nil {
		t.Fatal(err)
	}

	if len(published) != 1 {
		t.Fatalf("expected 1 response event, got %d", len(published))
	}
	if published[0].Data["content"] != "Done." {
		t.Errorf("event content = %v", published[0].Data["content"])
	}
	if published[0].Data["speech"] != "Done." {
		t.Errorf("event speech = %v", published[0].Data["speech"])
	}
}

func TestRunDoesNotMutateCallerHistory(t *testing.T) {
	client := &scriptedClient{
		responses: []*llm.ChatResponse{{
			Message:    llm.Message{Role: "assistant", Content: "Again?"},
			StopReason: llm.StopEndTurn,
		}},
	}
	o, _ := newHarness(t, client)

	history := make([]llm.Message, 0, 8)
	history = append(history, llm.Message{Role: "user", Content: "first"})
	history = append(history, llm.Message{Role: "assistant", Content: "reply"})

	res, err := o.Run(context.Background(), capability.DomainGeneral, "second", history, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Errorf("caller history length changed to %d", len(history))
	}
	if len(res.Messages) != 4 {
		t.Errorf("result history length = %d, want 4", len(res.Messages))
	}
}

func TestSystemPromptFallback(t *testing.T) {
	if SystemPrompt("bogus") != SystemPrompt(capability.DomainGeneral) {
		t.Error("unknown domain did not fall back to general prompt")
	}
	if SystemPrompt(capability.DomainInfra) == SystemPrompt(capability.DomainGeneral) {
		t.Error("infra prompt should differ from general")
	}
}
