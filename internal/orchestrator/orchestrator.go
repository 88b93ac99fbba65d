// Package orchestrator drives one conversation turn: it sends the
// message history and capability schemas to the model, streams text to
// the caller, executes any requested capabilities through the
// dispatcher, and resumes the model call until the model stops asking
// for tools.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/reeve/internal/capability"
	"github.com/nugget/reeve/internal/events"
	"github.com/nugget/reeve/internal/llm"
	"github.com/nugget/reeve/internal/speech"
)

// State identifies where a turn is in its lifecycle.
type State int

const (
	StateAwaitingModel State = iota
	StateStreaming
	StateExecutingTools
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "awaiting_model"
	case StateStreaming:
		return "streaming"
	case StateExecutingTools:
		return "executing_tools"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Callbacks receive turn progress. Any callback may be nil. Callbacks
// run on the turn's goroutine, in order: text deltas arrive as they
// stream, tool notifications bracket each execution phase.
type Callbacks struct {
	OnText      func(text string)
	OnToolStart func(name string)
	OnToolEnd   func(name, result string)
}

// Result summarizes a completed turn.
type Result struct {
	// Text is the final assistant message, already delivered
	// incrementally through OnText.
	Text string
	// Usage is token accounting summed across every model call in the
	// turn.
	Usage llm.Usage
	// ModelCalls is how many times the model was called.
	ModelCalls int
	// Messages is the full history after the turn, including the
	// user message, assistant tool requests, and tool results.
	Messages []llm.Message
}

// maxModelCalls bounds the tool loop so a model that keeps requesting
// capabilities cannot spin forever.
const maxModelCalls = 10

// Orchestrator runs conversation turns. Safe for concurrent use; each
// turn owns its own message history.
type Orchestrator struct {
	client     llm.Client
	registry   *capability.Registry
	dispatcher *capability.Dispatcher
	bus        *events.Bus
	logger     *slog.Logger
}

// New creates an orchestrator. bus may be nil in tests.
func New(client llm.Client, registry *capability.Registry, dispatcher *capability.Dispatcher, bus *events.Bus, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		client:     client,
		registry:   registry,
		dispatcher: dispatcher,
		bus:        bus,
		logger:     logger.With("component", "orchestrator"),
	}
}

// Run processes one user message. history carries prior turns and is
// not mutated; the returned Result holds the extended history. A model
// transport failure terminates the turn with an error; capability
// failures do not.
func (o *Orchestrator) Run(ctx context.Context, domain, message string, history []llm.Message, cb Callbacks) (*Result, error) {
	start := time.Now()

	schemas := o.registry.SchemasFor(domain, capability.DomainGeneral)
	tools := make([]llm.Tool, 0, len(schemas))
	for _, s := range schemas {
		tools = append(tools, llm.Tool{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: s.InputSchema,
		})
	}
	system := SystemPrompt(domain)

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: message})

	o.logger.Info("turn started",
		"domain", domain,
		"history", len(history),
		"tools", len(tools),
	)

	state := StateAwaitingModel
	var usage llm.Usage
	calls := 0

	for {
		if calls >= maxModelCalls {
			state = StateFailed
			return nil, fmt.Errorf("turn exceeded %d model calls", maxModelCalls)
		}
		calls++

		state = StateStreaming
		resp, err := o.client.ChatStream(ctx, system, messages, tools, func(e llm.StreamEvent) {
			if e.Kind == llm.KindTextDelta && cb.OnText != nil {
				cb.OnText(e.Text)
			}
		})
		if err != nil {
			state = StateFailed
			o.logger.Error("model call failed",
				"domain", domain,
				"state", state.String(),
				"error", err,
			)
			return nil, fmt.Errorf("model call: %w", err)
		}

		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens

		if len(resp.Message.ToolCalls) == 0 {
			state = StateDone
			messages = append(messages, resp.Message)

			o.logger.Info("turn complete",
				"domain", domain,
				"model_calls", calls,
				"input_tokens", usage.InputTokens,
				"output_tokens", usage.OutputTokens,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			o.publishResponse(domain, resp.Message.Content, usage)

			return &Result{
				Text:       resp.Message.Content,
				Usage:      usage,
				ModelCalls: calls,
				Messages:   messages,
			}, nil
		}

		state = StateExecutingTools
		results := o.executeTools(ctx, resp.Message.ToolCalls, cb)

		messages = append(messages, resp.Message)
		messages = append(messages, results...)
		state = StateAwaitingModel
	}
}

// executeTools dispatches every requested capability concurrently and
// returns one tool-result message per call, preserving the
// call-identifier-to-result correspondence regardless of completion
// order.
func (o *Orchestrator) executeTools(ctx context.Context, calls []llm.ToolCall, cb Callbacks) []llm.Message {
	if cb.OnToolStart != nil {
		for _, call := range calls {
			cb.OnToolStart(call.Name)
		}
	}

	results := make([]llm.Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			res := o.dispatcher.Invoke(ctx, call.Name, call.Arguments)
			results[i] = llm.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    res.Content(),
			}
		}(i, call)
	}
	wg.Wait()

	if cb.OnToolEnd != nil {
		for i, call := range calls {
			cb.OnToolEnd(call.Name, results[i].Content)
		}
	}
	return results
}

func (o *Orchestrator) publishResponse(domain, content string, usage llm.Usage) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.TypeResponse, map[string]any{
		"domain":        domain,
		"content":       content,
		"speech":        speech.PlainText(content),
		"input_tokens":  usage.InputTokens,
		"output_tokens": usage.OutputTokens,
	}, "orchestrator")
}
