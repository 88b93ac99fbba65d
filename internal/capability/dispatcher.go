package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/reeve/internal/events"
)

// Result is the uniform invocation envelope. The dispatcher always
// produces one; it never propagates a capability failure as an error.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Content renders the result as text for a tool-result message. Plain
// strings pass through; structured payloads are JSON-encoded.
func (r Result) Content() string {
	if !r.Success {
		return "Error: " + r.Error
	}
	switch v := r.Data.(type) {
	case string:
		return v
	case nil:
		return "ok"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// Dispatcher looks up capabilities by name and invokes them, normalizing
// success and failure into a Result. It publishes tool_execution events
// so live clients see capability activity in real time.
type Dispatcher struct {
	registry *Registry
	bus      *events.Bus
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewDispatcher creates a dispatcher over the given registry. bus may be
// nil in tests; events are then skipped.
func NewDispatcher(registry *Registry, bus *events.Bus, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		bus:      bus,
		logger:   logger.With("component", "dispatch"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// nameLock returns the serialization lock for one capability name.
// Invocations of distinct capabilities run concurrently; invocations of
// the same capability are serialized so completion events never
// interleave.
func (d *Dispatcher) nameLock(name string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[name]
	if !ok {
		l = &sync.Mutex{}
		d.locks[name] = l
	}
	return l
}

// Invoke runs the named capability with the given arguments. Unknown
// names and handler errors (including panics) come back as a failed
// Result; Invoke itself never fails.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args map[string]any) Result {
	c, ok := d.registry.Get(name)
	if !ok {
		d.logger.Warn("unknown capability invoked", "name", name)
		return Result{Success: false, Error: fmt.Sprintf("unknown capability: %s", name)}
	}

	lock := d.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	d.publish(name, "started", "")
	start := time.Now()

	result := d.run(ctx, c, args)

	elapsed := time.Since(start)
	if result.Success {
		d.logger.Info("capability completed",
			"name", name,
			"elapsed", elapsed.Round(time.Millisecond),
		)
		d.publish(name, "completed", summarize(result.Content()))
	} else {
		d.logger.Warn("capability failed",
			"name", name,
			"elapsed", elapsed.Round(time.Millisecond),
			"error", result.Error,
		)
		d.publish(name, "failed", result.Error)
	}
	return result
}

// InvokeJSON decodes argument JSON and invokes. Malformed JSON is
// tolerated by defaulting to an empty argument set.
func (d *Dispatcher) InvokeJSON(ctx context.Context, name, argsJSON string) Result {
	args := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			d.logger.Warn("malformed capability arguments, using empty set",
				"name", name, "error", err)
			args = map[string]any{}
		}
	}
	return d.Invoke(ctx, name, args)
}

// run executes the handler with panic recovery.
func (d *Dispatcher) run(ctx context.Context, c *Capability, args map[string]any) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("capability panicked", "name", c.Name, "panic", r)
			result = Result{Success: false, Error: fmt.Sprintf("%s: internal error: %v", c.Name, r)}
		}
	}()

	data, err := c.Handler(ctx, args)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Data: data}
}

func (d *Dispatcher) publish(name, status, summary string) {
	if d.bus == nil {
		return
	}
	data := map[string]any{
		"name":   name,
		"status": status,
	}
	if summary != "" {
		data["result"] = summary
	}
	d.bus.Publish(events.TypeToolExecution, data, "dispatch")
}

// summarize truncates a result for event payloads.
func summarize(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
