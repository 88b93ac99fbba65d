// Package hub manages live WebSocket clients. The hub subscribes once
// to the event bus and fans every event out to all connected clients.
// Each connection owns a bounded send queue drained by its own writer
// goroutine; a client that cannot keep up is disconnected rather than
// backpressuring the bus.
package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/reeve/internal/events"
)

const (
	// sendQueueSize bounds each connection's outbound queue. A full
	// queue disconnects the client.
	sendQueueSize = 64

	// pingInterval is how long a connection may sit idle before the
	// hub sends a ping to keep it alive.
	pingInterval = 30 * time.Second
)

// Message is one JSON object on the wire.
type Message map[string]any

// Transport is the minimal connection surface the hub needs. Satisfied
// by the gorilla adapter in transport.go and by fakes in tests.
type Transport interface {
	// WriteJSON sends one message. Called from a single goroutine.
	WriteJSON(v any) error
	// ReadText blocks until the next inbound text frame or an error
	// (including normal close).
	ReadText() ([]byte, error)
	// Close tears down the underlying connection.
	Close() error
}

type connection struct {
	id          string
	transport   Transport
	connectedAt time.Time
	eventsSent  atomic.Int64

	send chan Message
	done chan struct{}
	once sync.Once
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.done)
		c.transport.Close()
	})
}

// enqueue offers a message to the connection's send queue. Returns
// false when the queue is full or the connection is closing.
func (c *connection) enqueue(msg Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// ClientStats describes one live connection.
type ClientStats struct {
	ClientID    string    `json:"client_id"`
	ConnectedAt time.Time `json:"connected_at"`
	EventsSent  int64     `json:"events_sent"`
}

// Stats summarizes the hub's live connections.
type Stats struct {
	TotalConnections int           `json:"total_connections"`
	Clients          []ClientStats `json:"clients"`
}

// Hub owns the active connection set. Construct with New; the hub
// subscribes to the event bus exactly once, at construction.
type Hub struct {
	bus    *events.Bus
	logger *slog.Logger

	mu    sync.Mutex
	conns map[*connection]struct{}
}

// New creates a hub wired to the event bus.
func New(bus *events.Bus, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		bus:    bus,
		logger: logger.With("component", "hub"),
		conns:  make(map[*connection]struct{}),
	}
	bus.SubscribeAll(h.onEvent)
	return h
}

// onEvent is the bus callback; every published event becomes one
// broadcast message.
func (h *Hub) onEvent(e events.Event) {
	h.Broadcast(Message{
		"type":      e.Type,
		"data":      e.Data,
		"timestamp": e.Timestamp.Format(time.RFC3339),
		"source":    e.Source,
	})
}

// Count returns the number of active connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Stats reports the active connection set.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Stats{TotalConnections: len(h.conns)}
	for c := range h.conns {
		s.Clients = append(s.Clients, ClientStats{
			ClientID:    c.id,
			ConnectedAt: c.connectedAt,
			EventsSent:  c.eventsSent.Load(),
		})
	}
	return s
}

// Broadcast sends a message to every active connection. A connection
// whose queue is full is disconnected; delivery to the rest continues.
func (h *Hub) Broadcast(msg Message) {
	h.BroadcastExcept(msg, "")
}

// BroadcastExcept is Broadcast minus the connection identified by
// excludeClientID, so a client's own action is not echoed back to it.
// An empty id excludes nothing.
func (h *Hub) BroadcastExcept(msg Message, excludeClientID string) {
	h.mu.Lock()
	targets := make([]*connection, 0, len(h.conns))
	for c := range h.conns {
		if excludeClientID != "" && c.id == excludeClientID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(msg) {
			h.logger.Warn("send queue overflow, disconnecting client", "client_id", c.id)
			h.remove(c)
		}
	}
}

// register adds a connection and sends its welcome acknowledgment.
func (h *Hub) register(t Transport, clientID string) *connection {
	if clientID == "" {
		clientID = "client_" + uuid.NewString()[:8]
	}
	c := &connection{
		id:          clientID,
		transport:   t,
		connectedAt: time.Now(),
		send:        make(chan Message, sendQueueSize),
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("client connected", "client_id", c.id, "total", total)

	c.enqueue(Message{
		"type":      "system",
		"event":     "connected",
		"message":   "Connected to Reeve",
		"timestamp": time.Now().Format(time.RFC3339),
	})
	return c
}

// remove drops a connection from the active set and closes it.
// Idempotent.
func (h *Hub) remove(c *connection) {
	h.mu.Lock()
	_, present := h.conns[c]
	delete(h.conns, c)
	total := len(h.conns)
	h.mu.Unlock()

	c.close()
	if present {
		h.logger.Info("client disconnected", "client_id", c.id, "remaining", total)
	}
}

// Serve runs one client connection to completion: a writer goroutine
// drains the send queue while the main loop handles inbound requests,
// pinging on idle timeout. Serve returns when the client disconnects or
// the transport fails.
func (h *Hub) Serve(t Transport, clientID string) {
	c := h.register(t, clientID)
	defer h.remove(c)

	go h.writeLoop(c)

	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			data, err := t.ReadText()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- data:
			case <-c.done:
				return
			}
		}
	}()

	timer := time.NewTimer(pingInterval)
	defer timer.Stop()

	for {
		select {
		case <-c.done:
			return
		case err := <-readErr:
			h.logger.Debug("client read ended", "client_id", c.id, "error", err)
			return
		case data := <-inbound:
			h.handleInbound(c, data)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(pingInterval)
		case <-timer.C:
			// Idle: ping rather than close.
			c.enqueue(Message{
				"type":      "ping",
				"timestamp": time.Now().Format(time.RFC3339),
			})
			timer.Reset(pingInterval)
		}
	}
}

func (h *Hub) writeLoop(c *connection) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.transport.WriteJSON(msg); err != nil {
				h.logger.Debug("client write failed", "client_id", c.id, "error", err)
				h.remove(c)
				return
			}
			c.eventsSent.Add(1)
		}
	}
}

// clientRequest is one inbound client message.
type clientRequest struct {
	Type  string `json:"type"`
	Limit int    `json:"limit"`
}

func (h *Hub) handleInbound(c *connection, data []byte) {
	var req clientRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.enqueue(Message{
			"type":    "error",
			"message": "Invalid JSON",
		})
		return
	}

	switch req.Type {
	case "ping":
		c.enqueue(Message{
			"type":      "pong",
			"timestamp": time.Now().Format(time.RFC3339),
		})

	case "subscribe":
		// All events are broadcast to every client; acknowledge with
		// the supported types.
		c.enqueue(Message{
			"type":   "subscribed",
			"events": events.Types(),
		})

	case "stats":
		c.enqueue(Message{
			"type": "stats",
			"data": h.Stats(),
		})

	case "history":
		limit := req.Limit
		if limit <= 0 {
			limit = 10
		}
		c.enqueue(Message{
			"type":   "history",
			"events": h.bus.History(limit),
		})

	default:
		h.logger.Warn("unknown client message type",
			"client_id", c.id,
			"type", fmt.Sprintf("%.32s", req.Type),
		)
	}
}
