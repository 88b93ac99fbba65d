package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/reeve/internal/llm"
	"github.com/nugget/reeve/internal/orchestrator"
	"github.com/nugget/reeve/internal/store"
)

// maxSessionMessages bounds how much history a session carries into
// the next turn.
const maxSessionMessages = 40

// sessionStore keeps per-session conversation history in memory.
// Sessions do not survive a restart; the cost ledger does.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string][]llm.Message
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string][]llm.Message)}
}

func (ss *sessionStore) history(id string) []llm.Message {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	msgs := ss.sessions[id]
	out := make([]llm.Message, len(msgs))
	copy(out, msgs)
	return out
}

func (ss *sessionStore) save(id string, msgs []llm.Message) {
	if len(msgs) > maxSessionMessages {
		msgs = msgs[len(msgs)-maxSessionMessages:]
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.sessions[id] = msgs
}

// ChatRequest is the chat endpoint's request body.
type ChatRequest struct {
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// handleChat runs one conversation turn and streams progress as SSE
// envelopes: content, tool_start, tool_end, done, error.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	rc := http.NewResponseController(w)
	emit := func(envelope map[string]any) {
		data, err := json.Marshal(envelope)
		if err != nil {
			s.logger.Debug("failed to marshal SSE envelope", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			s.logger.Debug("failed to write SSE envelope", "error", err)
			return
		}
		flusher.Flush()
		// Keep the stream alive through long tool phases.
		if err := rc.SetWriteDeadline(time.Now().Add(120 * time.Second)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
	}

	var toolsUsed []string
	cb := orchestrator.Callbacks{
		OnText: func(text string) {
			emit(map[string]any{"type": "content", "content": text})
		},
		OnToolStart: func(name string) {
			toolsUsed = append(toolsUsed, name)
			emit(map[string]any{"type": "tool_start", "content": name})
		},
		OnToolEnd: func(name, result string) {
			if len(result) > 500 {
				result = result[:500]
			}
			emit(map[string]any{"type": "tool_end", "content": result, "tool": name})
		},
	}

	history := s.sessions.history(req.SessionID)
	result, err := s.orch.Run(r.Context(), req.Domain, req.Message, history, cb)
	if err != nil {
		s.logger.Error("conversation turn failed", "session_id", req.SessionID, "error", err)
		emit(map[string]any{"type": "error", "content": err.Error()})
		return
	}

	s.sessions.save(req.SessionID, result.Messages)
	s.stats.Record(s.model, result.Usage.InputTokens, result.Usage.OutputTokens)
	s.recordCost(req, result, toolsUsed)

	// Every envelope carries "content", including the terminal one;
	// session id and usage ride alongside for clients that track them.
	emit(map[string]any{
		"type":       "done",
		"content":    "",
		"session_id": req.SessionID,
		"usage": map[string]int{
			"input_tokens":  result.Usage.InputTokens,
			"output_tokens": result.Usage.OutputTokens,
		},
	})
}

// recordCost appends the turn to the persistent cost ledger. Failures
// are logged, never surfaced to the client. Uses a fresh context so a
// client that disconnected right after "done" still gets billed.
func (s *Server) recordCost(req ChatRequest, result *orchestrator.Result, toolsUsed []string) {
	rec := store.CostRecord{
		Model:        s.model,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		CostUSD:      store.ComputeCost(s.model, result.Usage.InputTokens, result.Usage.OutputTokens),
		Tools:        strings.Join(toolsUsed, ","),
		SessionID:    req.SessionID,
		Domain:       req.Domain,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.RecordCost(ctx, rec); err != nil {
		s.logger.Warn("failed to record cost", "error", err)
	}
}
