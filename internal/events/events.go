// Package events carries the real-time session event stream consumed by
// WebSocket clients and tests.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind identifies an event on the agent stream.
type Kind string

const (
	SessionStarted  Kind = "session_started"
	Thought         Kind = "thought"
	ActionPlanned   Kind = "action_planned"
	ActionStarted   Kind = "action_started"
	ActionCompleted Kind = "action_completed"
	MemoryRead      Kind = "memory_read"
	MemoryWritten   Kind = "memory_written"
	SearchIssued    Kind = "search_issued"
	SearchResult    Kind = "search_result"
	Converged       Kind = "converged"
	Error           Kind = "error"
	SessionEnded    Kind = "session_ended"
)

// Event is one timestamped entry on the stream. ReasoningID correlates
// events belonging to the same reasoning step; it is empty for
// session-scoped events.
type Event struct {
	Kind        Kind           `json:"event"`
	Timestamp   time.Time      `json:"timestamp"`
	SessionID   string         `json:"session_id,omitempty"`
	ReasoningID string         `json:"reasoning_id,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// Hub fans events out to subscribers. Publishing never blocks: a slow
// subscriber drops events rather than stalling the reasoning loop.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]chan Event),
		logger: logger,
	}
}

// Subscribe registers a subscriber. The returned cancel func must be called
// to release the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	id := uuid.New().String()
	ch := make(chan Event, 64)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish timestamps and delivers an event to every subscriber.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			h.logger.Debug("event dropped for slow subscriber", zap.String("kind", string(evt.Kind)))
		}
	}
}

// Emit is shorthand for Publish with field construction at the call site.
func (h *Hub) Emit(kind Kind, sessionID, reasoningID string, fields map[string]any) {
	h.Publish(Event{Kind: kind, SessionID: sessionID, ReasoningID: reasoningID, Fields: fields})
}
