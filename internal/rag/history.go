package rag

import (
	"sync"

	"github.com/google/uuid"

	"github.com/PoshanP/ThinkFolio-sub000/internal/llm"
)

// HistoryWindow keeps a bounded per-session view of recent conversation
// turns. It is a cache over the persisted message log: Seed rebuilds it from
// storage, and the window size caps how much history reaches the prompt.
type HistoryWindow struct {
	mu       sync.RWMutex
	window   int
	sessions map[uuid.UUID][]llm.Message
}

// NewHistoryWindow creates a window keeping the last n messages per session.
func NewHistoryWindow(n int) *HistoryWindow {
	if n <= 0 {
		n = 6
	}
	return &HistoryWindow{
		window:   n,
		sessions: make(map[uuid.UUID][]llm.Message),
	}
}

// Append adds one turn, trimming the oldest beyond the window.
func (h *HistoryWindow) Append(sessionID uuid.UUID, role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgs := append(h.sessions[sessionID], llm.Message{Role: role, Content: content})
	if len(msgs) > h.window {
		msgs = msgs[len(msgs)-h.window:]
	}
	h.sessions[sessionID] = msgs
}

// Get returns a copy of the window for a session, oldest first.
func (h *HistoryWindow) Get(sessionID uuid.UUID) []llm.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msgs := h.sessions[sessionID]
	out := make([]llm.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Seed replaces the window with the tail of persisted messages.
func (h *HistoryWindow) Seed(sessionID uuid.UUID, msgs []llm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(msgs) > h.window {
		msgs = msgs[len(msgs)-h.window:]
	}
	cp := make([]llm.Message, len(msgs))
	copy(cp, msgs)
	h.sessions[sessionID] = cp
}

// Has reports whether the session already has a cached window.
func (h *HistoryWindow) Has(sessionID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[sessionID]
	return ok
}

// Clear drops a session's window.
func (h *HistoryWindow) Clear(sessionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
}

// Window returns the configured window size.
func (h *HistoryWindow) Window() int {
	return h.window
}
