package events

import (
	"sync"

	"github.com/google/uuid"
)

type Kind string

const (
	EventProgress      Kind = "progress"
	EventNodeLoaded    Kind = "node-loaded"
	EventBudgetReached Kind = "budget-reached"
	EventError         Kind = "error"
)

// Event carries the payload delivered to subscribers. Fields not relevant to
// a given kind are zero.
type Event struct {
	Kind           Kind
	NodeKey        string
	PointCount     int64
	LoadedPoints   int64
	ReservedPoints int64
	TotalPoints    int64
	Err            error
}

type Handler func(Event)

// Hub is a typed publish/subscribe registry. Handlers run synchronously on
// the publishing goroutine, with no ordering guarantee among handlers of the
// same kind.
type Hub struct {
	mu       sync.RWMutex
	handlers map[Kind]map[string]Handler
}

func NewHub() *Hub {
	return &Hub{
		handlers: make(map[Kind]map[string]Handler),
	}
}

// Subscribe registers a handler for the given kind and returns the token to
// unsubscribe it with
func (h *Hub) Subscribe(kind Kind, handler Handler) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	token := uuid.NewString()
	if h.handlers[kind] == nil {
		h.handlers[kind] = make(map[string]Handler)
	}
	h.handlers[kind][token] = handler
	return token
}

func (h *Hub) Unsubscribe(kind Kind, token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers[kind], token)
}

func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.handlers[event.Kind]))
	for _, handler := range h.handlers[event.Kind] {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Clear drops every subscription. Called on teardown.
func (h *Hub) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = make(map[Kind]map[string]Handler)
}

// SubscriberCount returns the number of handlers registered for kind
func (h *Hub) SubscriberCount(kind Kind) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers[kind])
}
