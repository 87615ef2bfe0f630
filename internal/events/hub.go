package events

import (
	"log"
	"sync"

	"counterpos/backend/internal/domain"
)

const (
	DefaultHistory = 50
	subscriberBuf  = 16
)

// Subscription receives the events of one terminal until Cancel is called.
type Subscription struct {
	C <-chan domain.TerminalEvent

	hub        *Hub
	terminalID string
	ch         chan domain.TerminalEvent
	once       sync.Once
}

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

type Hub struct {
	history int

	mu     sync.Mutex
	subs   map[string]map[*Subscription]bool
	recent map[string][]domain.TerminalEvent
}

func NewHub(history int) *Hub {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Hub{
		history: history,
		subs:    make(map[string]map[*Subscription]bool),
		recent:  make(map[string][]domain.TerminalEvent),
	}
}

// Publish never blocks. A subscriber whose buffer is full misses the event
// but can still read it from Recent.
func (h *Hub) Publish(event domain.TerminalEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := append(h.recent[event.TerminalID], event)
	if len(list) > h.history {
		list = list[len(list)-h.history:]
	}
	h.recent[event.TerminalID] = list

	for sub := range h.subs[event.TerminalID] {
		select {
		case sub.ch <- event:
		default:
			log.Printf("[events] WARN: subscriber of %s is slow, dropped %s", event.TerminalID, event.Kind)
		}
	}
}

func (h *Hub) Subscribe(terminalID string) *Subscription {
	ch := make(chan domain.TerminalEvent, subscriberBuf)
	sub := &Subscription{C: ch, hub: h, terminalID: terminalID, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[terminalID] == nil {
		h.subs[terminalID] = make(map[*Subscription]bool)
	}
	h.subs[terminalID][sub] = true
	return sub
}

// Recent returns up to limit of the newest events of a terminal, oldest first.
func (h *Hub) Recent(terminalID string, limit int) []domain.TerminalEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.recent[terminalID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]domain.TerminalEvent, len(list))
	copy(out, list)
	return out
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.terminalID][sub]; !ok {
		return
	}
	delete(h.subs[sub.terminalID], sub)
	if len(h.subs[sub.terminalID]) == 0 {
		delete(h.subs, sub.terminalID)
	}
	close(sub.ch)
}
