package events

import "sync"

// DefaultHistoryLimit bounds how many events a History keeps.
const DefaultHistoryLimit = 200

// History keeps the most recent events in memory so late observers can catch
// up. Timer ticks are not retained.
type History struct {
	Sink

	mu     sync.Mutex
	events []AuctionEvent
	limit  int
}

// NewHistory creates a history holding at most limit events
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	h := &History{limit: limit}
	h.Sink = h.record
	return h
}

func (h *History) record(event AuctionEvent) {
	if event.Type == EventTypeTimerTick {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, event)
	if over := len(h.events) - h.limit; over > 0 {
		h.events = append(h.events[:0:0], h.events[over:]...)
	}
}

// Recent returns a copy of the retained events, oldest first
func (h *History) Recent() []AuctionEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]AuctionEvent, len(h.events))
	copy(out, h.events)
	return out
}
