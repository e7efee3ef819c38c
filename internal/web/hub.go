package web

import (
	"sync"

	"github.com/vbonduro/mealchat/internal/conversation"
)

// subscriberBuffer bounds how far a slow event stream may fall behind before
// changes are dropped for it. Replacements carry the full message text, so
// a client that missed some still converges on the latest state.
const subscriberBuffer = 64

// Hub fans conversation changes out to the session's event streams. It is a
// session.Presenter.
type Hub struct {
	mu      sync.Mutex
	subs    map[chan conversation.Change]struct{}
	closed  bool
	dropped int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan conversation.Change]struct{})}
}

// Present never blocks the conversation store.
func (h *Hub) Present(c conversation.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- c:
		default:
			h.dropped++
		}
	}
}

// Subscribe returns a change channel and a func that releases it. The channel
// is closed when the hub closes or the subscription is released.
func (h *Hub) Subscribe() (<-chan conversation.Change, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan conversation.Change, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped reports how many changes were discarded for slow subscribers.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
