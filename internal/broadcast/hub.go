// Package broadcast fans call-state updates out to live observers, e.g.
// open monitoring streams in the agent UI.
package broadcast

import (
	"sync"

	"dialer-platform/internal/attempt"
)

// Hub delivers updates per user, best-effort and non-blocking. A slow
// observer loses updates rather than stalling the state machine; the next
// update it does receive carries a gap marker. Updates for one attempt are
// published from a single apply path, so per-attempt order is preserved for
// everything actually delivered.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ch  chan attempt.Update
	gap bool
}

const subscriberBuffer = 64

func NewHub() *Hub {
	return &Hub{subs: map[string]map[*subscriber]struct{}{}}
}

// Subscribe registers an observer for one user's updates. The returned
// cancel func must be called when the observer goes away; the channel is
// closed by cancel.
func (h *Hub) Subscribe(userID string) (<-chan attempt.Update, func()) {
	s := &subscriber{ch: make(chan attempt.Update, subscriberBuffer)}

	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = map[*subscriber]struct{}{}
		h.subs[userID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[userID]; ok {
			if _, present := set[s]; present {
				delete(set, s)
				close(s.ch)
			}
			if len(set) == 0 {
				delete(h.subs, userID)
			}
		}
		h.mu.Unlock()
	}
	return s.ch, cancel
}

// Publish delivers u to every observer of userID. Never blocks.
func (h *Hub) Publish(userID string, u attempt.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[userID] {
		out := u
		if s.gap {
			out.Gap = true
		}
		select {
		case s.ch <- out:
			s.gap = false
		default:
			s.gap = true
		}
	}
}

// SubscriberCount reports how many observers a user currently has.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}
