package door

import "sync"

// Subscription identifies a subscriber for Unsubscribe.
type Subscription uint64

type subscriber struct {
	id Subscription
	fn func(Change)
}

// EventHook is an ordered list of change subscribers.
type EventHook struct {
	mu     sync.Mutex
	nextID Subscription
	subs   []subscriber
}

// Subscribe appends fn and returns a handle for Unsubscribe.
func (h *EventHook) Subscribe(fn func(Change)) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.subs = append(h.subs, subscriber{id: h.nextID, fn: fn})
	return h.nextID
}

// Unsubscribe removes a subscriber. Unknown handles are ignored.
func (h *EventHook) Unsubscribe(id Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscribers.
func (h *EventHook) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Fire calls every subscriber in subscription order on the calling goroutine.
// Subscribers may subscribe or unsubscribe from inside fn.
func (h *EventHook) Fire(c Change) {
	h.mu.Lock()
	subs := make([]subscriber, len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	for _, s := range subs {
		s.fn(c)
	}
}
