package ledger

import (
	"sync"
	"sync/atomic"

	"github.com/workforce-ai/compute/internal/domain"
)

// Listener receives the account state after a mutation. acct is a private
// copy owned by the listener; it is nil after logout.
type Listener func(acct *domain.Account)

type subscription struct {
	fn     Listener
	active atomic.Bool
}

// Hub dispatches account snapshots to listeners in registration order,
// synchronously on the caller's goroutine.
type Hub struct {
	mu   sync.Mutex
	subs []*subscription
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Subscribe registers fn and returns a function that removes it.
// Calling the returned function more than once is a no-op.
func (h *Hub) Subscribe(fn Listener) (unsubscribe func()) {
	sub := &subscription{fn: fn}
	sub.active.Store(true)

	h.mu.Lock()
	h.subs = append(h.subs, sub)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, s := range h.subs {
				if s == sub {
					h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Notify calls every listener with its own copy of acct.
// The listener set is snapshotted first, so listeners may unsubscribe
// themselves or others while being called.
func (h *Hub) Notify(acct *domain.Account) {
	h.mu.Lock()
	subs := make([]*subscription, len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	for _, sub := range subs {
		// Removed during this dispatch.
		if !sub.active.Load() {
			continue
		}
		var snap *domain.Account
		if acct != nil {
			c := acct.Clone()
			snap = &c
		}
		sub.fn(snap)
	}
}

// Len returns the number of registered listeners.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
