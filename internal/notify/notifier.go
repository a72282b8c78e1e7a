// Package notify provides the in-process change notifier that keeps every
// subscriber in the same process consistent with the local store without a
// network round trip.
package notify

import "sync"

// Notifier fans a change signal out to registered subscribers. Delivery is
// synchronous: Broadcast returns only after every callback registered at the
// time of the call has run, so observers in the mutating goroutine always
// see the store's post-write state.
type Notifier struct {
	mu          sync.Mutex
	subscribers map[int64]func()
	nextID      int64
}

// NewNotifier returns an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{subscribers: make(map[int64]func())}
}

// Subscribe registers a callback and returns its unsubscribe function.
// Unsubscribing is idempotent and removes exactly this registration.
func (n *Notifier) Subscribe(fn func()) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subscribers[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subscribers, id)
		n.mu.Unlock()
	}
}

// Broadcast invokes every registered callback in the caller's goroutine.
// Callbacks run outside the lock, so they may subscribe or unsubscribe
// without deadlocking; registrations made during a broadcast are not
// invoked until the next one.
func (n *Notifier) Broadcast() {
	n.mu.Lock()
	callbacks := make([]func(), 0, len(n.subscribers))
	for _, fn := range n.subscribers {
		callbacks = append(callbacks, fn)
	}
	n.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}
