// Package visibility tracks whether the user is looking at the client. The
// terminal dashboard feeds it from focus events; the pollers and the order
// stream read it to pause work while hidden and to catch up on return.
package visibility

import "sync"

// Tracker holds the current visibility and fans transitions out to
// subscribers.
type Tracker struct {
	mu      sync.Mutex
	visible bool
	subs    map[int]chan bool
	nextSub int
}

// New returns a tracker in the given state.
func New(visible bool) *Tracker {
	return &Tracker{visible: visible, subs: make(map[int]chan bool)}
}

// Visible reports the current state. A nil tracker is always visible.
func (t *Tracker) Visible() bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

// Set records the new state. Subscribers are notified only on a transition.
func (t *Tracker) Set(visible bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.visible == visible {
		return
	}
	t.visible = visible
	for _, ch := range t.subs {
		// Latest wins: drop a transition the reader has not consumed yet.
		select {
		case <-ch:
		default:
		}
		ch <- visible
	}
}

// Subscribe returns a channel receiving the new state on every transition.
// A nil tracker returns a channel that never fires.
func (t *Tracker) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)
	if t == nil {
		return ch, func() {}
	}
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}
