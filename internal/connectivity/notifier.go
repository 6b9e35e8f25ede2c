// Package connectivity supplies online/offline transitions to the sync coordinator.
package connectivity

import "sync"

type listener struct {
	id uint64
	fn func(online bool)
}

// notifier keeps the current state and fans transitions out to listeners.
type notifier struct {
	mu        sync.Mutex
	online    bool
	listeners []listener
	nextID    uint64
}

func (n *notifier) IsOnline() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

// Subscribe registers fn for every change of state and returns a func that removes it.
func (n *notifier) Subscribe(fn func(online bool)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, listener{id: id, fn: fn})
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i := range n.listeners {
			if n.listeners[i].id == id {
				n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
				return
			}
		}
	}
}

// set stores the state and reports whether it changed. Listeners run outside the lock.
func (n *notifier) set(online bool) bool {
	n.mu.Lock()
	if n.online == online {
		n.mu.Unlock()
		return false
	}
	n.online = online
	subs := append([]listener(nil), n.listeners...)
	n.mu.Unlock()

	for _, l := range subs {
		l.fn(online)
	}
	return true
}
