package netmon

import "sync"

// Monitor holds the current connectivity signal fed in from outside (the
// device's reachability API, a health prober, or the HTTP surface in
// development). Subscribers are notified only on edges; Set with an
// unchanged value is silent.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   []func(online bool)
}

// New creates a monitor with the given initial state. No edge is fired for
// the initial value.
func New(online bool) *Monitor {
	return &Monitor{online: online}
}

// Online returns the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange registers a subscriber called on every state transition.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Set updates the state and, on a transition, notifies subscribers.
// Subscribers run outside the lock so they may call back into the monitor.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}
