package services

import (
	"sync"
)

// ConnectivityMonitor tracks whether the hosted backend is reachable.
// Transitions are reported by the platform layer; the monitor only keeps
// state and fires the registered callback when the agent comes back online.
// Being offline is a normal operating state, never an error.
type ConnectivityMonitor struct {
	mu       sync.Mutex
	online   bool
	onOnline func()
	onChange func(online bool)
}

// NewConnectivityMonitor creates a monitor with the given initial state
func NewConnectivityMonitor(initialOnline bool) *ConnectivityMonitor {
	return &ConnectivityMonitor{online: initialOnline}
}

// OnOnline registers the callback fired on each offline to online transition
func (m *ConnectivityMonitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = fn
}

// OnChange registers the callback fired on every transition
func (m *ConnectivityMonitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// IsOnline reports the current state
func (m *ConnectivityMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a state transition. Repeated reports of the same state
// are no-ops; only an actual offline to online edge fires the sync callback.
func (m *ConnectivityMonitor) SetOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	onOnline := m.onOnline
	onChange := m.onChange
	m.mu.Unlock()

	if online == wasOnline {
		return
	}

	if onChange != nil {
		onChange(online)
	}
	if online && onOnline != nil {
		// Callbacks must not block the reporter
		go onOnline()
	}
}
