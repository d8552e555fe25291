// Package connectivity reports whether the backend is reachable.
//
// A Monitor holds the current state and fans transitions out to subscribers.
// Every subscriber first receives the state at subscription time, then one
// value per transition. A Source feeds the Monitor from some reachability
// signal: a fixed value (Static) or a presence websocket (WebSocketSource).
package connectivity

import (
	"context"
	"log/slog"
	"sync"
)

// Monitor is the connectivity state and its subscribers.
//
// Thread-safety: all methods are safe for concurrent use.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int
	logger *slog.Logger
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = l
	}
}

// NewMonitor returns a monitor whose current state is initial.
func NewMonitor(initial bool, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		online: initial,
		subs:   make(map[int]chan bool),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current reports whether the backend is reachable right now.
func (m *Monitor) Current() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the reachability state. Subscribers are notified only when the
// state changes.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return
	}
	m.online = online

	m.logger.Info("connectivity changed", "event", "connectivity", "online", online)
	for _, ch := range m.subs {
		offer(ch, online)
	}
}

// Subscribe returns a channel that immediately yields the current state and
// then every transition. A subscriber that falls behind only sees the latest
// state. The returned cancel func closes the channel; it may be called more
// than once.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	ch := make(chan bool, 1)
	ch <- m.online
	m.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Run feeds the monitor from src until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, src Source) error {
	return src.Watch(ctx, m.Set)
}

// offer replaces any unread value in ch with v without blocking.
// Callers hold m.mu, so offer is the channel's only writer.
func offer(ch chan bool, v bool) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
