// Package connectivity tracks the last known network class and pushes
// changes to subscribers.
package connectivity

import (
	"log/slog"
	"sync"

	"github.com/mmcdole/lull/internal/domain"
)

// Monitor holds the current connectivity class.
// Implements domain.ConnectivitySource.
type Monitor struct {
	mu      sync.RWMutex
	current domain.Connectivity
	subs    map[int]chan domain.Connectivity
	nextID  int
	logger  *slog.Logger
}

// NewMonitor creates a monitor starting at initial.
func NewMonitor(initial domain.Connectivity, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		current: initial,
		subs:    make(map[int]chan domain.Connectivity),
		logger:  logger,
	}
}

// Current returns the last known class.
func (m *Monitor) Current() domain.Connectivity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Update records a new class and notifies subscribers if it changed.
// Subscribers that are not keeping up miss the event; Current is always right.
func (m *Monitor) Update(c domain.Connectivity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c == m.current {
		return
	}
	m.logger.Info("connectivity changed", "from", m.current, "to", c)
	m.current = c
	for _, ch := range m.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// Subscribe returns a channel of changes and a function that ends the subscription.
func (m *Monitor) Subscribe() (<-chan domain.Connectivity, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan domain.Connectivity, 4)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}
