// Package streams fans live check results out to websocket subscribers.
package streams

import (
	"errors"
	"log/slog"
	"sync"
)

var ErrClosed = errors.New("stream manager closed")

// DefaultBuffer is the per-subscriber backlog before it is dropped.
const DefaultBuffer = 64

type subscriber struct {
	id   uint64
	data chan []byte
}

// Manager delivers published messages to every subscriber of a key.
// Publishing never blocks: a subscriber whose buffer is full is removed.
type Manager struct {
	mu       sync.Mutex
	channels map[string]map[uint64]*subscriber
	nextID   uint64
	buffer   int
	closed   bool
	logger   *slog.Logger
}

// Subscription is a receive handle returned by Subscribe.
type Subscription struct {
	key     string
	id      uint64
	C       <-chan []byte
	manager *Manager
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		channels: make(map[string]map[uint64]*subscriber),
		buffer:   DefaultBuffer,
		logger:   logger.With("component", "streams"),
	}
}

// Close ends every subscription; their channels are closed.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for key, subs := range m.channels {
		for _, sub := range subs {
			close(sub.data)
		}
		delete(m.channels, key)
	}
}

// Subscribe registers a new receiver for key.
func (m *Manager) Subscribe(key string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	subs, ok := m.channels[key]
	if !ok {
		subs = make(map[uint64]*subscriber)
		m.channels[key] = subs
		m.logger.Debug("stream channel created", "key", key)
	}

	m.nextID++
	sub := &subscriber{id: m.nextID, data: make(chan []byte, m.buffer)}
	subs[sub.id] = sub

	return &Subscription{key: key, id: sub.id, C: sub.data, manager: m}, nil
}

// Close removes the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.manager.unsubscribe(s.key, s.id)
}

func (m *Manager) unsubscribe(key string, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(key, id)
}

func (m *Manager) removeLocked(key string, id uint64) {
	subs, ok := m.channels[key]
	if !ok {
		return
	}
	sub, ok := subs[id]
	if !ok {
		return
	}
	close(sub.data)
	delete(subs, id)
	if len(subs) == 0 {
		delete(m.channels, key)
	}
}

// Publish hands body to every subscriber of key and returns how many
// received it.
func (m *Manager) Publish(key string, body []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	delivered := 0
	for id, sub := range m.channels[key] {
		select {
		case sub.data <- cloneBytes(body):
			delivered++
		default:
			m.logger.Warn("dropping slow subscriber", "key", key, "subscriber", id)
			m.removeLocked(key, id)
		}
	}
	return delivered, nil
}

// Subscribers returns the number of receivers on key.
func (m *Manager) Subscribers(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels[key])
}

func cloneBytes(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out
}
