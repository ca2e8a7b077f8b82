package tenants

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/slideflow/internal/interfaces"
)

// Manager enforces the max_active_users cap. Users past the cap wait in a
// strict FIFO queue; a released slot always goes to the queue head.
type Manager struct {
	maxActive   int
	active      map[string]bool
	activeOrder []string
	queue       []string
	queued      map[string]bool
	mu          sync.Mutex
	logger      arbor.ILogger
}

// NewManager creates a new tenant manager
func NewManager(maxActiveUsers int, logger arbor.ILogger) interfaces.TenantManager {
	return &Manager{
		maxActive: maxActiveUsers,
		active:    make(map[string]bool),
		queued:    make(map[string]bool),
		logger:    logger,
	}
}

// Admit requests a slot for the user. Idempotent for users already ACTIVE
// or already QUEUED.
func (m *Manager) Admit(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active[userID] {
		return true
	}
	if m.queued[userID] {
		return false
	}

	if len(m.active) < m.maxActive {
		m.active[userID] = true
		m.activeOrder = append(m.activeOrder, userID)
		m.logger.Info().
			Str("user_id", userID).
			Int("active_users", len(m.active)).
			Msg("User admitted")
		return true
	}

	m.queue = append(m.queue, userID)
	m.queued[userID] = true
	m.logger.Info().
		Str("user_id", userID).
		Int("queue_position", len(m.queue)).
		Msg("User queued, active slots full")
	return false
}

// Release frees the user's slot and promotes the queue head. Releasing a
// user that holds no slot also removes them from the queue.
func (m *Manager) Release(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active[userID] {
		m.removeQueued(userID)
		return ""
	}

	delete(m.active, userID)
	m.removeActive(userID)
	m.logger.Info().
		Str("user_id", userID).
		Int("active_users", len(m.active)).
		Msg("User slot released")

	if len(m.queue) == 0 {
		return ""
	}

	next := m.queue[0]
	m.queue = m.queue[1:]
	delete(m.queued, next)
	m.active[next] = true
	m.activeOrder = append(m.activeOrder, next)
	m.logger.Info().
		Str("user_id", next).
		Msg("Queued user promoted")
	return next
}

// StateOf returns the admission state of the user
func (m *Manager) StateOf(userID string) interfaces.TenantState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active[userID] {
		return interfaces.TenantActive
	}
	if m.queued[userID] {
		return interfaces.TenantQueued
	}
	return interfaces.TenantIdle
}

// ActiveCount returns the number of users holding slots
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// ActiveUsers returns slot holders in admission order
func (m *Manager) ActiveUsers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.activeOrder))
	copy(out, m.activeOrder)
	return out
}

// QueuedUsers returns the waiting users in queue order
func (m *Manager) QueuedUsers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.queue))
	copy(out, m.queue)
	return out
}

// MaxActiveUsers returns the configured slot count
func (m *Manager) MaxActiveUsers() int {
	return m.maxActive
}

func (m *Manager) removeActive(userID string) {
	for i, id := range m.activeOrder {
		if id == userID {
			m.activeOrder = append(m.activeOrder[:i], m.activeOrder[i+1:]...)
			return
		}
	}
}

func (m *Manager) removeQueued(userID string) {
	if !m.queued[userID] {
		return
	}
	delete(m.queued, userID)
	for i, id := range m.queue {
		if id == userID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}
