package session

import (
	"sync"
	"time"
)

// Manager serializes work per chat session, so two requests against the same
// session (a double submit) run one after the other while different sessions
// run in parallel.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu       sync.Mutex
	waiters  int
	lastUsed time.Time
}

func NewManager() *Manager {
	return &Manager{
		locks: make(map[string]*sessionLock),
	}
}

// WithLock runs fn while holding the lock for key.
func (m *Manager) WithLock(key string, fn func() error) error {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sessionLock{}
		m.locks[key] = l
	}
	l.waiters++
	m.mu.Unlock()

	l.mu.Lock()
	defer func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.waiters--
		l.lastUsed = time.Now()
		m.mu.Unlock()
	}()

	return fn()
}

// Cleanup drops idle locks not used within maxAge.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	now := time.Now()
	for key, l := range m.locks {
		if l.waiters == 0 && now.Sub(l.lastUsed) > maxAge {
			delete(m.locks, key)
			removed++
		}
	}
	return removed
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
