package protocol

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one MCP session, keyed by Mcp-Session-Id.
type Session struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionManager is an in-memory session store with TTL refresh and a
// background sweep, matching SPEC_FULL.md §4.8's 30-minute default TTL.
// It is the only session store: SESSION_BACKEND is read into the config but
// nothing selects a different backend.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
}

func NewSessionManager(ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionManager{sessions: make(map[string]*Session), ttl: ttl}
}

// Create allocates a new session id.
func (m *SessionManager) Create() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Session{ID: uuid.NewString(), CreatedAt: time.Now(), ExpiresAt: time.Now().Add(m.ttl)}
	m.sessions[s.ID] = s
	return s
}

// Touch resumes an existing session and refreshes its TTL; ok is false when
// the id is unknown or expired.
func (m *SessionManager) Touch(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || time.Now().After(s.ExpiresAt) {
		delete(m.sessions, id)
		return nil, false
	}
	s.ExpiresAt = time.Now().Add(m.ttl)
	return s, true
}

// Delete evicts a session immediately (DELETE /mcp).
func (m *SessionManager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Sweep removes expired sessions; RunSweeper calls it periodically from the
// background goroutine that NewServer starts.
func (m *SessionManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// RunSweeper blocks until stop is closed, sweeping at the given interval.
func (m *SessionManager) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
