package handlers

import (
	"sync"
	"time"

	"github.com/example/breastcare/internal/usecase"
)

// defaultSessionIdleTTL bounds how long an untouched session (and its
// orchestrator) is kept. Anonymous sessions are keyed by client address, so
// without eviction the registry would grow for the server's lifetime.
const defaultSessionIdleTTL = 30 * time.Minute

type sessionEntry struct {
	orch     *usecase.Orchestrator
	lastSeen time.Time
}

// SessionManager hands out one upload orchestrator per session key, creating
// it on first use and evicting sessions idle beyond the TTL. Each session
// owns its own state machine and animator.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	factory  func() *usecase.Orchestrator
	idleTTL  time.Duration
	now      func() time.Time
}

// NewSessionManager builds a manager around an orchestrator factory.
func NewSessionManager(factory func() *usecase.Orchestrator) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*sessionEntry),
		factory:  factory,
		idleTTL:  defaultSessionIdleTTL,
		now:      time.Now,
	}
}

// Get returns the session's orchestrator, creating it if needed. Sessions
// untouched for longer than the idle TTL are swept on the way.
func (m *SessionManager) Get(key string) *usecase.Orchestrator {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.evictIdleLocked(now, key)

	if entry, ok := m.sessions[key]; ok {
		entry.lastSeen = now
		return entry.orch
	}
	orch := m.factory()
	m.sessions[key] = &sessionEntry{orch: orch, lastSeen: now}
	return orch
}

func (m *SessionManager) evictIdleLocked(now time.Time, keep string) {
	for key, entry := range m.sessions {
		if key == keep {
			continue
		}
		if now.Sub(entry.lastSeen) > m.idleTTL {
			entry.orch.Close()
			delete(m.sessions, key)
		}
	}
}

// Close tears down every session, stopping any running animator timers.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, entry := range m.sessions {
		entry.orch.Close()
		delete(m.sessions, key)
	}
}
