package handlers

import (
	"sync"

	"chat-sync/internal/metrics"
)

// SessionManager tracks the live WebSocket sessions of every user.
type SessionManager struct {
	mu sync.RWMutex
	// sessionID -> session
	sessions map[string]*Session
}

var Manager = NewSessionManager()

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// Register stores a new session.
// Returns true if this is the first session for this user (user just came online)
func (m *SessionManager) Register(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasOnline := m.countLocked(s.UserID) > 0
	m.sessions[s.ID] = s
	metrics.LiveSessions.Inc()
	return !wasOnline
}

// Unregister removes a session.
// Returns true if this was the last session for the user (user is now offline)
func (m *SessionManager) Unregister(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	delete(m.sessions, sessionID)
	metrics.LiveSessions.Dec()
	return m.countLocked(s.UserID) == 0
}

// IsUserOnline checks if any active session belongs to the given user
func (m *SessionManager) IsUserOnline(userID string) bool {
	return m.CountUserSessions(userID) > 0
}

// CountUserSessions returns the number of active sessions for a user
func (m *SessionManager) CountUserSessions(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked(userID)
}

func (m *SessionManager) countLocked(userID string) int {
	count := 0
	for _, s := range m.sessions {
		if s.UserID == userID {
			count++
		}
	}
	return count
}
