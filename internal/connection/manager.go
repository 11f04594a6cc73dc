package connection

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

var (
	ErrMaxConnectionsReached = errors.New("maximum connections reached")
	ErrSessionNotFound       = errors.New("session not found")
)

// writeTimeout bounds a single write to a client socket.
const writeTimeout = 5 * time.Second

// Session is one identified client connection. A user may hold several.
type Session struct {
	ID            string
	UserID        string
	ConnectedAt   time.Time
	LastHeardFrom time.Time
	Conn          net.Conn
	mu            sync.RWMutex
	writeMu       sync.Mutex
}

// UpdateLastHeardFrom updates the last activity timestamp
func (s *Session) UpdateLastHeardFrom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastHeardFrom = time.Now()
}

// GetLastHeardFrom returns the last activity timestamp
func (s *Session) GetLastHeardFrom() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastHeardFrom
}

// Send writes one newline-terminated frame. Concurrent senders are
// serialized so frames never interleave.
func (s *Session) Send(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.Conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	line := make([]byte, 0, len(frame)+1)
	line = append(append(line, frame...), '\n')
	if _, err := s.Conn.Write(line); err != nil {
		return fmt.Errorf("write to session %s: %w", s.ID, err)
	}
	return nil
}

// Manager tracks identified sessions by id and by user.
type Manager struct {
	sessions map[string]*Session // key: session id
	byUser   map[string][]string // key: user id, value: []session id
	mu       sync.RWMutex
	maxConns int
}

// NewManager creates a new connection manager
func NewManager(maxConnections int) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		byUser:   make(map[string][]string),
		maxConns: maxConnections,
	}
}

// Register adds a session for userID. first reports whether it is the
// user's only session on this manager.
func (m *Manager) Register(sessionID, userID string, conn net.Conn) (session *Session, first bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxConns {
		return nil, false, ErrMaxConnectionsReached
	}

	if _, exists := m.sessions[sessionID]; exists {
		return nil, false, fmt.Errorf("session %s already registered", sessionID)
	}

	now := time.Now()
	session = &Session{
		ID:            sessionID,
		UserID:        userID,
		ConnectedAt:   now,
		LastHeardFrom: now,
		Conn:          conn,
	}

	m.sessions[sessionID] = session
	m.byUser[userID] = append(m.byUser[userID], sessionID)

	return session, len(m.byUser[userID]) == 1, nil
}

// Unregister removes a session. last reports whether the user has no
// sessions left on this manager.
func (m *Manager) Unregister(sessionID string) (userID string, last bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return "", false, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	userID = session.UserID
	if ids, ok := m.byUser[userID]; ok {
		for i, id := range ids {
			if id == sessionID {
				m.byUser[userID] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(m.byUser[userID]) == 0 {
			delete(m.byUser, userID)
			last = true
		}
	}

	delete(m.sessions, sessionID)

	return userID, last, nil
}

// Get retrieves a session by id
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	return session, exists
}

// GetByUser returns the sessions currently held by userID.
func (m *Manager) GetByUser(userID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byUser[userID]
	result := make([]*Session, 0, len(ids))
	for _, id := range ids {
		result = append(result, m.sessions[id])
	}
	return result
}

// SendToUser writes frame to every session of userID and returns how many
// writes succeeded along with the first error.
func (m *Manager) SendToUser(userID string, frame []byte) (int, error) {
	var firstErr error
	sent := 0
	for _, s := range m.GetByUser(userID) {
		if err := s.Send(frame); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
	}
	return sent, firstErr
}

// UpdateActivity updates the last heard from timestamp for a session
func (m *Manager) UpdateActivity(sessionID string) error {
	m.mu.RLock()
	session, exists := m.sessions[sessionID]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	session.UpdateLastHeardFrom()
	return nil
}

// GetInactiveSessions returns session ids not heard from within timeout.
func (m *Manager) GetInactiveSessions(timeout time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var inactive []string

	for id, session := range m.sessions {
		if now.Sub(session.GetLastHeardFrom()) > timeout {
			inactive = append(inactive, id)
		}
	}

	return inactive
}

// Count returns the total number of sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns all session ids
func (m *Manager) GetAllSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns statistics about the connection manager
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		TotalSessions:  len(m.sessions),
		UniqueUsers:    len(m.byUser),
		MaxConnections: m.maxConns,
	}
}

// ManagerStats contains statistics about the connection manager
type ManagerStats struct {
	TotalSessions  int
	UniqueUsers    int
	MaxConnections int
}
