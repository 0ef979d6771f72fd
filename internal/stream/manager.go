// Package stream tracks the coded-frame sessions a receiver is currently
// accepting, keyed by the publisher's session ID.
package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is one publisher connection.
type Session struct {
	ID        uuid.UUID
	Remote    string
	StartedAt time.Time

	frames    atomic.Int64
	bytes     atomic.Int64
	keyframes atomic.Int64
	done      chan struct{}
}

// SessionStats is a snapshot of a session's counters.
type SessionStats struct {
	ID        string `json:"id"`
	Remote    string `json:"remote"`
	UptimeMs  int64  `json:"uptimeMs"`
	Frames    int64  `json:"frames"`
	Bytes     int64  `json:"bytes"`
	KeyFrames int64  `json:"keyFrames"`
}

// Record accounts for one received coded frame.
func (s *Session) Record(size int, keyframe bool) {
	s.frames.Add(1)
	s.bytes.Add(int64(size))
	if keyframe {
		s.keyframes.Add(1)
	}
}

// Done is closed when the session is removed from its manager.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stats returns the session's counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		ID:        s.ID.String(),
		Remote:    s.Remote,
		UptimeMs:  time.Since(s.StartedAt).Milliseconds(),
		Frames:    s.frames.Load(),
		Bytes:     s.bytes.Load(),
		KeyFrames: s.keyframes.Load(),
	}
}

// Manager manages the lifecycle of active sessions.
type Manager struct {
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewManager creates a new session manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log.With("component", "session-manager"),
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Open registers a new session. It returns nil and false if a session with
// this ID is already open.
func (m *Manager) Open(id uuid.UUID, remote string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; ok {
		m.log.Warn("session already open, rejecting duplicate", "session", id, "remote", remote)
		return nil, false
	}

	s := &Session{
		ID:        id,
		Remote:    remote,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	m.sessions[id] = s
	m.log.Info("session opened", "session", id, "remote", remote)
	return s, true
}

// Get returns the open session with the given ID.
func (m *Manager) Get(id uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close removes a session and closes its Done channel.
func (m *Manager) Close(id uuid.UUID) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		st := s.Stats()
		m.log.Info("session closed", "session", id, "frames", st.Frames, "bytes", st.Bytes)
	}
}

// List returns a snapshot of every open session.
func (m *Manager) List() []SessionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SessionStats, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Stats())
	}
	return out
}
