// Package notify pushes booking notifications to connected users over
// websockets. Connections live in an explicit registry with add/remove/lookup
// operations; nothing else in the process holds connection state.
package notify

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/carpool-matching/internal/models"
)

// Session wraps one user's websocket connection. gorilla/websocket allows a
// single concurrent writer, hence the mutex.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Registry maps user IDs to live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry { return &Registry{sessions: make(map[string]*Session)} }

// Add registers conn for userID, replacing any previous session.
func (r *Registry) Add(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[userID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[userID] = &Session{conn: conn}
}

// Remove drops the session for userID if it is still the one registered.
func (r *Registry) Remove(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok && s.conn == conn {
		delete(r.sessions, userID)
	}
}

// Connected reports whether userID has a live session.
func (r *Registry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}

// Push delivers a notification to userID if connected. An absent session is
// not an error; the consumer persists the notification regardless.
func (r *Registry) Push(userID string, n models.Notification) error {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := s.send(n); err != nil {
		r.Remove(userID, s.conn)
		return err
	}
	return nil
}
