package speech

import (
	"sync"

	"github.com/gorilla/websocket"
)

// SessionRegistry tracks live relay connections so a reconnecting session
// replaces its predecessor and graceful shutdown can close everything.
// Sessions share no other state; this map is the only cross-session
// structure in the process.
type SessionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		conns: make(map[string]*websocket.Conn),
	}
}

// Add registers a connection under the session ID, closing any previous
// connection registered with the same ID.
func (r *SessionRegistry) Add(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.conns[sessionID]; ok {
		old.Close()
	}
	r.conns[sessionID] = conn
}

// Remove drops the registration if it still points at conn. A session that
// was already replaced by a newer connection is left alone.
func (r *SessionRegistry) Remove(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.conns[sessionID]; ok && current == conn {
		delete(r.conns, sessionID)
	}
}

// Len reports the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every registered connection. Used at shutdown.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, conn := range r.conns {
		conn.Close()
		delete(r.conns, id)
	}
}
