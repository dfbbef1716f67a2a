package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SocketRegistry tracks the live chat socket of each session. A session has
// at most one socket; a newer connection replaces the older one.
type SocketRegistry struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewSocketRegistry creates an empty registry.
func NewSocketRegistry() *SocketRegistry {
	return &SocketRegistry{
		active: make(map[string]*websocket.Conn),
	}
}

// Register records conn as the session's socket and closes any previous one.
func (m *SocketRegistry) Register(sessionKey string, conn *websocket.Conn) {
	m.mu.Lock()
	existing, exists := m.active[sessionKey]
	m.active[sessionKey] = conn
	m.mu.Unlock()
	slog.Debug("Chat socket registered", "session_id", sessionKey)

	if exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
}

// Unregister removes conn if it is still the session's socket.
func (m *SocketRegistry) Unregister(sessionKey string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.active[sessionKey]; exists && current == conn {
		delete(m.active, sessionKey)
		slog.Debug("Chat socket unregistered", "session_id", sessionKey)
	}
}

// Len returns the number of live sockets.
func (m *SocketRegistry) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CloseAll closes every live socket. Used on shutdown.
func (m *SocketRegistry) CloseAll() {
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.active))
	for key, conn := range m.active {
		conns = append(conns, conn)
		delete(m.active, key)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
