// Package stream delivers coordination events to external observers over
// WebSocket and Server-Sent Events.
package stream

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnManager tracks open WebSocket observer connections.
type ConnManager struct {
	mu     sync.RWMutex
	active map[int64]*websocket.Conn
	nextID int64
}

// NewConnManager creates a new connection manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[int64]*websocket.Conn),
	}
}

// Register adds a connection and returns its id.
func (m *ConnManager) Register(conn *websocket.Conn) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.active[m.nextID] = conn
	slog.Debug("Observer connection registered", "conn_id", m.nextID)
	return m.nextID
}

// Unregister removes a connection if it is still the one registered under id.
func (m *ConnManager) Unregister(id int64, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[id]; ok && current == conn {
		delete(m.active, id)
		slog.Debug("Observer connection unregistered", "conn_id", id)
	}
}

// Count returns the number of open connections.
func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CloseAll closes every connection with a going-away status. Used on shutdown.
func (m *ConnManager) CloseAll(reason string) {
	m.mu.Lock()
	conns := m.active
	m.active = make(map[int64]*websocket.Conn)
	m.mu.Unlock()

	for id, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, reason)
		slog.Info("Observer connection closed", "conn_id", id, "reason", reason)
	}
}
