package websocket

import (
	"sync"

	"schoolchat/pkg/interfaces"
)

// Registry is the process-local presence table. It tracks every live
// connection and at most one bound connection per user (last write wins).
type Registry struct {
	mu          sync.RWMutex
	connections map[string]interfaces.Connection // connID -> connection
	users       map[string]string                // userID -> connID
	owners      map[string]string                // connID -> userID
}

// Stats is a point-in-time snapshot for health and metrics.
type Stats struct {
	Connections int `json:"connections"`
	OnlineUsers int `json:"onlineUsers"`
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		users:       make(map[string]string),
		owners:      make(map[string]string),
	}
}

var _ interfaces.Presence = (*Registry)(nil)

// Add tracks a new, still anonymous connection.
func (r *Registry) Add(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	r.mu.Lock()
	r.connections[conn.ID()] = conn
	r.mu.Unlock()
	return nil
}

// Remove stops tracking connID. Any user binding is left for Unbind.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	delete(r.connections, connID)
	r.mu.Unlock()
}

// Bind points userID at connID. A previous connection of the same user stays
// open but loses its binding; a previous user of the same connection is dropped.
func (r *Registry) Bind(userID, connID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connID]; !ok {
		return ErrUnknownConnection
	}
	if prevUser, ok := r.owners[connID]; ok && prevUser != userID {
		if r.users[prevUser] == connID {
			delete(r.users, prevUser)
		}
	}
	if prevConn, ok := r.users[userID]; ok && prevConn != connID {
		delete(r.owners, prevConn)
	}
	r.users[userID] = connID
	r.owners[connID] = userID
	return nil
}

// Unbind removes the binding held by connID and returns the freed user.
func (r *Registry) Unbind(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owners[connID]
	if !ok {
		return "", false
	}
	delete(r.owners, connID)
	if r.users[userID] == connID {
		delete(r.users, userID)
	}
	return userID, true
}

// Lookup returns the connection bound to userID.
func (r *Registry) Lookup(userID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.users[userID]
	if !ok {
		return nil, false
	}
	conn, ok := r.connections[connID]
	return conn, ok
}

// Connections returns a snapshot of every tracked connection.
func (r *Registry) Connections() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.Connection, 0, len(r.connections))
	for _, c := range r.connections {
		out = append(out, c)
	}
	return out
}

// OnlineUsers returns the ids of every bound user.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.users))
	for u := range r.users {
		out = append(out, u)
	}
	return out
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Connections: len(r.connections), OnlineUsers: len(r.users)}
}
