package interfaces

// Connection is a live client socket as seen by the routing layer.
// WriteEvent must be safe for concurrent use.
type Connection interface {
	// ID returns the server-assigned connection id.
	ID() string

	// UserID returns the user this connection authenticated as, or "".
	UserID() string

	// WriteEvent queues an {"event","data"} frame for the client.
	WriteEvent(event string, data interface{}) error

	Close() error
}

// Presence answers "where is this user connected right now".
type Presence interface {
	// Lookup returns the connection currently bound to userID.
	Lookup(userID string) (Connection, bool)

	// Connections returns every live connection, bound or not.
	Connections() []Connection
}
