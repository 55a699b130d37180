package gateway

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection represents a WebSocket connection
type Connection struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	DisplayName string
	Conn        *websocket.Conn
	Send        chan []byte

	state     stateMachine
	closeOnce sync.Once
}

// NewConnection creates a connection in the Connecting state
func NewConnection(conn *websocket.Conn, identity Identity, sendSize int) *Connection {
	if sendSize <= 0 {
		sendSize = 256
	}
	return &Connection{
		ID:          uuid.New(),
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Conn:        conn,
		Send:        make(chan []byte, sendSize),
	}
}

// State returns the current lifecycle state
func (c *Connection) State() State {
	return c.state.load()
}

// Advance moves the connection one step along Connecting -> Authenticated -> Joined
func (c *Connection) Advance(to State) error {
	return c.state.advance(to)
}
