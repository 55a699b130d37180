package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrHubClosed = errors.New("hub closed")

type hubOp struct {
	conn *Connection
	done chan struct{}
}

// Hub owns the local connection table. Registration goes through the Run
// loop; delivery reads the table under a shared lock.
type Hub struct {
	connections map[uuid.UUID]map[*Connection]struct{}
	mu          sync.RWMutex

	register   chan hubOp
	unregister chan hubOp

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a new connection hub
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		connections: make(map[uuid.UUID]map[*Connection]struct{}),
		register:    make(chan hubOp),
		unregister:  make(chan hubOp),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Run serves registration until ctx is done or Shutdown is called,
// then closes every remaining connection's send channel.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil

		case <-h.ctx.Done():
			h.closeAll()
			return nil

		case op := <-h.register:
			h.mu.Lock()
			if h.connections[op.conn.UserID] == nil {
				h.connections[op.conn.UserID] = make(map[*Connection]struct{})
			}
			h.connections[op.conn.UserID][op.conn] = struct{}{}
			h.mu.Unlock()
			connectionsGauge.Inc()
			close(op.done)
			log.Debug().Str("user_id", op.conn.UserID.String()).Msg("User connected to WebSocket")

		case op := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.connections[op.conn.UserID]; ok {
				if _, exists := conns[op.conn]; exists {
					delete(conns, op.conn)
					close(op.conn.Send)
					connectionsGauge.Dec()
				}
				if len(conns) == 0 {
					delete(h.connections, op.conn.UserID)
				}
			}
			h.mu.Unlock()
			close(op.done)
			log.Debug().Str("user_id", op.conn.UserID.String()).Msg("User disconnected from WebSocket")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, conns := range h.connections {
		for conn := range conns {
			close(conn.Send)
			connectionsGauge.Dec()
		}
		delete(h.connections, userID)
	}
}

func (h *Hub) submit(ch chan hubOp, conn *Connection) error {
	op := hubOp{conn: conn, done: make(chan struct{})}
	select {
	case ch <- op:
	case <-h.done:
		return ErrHubClosed
	}
	<-op.done
	return nil
}

// Register adds a connection and returns once it can receive frames
func (h *Hub) Register(conn *Connection) error {
	return h.submit(h.register, conn)
}

// Unregister removes a connection and closes its send channel
func (h *Hub) Unregister(conn *Connection) {
	_ = h.submit(h.unregister, conn)
}

// DeliverLocal queues payload on every local connection bound to channel.
// Full buffers drop the frame for that connection only.
func (h *Hub) DeliverLocal(channel string, payload []byte) int {
	userID, err := uuid.Parse(channel)
	if err != nil {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for conn := range h.connections[userID] {
		select {
		case conn.Send <- payload:
			eventsSentTotal.Inc()
			delivered++
		default:
			eventsDroppedTotal.Inc()
			log.Warn().Str("user_id", userID.String()).Msg("WebSocket send buffer full")
		}
	}
	return delivered
}

// Send queues payload on a single registered connection
func (h *Hub) Send(conn *Connection, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.connections[conn.UserID][conn]; !ok {
		return false
	}
	select {
	case conn.Send <- payload:
		eventsSentTotal.Inc()
		return true
	default:
		eventsDroppedTotal.Inc()
		return false
	}
}

// ConnectionCount returns number of local connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.connections {
		total += len(conns)
	}
	return total
}

// UserConnectionCount returns number of local connections for userID
func (h *Hub) UserConnectionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}

// Shutdown stops the run loop
func (h *Hub) Shutdown() {
	h.cancel()
}

// Done is closed once the run loop has exited
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
