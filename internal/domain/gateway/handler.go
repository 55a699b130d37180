package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mwork/social-realtime/internal/middleware"
	"github.com/mwork/social-realtime/internal/pkg/logger"
	"github.com/mwork/social-realtime/internal/pkg/response"
)

// WebSocket constants
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	presenceWait   = 10 * time.Second
)

// Lifecycle is told about every connection that joins or closes
type Lifecycle interface {
	Joined(ctx context.Context, userID uuid.UUID) error
	Closed(ctx context.Context, userID uuid.UUID) error
}

// Handler upgrades authenticated requests and runs one reader and one writer per connection
type Handler struct {
	auth      *Authenticator
	hub       *Hub
	lifecycle Lifecycle
	commands  *Commands
	sendSize  int
	upgrader  websocket.Upgrader
	active    sync.WaitGroup
}

// HandlerConfig holds gateway handler collaborators
type HandlerConfig struct {
	Auth           *Authenticator
	Hub            *Hub
	Lifecycle      Lifecycle
	Commands       *Commands
	SendBufferSize int
	AllowedOrigins []string
}

// NewHandler creates websocket gateway handler
func NewHandler(cfg HandlerConfig) *Handler {
	allowedOrigins := cfg.AllowedOrigins
	return &Handler{
		auth:      cfg.Auth,
		hub:       cfg.Hub,
		lifecycle: cfg.Lifecycle,
		commands:  cfg.Commands,
		sendSize:  cfg.SendBufferSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")

				if len(allowedOrigins) == 0 || origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if allowed == "*" || origin == allowed {
						return true
					}
				}

				log.Warn().Str("origin", origin).Msg("WebSocket origin rejected")
				return false
			},
		},
	}
}

// ServeWS handles GET /ws
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, reason, err := h.auth.Authenticate(r)
	if err != nil {
		handshakeRejectedTotal.WithLabelValues(reason).Inc()
		logger.LogDebug(r.Context(), "WebSocket handshake rejected", "reason", reason)
		response.Unauthorized(w, "Missing or invalid authorization")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := NewConnection(conn, identity, h.sendSize)
	_ = client.Advance(StateAuthenticated)

	ctx := middleware.WithIdentity(context.WithoutCancel(r.Context()), identity.UserID, identity.DisplayName)
	ctx = logger.WithFields(ctx, "user_id", identity.UserID.String(), "conn_id", client.ID.String())

	if err := h.hub.Register(client); err != nil {
		log.Warn().Err(err).Msg("WebSocket registered after shutdown")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	h.active.Add(1)

	if h.lifecycle != nil {
		jctx, cancel := context.WithTimeout(ctx, presenceWait)
		if err := h.lifecycle.Joined(jctx, identity.UserID); err != nil {
			logger.LogWarn(ctx, "Failed to mark user online", "error", err.Error())
		}
		cancel()
	}
	_ = client.Advance(StateJoined)

	go h.wsWriter(ctx, client)
	go h.wsReader(ctx, client)
}

// close runs the exactly-once teardown for a connection
func (h *Handler) close(ctx context.Context, client *Connection) {
	client.closeOnce.Do(func() {
		defer h.active.Done()
		client.state.close()

		h.hub.Unregister(client)
		_ = client.Conn.Close()

		if h.lifecycle != nil {
			cctx, cancel := context.WithTimeout(ctx, presenceWait)
			defer cancel()
			if err := h.lifecycle.Closed(cctx, client.UserID); err != nil {
				logger.LogWarn(ctx, "Failed to mark user offline", "error", err.Error())
			}
		}
	})
}

func (h *Handler) wsReader(ctx context.Context, client *Connection) {
	defer h.close(ctx, client)

	client.Conn.SetReadLimit(maxMessageSize)
	_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.LogWarn(ctx, "WebSocket read error", "error", err.Error())
			}
			return
		}

		if h.commands == nil {
			continue
		}
		ack := h.commands.Handle(ctx, client.UserID, message)
		if !h.hub.Send(client, ack) {
			logger.LogDebug(ctx, "Dropped command ack")
		}
	}
}

func (h *Handler) wsWriter(ctx context.Context, client *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.close(ctx, client)
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Wait blocks until every connection has finished its teardown or ctx is done
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
