package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwork/social-realtime/internal/domain/events"
	"github.com/mwork/social-realtime/internal/domain/presence"
	"github.com/mwork/social-realtime/internal/domain/relationships"
	"github.com/mwork/social-realtime/internal/domain/user"
	"github.com/mwork/social-realtime/internal/pkg/fanout"
	"github.com/mwork/social-realtime/internal/pkg/jwt"
)

type wsFixture struct {
	server    *httptest.Server
	jwt       *jwt.Service
	hub       *Hub
	handler   *Handler
	lifecycle *presence.Lifecycle
	store     *presence.MemoryStore
	alice     uuid.UUID
	bob       uuid.UUID
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	users := user.NewMemoryRepository()
	alice, bob := uuid.New(), uuid.New()
	users.Put(alice, "Alice")
	users.Put(bob, "Bob")

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()

	notifier := events.NewNotifier(fanout.NewLocal(hub))
	relSvc := relationships.NewService(relationships.NewMemoryRepository(users), notifier, nil)
	store := presence.NewMemoryStore(nil, time.Hour, 30*time.Second)
	lifecycle := presence.NewLifecycle(presence.LifecycleConfig{
		Store:      store,
		Registry:   store,
		Peers:      relSvc,
		Notifier:   notifier,
		InstanceID: "test",
	})

	jwtSvc := jwt.NewService("test-secret", time.Hour)
	handler := NewHandler(HandlerConfig{
		Auth:      NewAuthenticator(jwtSvc, users),
		Hub:       hub,
		Lifecycle: lifecycle,
		Commands:  NewCommands(relSvc, presence.NewService(store, 0), nil),
	})

	r := chi.NewRouter()
	r.Get("/ws", handler.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.Done()
	})

	return &wsFixture{
		server:    srv,
		jwt:       jwtSvc,
		hub:       hub,
		handler:   handler,
		lifecycle: lifecycle,
		store:     store,
		alice:     alice,
		bob:       bob,
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func (f *wsFixture) dial(t *testing.T, as uuid.UUID) *websocket.Conn {
	t.Helper()
	token, err := f.jwt.GenerateAccessToken(as, "")
	require.NoError(t, err)
	before := f.lifecycle.ConnectionCount(as)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(f.server.URL)+"/ws?token="+token, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.Eventually(t, func() bool { return f.lifecycle.ConnectionCount(as) > before }, 2*time.Second, 10*time.Millisecond)
	return conn
}

type wsFrame struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *AckError       `json:"error"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err, "read ws message")
	var frame wsFrame
	require.NoError(t, json.Unmarshal(msg, &frame))
	return frame
}

func sendCommand(t *testing.T, conn *websocket.Conn, cmdType, ref string, data interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": cmdType, "ref": ref, "data": data}))
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	f := newWSFixture(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(f.server.URL)+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(f.server.URL)+"/ws?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, f.hub.ConnectionCount())
}

func TestWebSocketFriendRequestFlow(t *testing.T) {
	f := newWSFixture(t)
	aliceConn := f.dial(t, f.alice)
	defer aliceConn.Close()
	bobConn := f.dial(t, f.bob)
	defer bobConn.Close()

	sendCommand(t, aliceConn, CmdSendRequest, "r1", map[string]string{"friend_id": f.bob.String()})
	ack := readFrame(t, aliceConn)
	require.Equal(t, "ack", ack.Type)
	require.True(t, ack.Success, "%+v", ack.Error)
	assert.Equal(t, "r1", ack.Ref)

	received := readFrame(t, bobConn)
	require.Equal(t, string(events.KindRequestReceived), received.Type)
	var rr events.RequestReceived
	require.NoError(t, json.Unmarshal(received.Data, &rr))
	assert.Equal(t, f.alice, rr.From.ID)
	assert.Equal(t, "PENDING", rr.Status)

	sendCommand(t, bobConn, CmdAcceptRequest, "r2", map[string]string{"request_id": rr.RequestID.String()})
	accepted := readFrame(t, bobConn)
	require.Equal(t, string(events.KindRequestAccepted), accepted.Type)
	ack = readFrame(t, bobConn)
	require.Equal(t, "ack", ack.Type)
	assert.True(t, ack.Success)

	accepted = readFrame(t, aliceConn)
	require.Equal(t, string(events.KindRequestAccepted), accepted.Type)
	var ra events.RequestAccepted
	require.NoError(t, json.Unmarshal(accepted.Data, &ra))
	assert.Equal(t, f.alice, ra.UserID)
	assert.Equal(t, f.bob, ra.FriendID)
	assert.Equal(t, "Bob", ra.Friend.DisplayName())
}

func TestWebSocketPresenceAcrossConnections(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()

	relSvc := f.handler.commands.relationships
	res, err := relSvc.SendRequest(ctx, f.alice, f.bob)
	require.NoError(t, err)
	_, err = relSvc.Respond(ctx, res.Relationship.ID, f.bob, relationships.ActionAccept)
	require.NoError(t, err)

	aliceConn := f.dial(t, f.alice)
	defer aliceConn.Close()

	bob1 := f.dial(t, f.bob)
	online := readFrame(t, aliceConn)
	require.Equal(t, string(events.KindPresenceOnline), online.Type)

	bob2 := f.dial(t, f.bob)
	require.Equal(t, 2, f.lifecycle.ConnectionCount(f.bob))
	require.NoError(t, bob2.Close())
	require.Eventually(t, func() bool { return f.lifecycle.ConnectionCount(f.bob) == 1 }, 2*time.Second, 10*time.Millisecond)

	isOnline, err := f.store.IsOnline(ctx, f.bob)
	require.NoError(t, err)
	assert.True(t, isOnline, "one remaining connection keeps the user online")

	require.NoError(t, bob1.Close())
	offline := readFrame(t, aliceConn)
	require.Equal(t, string(events.KindPresenceOffline), offline.Type)
	var po events.PresenceOffline
	require.NoError(t, json.Unmarshal(offline.Data, &po))
	assert.Equal(t, f.bob, po.UserID)
	assert.False(t, po.Online)
	assert.False(t, po.LastSeen.IsZero())

	bob3 := f.dial(t, f.bob)
	defer bob3.Close()
	// a suppressed offline from bob2 would surface here instead
	again := readFrame(t, aliceConn)
	assert.Equal(t, string(events.KindPresenceOnline), again.Type)
}

func TestWebSocketShutdownClosesConnections(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, f.alice)
	defer conn.Close()

	f.hub.Shutdown()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, f.handler.Wait(ctx))
	assert.Equal(t, 0, f.lifecycle.ConnectionCount(f.alice))

	isOnline, err := f.store.IsOnline(context.Background(), f.alice)
	require.NoError(t, err)
	assert.False(t, isOnline)
}
