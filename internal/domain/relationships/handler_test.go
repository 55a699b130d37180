package relationships

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/social-realtime/internal/domain/user"
	"github.com/mwork/social-realtime/internal/middleware"
	"github.com/mwork/social-realtime/internal/pkg/jwt"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
	Meta *struct {
		Total int `json:"total"`
	} `json:"meta"`
}

type handlerFixture struct {
	server *httptest.Server
	jwt    *jwt.Service
	alice  uuid.UUID
	bob    uuid.UUID
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	users := user.NewMemoryRepository()
	alice, bob := uuid.New(), uuid.New()
	users.Put(alice, "Alice")
	users.Put(bob, "Bob")

	svc := NewService(NewMemoryRepository(users), nil, nil)
	jwtSvc := jwt.NewService("test-secret", time.Hour)
	h := NewHandler(svc)

	srv := httptest.NewServer(h.Routes(middleware.Auth(jwtSvc)))
	t.Cleanup(srv.Close)
	return &handlerFixture{server: srv, jwt: jwtSvc, alice: alice, bob: bob}
}

func (f *handlerFixture) do(t *testing.T, as uuid.UUID, method, path string, body interface{}) (int, apiEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if as != uuid.Nil {
		token, err := f.jwt.GenerateAccessToken(as, "")
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, env
}

func TestHandlerRequiresAuth(t *testing.T) {
	f := newHandlerFixture(t)
	status, _ := f.do(t, uuid.Nil, http.MethodGet, "/", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
}

func TestHandlerFriendRequestFlow(t *testing.T) {
	f := newHandlerFixture(t)

	status, env := f.do(t, f.alice, http.MethodPost, "/requests", map[string]string{"friend_id": f.bob.String()})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	var created RequestResponse
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if created.Status != StatusPending || created.Direction != DirectionSent {
		t.Fatalf("unexpected request view: %#v", created)
	}
	if created.To.Name == nil || *created.To.Name != "Bob" {
		t.Fatalf("expected recipient summary, got %#v", created.To)
	}

	status, env = f.do(t, f.alice, http.MethodPost, "/requests", map[string]string{"friend_id": f.bob.String()})
	if status != http.StatusConflict || env.Error == nil || env.Error.Code != "ALREADY_PENDING" {
		t.Fatalf("expected 409 ALREADY_PENDING, got %d %#v", status, env.Error)
	}

	status, env = f.do(t, f.bob, http.MethodGet, "/requests?type=received", nil)
	if status != http.StatusOK || env.Meta == nil || env.Meta.Total != 1 {
		t.Fatalf("expected one received request, got %d", status)
	}

	path := "/requests/" + created.ID.String()
	status, env = f.do(t, f.alice, http.MethodPatch, path, map[string]string{"action": "accept"})
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for requester accept, got %d", status)
	}

	status, _ = f.do(t, f.bob, http.MethodPatch, path, map[string]string{"action": "maybe"})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid action, got %d", status)
	}

	status, env = f.do(t, f.bob, http.MethodPatch, path, map[string]string{"action": "accept"})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}

	status, env = f.do(t, f.alice, http.MethodGet, "/", nil)
	if status != http.StatusOK || env.Meta == nil || env.Meta.Total != 1 {
		t.Fatalf("expected one friend, got %d", status)
	}
	var friends []FriendResponse
	if err := json.Unmarshal(env.Data, &friends); err != nil {
		t.Fatalf("decode friends: %v", err)
	}
	if friends[0].Friend.ID != f.bob {
		t.Fatalf("expected bob as friend, got %s", friends[0].Friend.ID)
	}

	status, _ = f.do(t, f.bob, http.MethodDelete, "/"+f.alice.String(), nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 on remove, got %d", status)
	}
	status, env = f.do(t, f.bob, http.MethodDelete, "/"+f.alice.String(), nil)
	if status != http.StatusNotFound || env.Error.Code != "FRIENDSHIP_NOT_FOUND" {
		t.Fatalf("expected 404 on second remove, got %d", status)
	}
}

func TestHandlerBlockFlow(t *testing.T) {
	f := newHandlerFixture(t)

	status, _ := f.do(t, f.alice, http.MethodPost, "/block/"+f.bob.String(), nil)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	status, env := f.do(t, f.alice, http.MethodPost, "/block/"+f.bob.String(), nil)
	if status != http.StatusConflict || env.Error.Code != "ALREADY_BLOCKED" {
		t.Fatalf("expected 409, got %d", status)
	}
	status, env = f.do(t, f.bob, http.MethodPost, "/requests", map[string]string{"friend_id": f.alice.String()})
	if status != http.StatusBadRequest || env.Error.Code != "BLOCKED" {
		t.Fatalf("expected 400 BLOCKED, got %d", status)
	}

	status, env = f.do(t, f.alice, http.MethodGet, "/block", nil)
	if status != http.StatusOK || env.Meta.Total != 1 {
		t.Fatalf("expected one block, got %d", status)
	}

	status, _ = f.do(t, f.alice, http.MethodDelete, "/block/"+f.bob.String(), nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 on unblock, got %d", status)
	}
	status, _ = f.do(t, f.alice, http.MethodDelete, "/block/"+f.bob.String(), nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 on second unblock, got %d", status)
	}
	status, _ = f.do(t, f.alice, http.MethodPost, "/block/not-a-uuid", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", status)
	}
}

func TestHandlerSearchUsers(t *testing.T) {
	f := newHandlerFixture(t)

	if status, _ := f.do(t, f.alice, http.MethodPost, "/requests", map[string]string{"friend_id": f.bob.String()}); status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}

	status, env := f.do(t, f.alice, http.MethodGet, "/search?q=bo", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var body struct {
		Users []SearchUserResponse `json:"users"`
		Total int                  `json:"total"`
	}
	if err := json.Unmarshal(env.Data, &body); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if body.Total != 1 || len(body.Users) != 1 {
		t.Fatalf("expected one hit, got %+v", body)
	}
	if body.Users[0].User.ID != f.bob || body.Users[0].RelationStatus != RelationPendingSent {
		t.Fatalf("unexpected hit: %+v", body.Users[0])
	}

	status, env = f.do(t, f.alice, http.MethodGet, "/search?q=alice", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if err := json.Unmarshal(env.Data, &body); err != nil || body.Total != 0 {
		t.Fatalf("caller must not find themselves, got %+v (%v)", body, err)
	}

	if status, _ = f.do(t, f.alice, http.MethodGet, "/search", nil); status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without q, got %d", status)
	}
	if status, _ = f.do(t, f.alice, http.MethodGet, "/search?q=b&limit=50", nil); status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for limit over 20, got %d", status)
	}
	if status, _ = f.do(t, f.alice, http.MethodGet, "/search?q=b&limit=x", nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric limit, got %d", status)
	}
}

func TestErrorStatusDefaultsTo500(t *testing.T) {
	status, code := ErrorStatus(errPairConflict)
	if status != http.StatusInternalServerError || code != "INTERNAL_ERROR" {
		t.Fatalf("unexpected mapping: %d %s", status, code)
	}
}
