package presence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPresenceRouter(t *testing.T, limit int) (http.Handler, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(clock.NewMock(), time.Hour, 30*time.Second)
	h := NewHandler(NewService(store, limit))
	r := chi.NewRouter()
	h.Mount(r)
	return r, store
}

func postStatus(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/online-status", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestOnlineStatusReportsEveryID(t *testing.T) {
	router, store := newPresenceRouter(t, 100)
	on, off := uuid.New(), uuid.New()
	require.NoError(t, store.MarkOnline(context.Background(), on))

	rr := postStatus(t, router, `{"user_ids":["`+on.String()+`","`+off.String()+`","`+on.String()+`"]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var payload struct {
		Success bool            `json:"success"`
		Data    map[string]bool `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.True(t, payload.Success)
	assert.Equal(t, map[string]bool{on.String(): true, off.String(): false}, payload.Data)
}

func TestOnlineStatusValidation(t *testing.T) {
	router, _ := newPresenceRouter(t, 2)

	assert.Equal(t, http.StatusBadRequest, postStatus(t, router, `nope`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, postStatus(t, router, `{"user_ids":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, postStatus(t, router, `{"user_ids":["not-a-uuid"]}`).Code)

	ids := `"` + uuid.NewString() + `","` + uuid.NewString() + `","` + uuid.NewString() + `"`
	rr := postStatus(t, router, `{"user_ids":[`+ids+`]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "user_ids")
}

func TestServiceDedupesBeforeLimit(t *testing.T) {
	svc := NewService(NewMemoryStore(nil, time.Hour, time.Minute), 1)
	id := uuid.New()

	status, err := svc.OnlineStatus(context.Background(), []uuid.UUID{id, id, id})
	require.NoError(t, err)
	assert.Len(t, status, 1)

	_, err = svc.OnlineStatus(context.Background(), []uuid.UUID{id, uuid.New()})
	assert.ErrorIs(t, err, ErrBatchTooLarge)
	assert.Equal(t, DefaultBatchLimit, NewService(nil, 0).BatchLimit())
}
