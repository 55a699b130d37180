package relationships

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mwork/social-realtime/internal/pkg/database"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skipf("db not available")
	}
	db, err := database.NewPostgres(dsn)
	if err != nil {
		t.Skipf("db not available: %v", err)
	}
	t.Cleanup(func() { database.ClosePostgres(db) })
	if err := database.EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return db
}

func seedUsers(t *testing.T, db *sqlx.DB, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
		if _, err := db.Exec(`INSERT INTO users (id, name) VALUES ($1, $2)`, ids[i], "user"); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	t.Cleanup(func() {
		for _, id := range ids {
			_, _ = db.Exec(`DELETE FROM relationships WHERE requester_id = $1 OR addressee_id = $1`, id)
			_, _ = db.Exec(`DELETE FROM user_blocks WHERE blocker_user_id = $1 OR blocked_user_id = $1`, id)
			_, _ = db.Exec(`DELETE FROM users WHERE id = $1`, id)
		}
	})
	return ids
}

func TestPostgresRepositoryLifecycle(t *testing.T) {
	db := openTestDB(t)
	ids := seedUsers(t, db, 2)
	a, b := ids[0], ids[1]
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svc := NewService(NewRepository(db), nil, nil)

	sent, err := svc.SendRequest(ctx, a, b)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := svc.SendRequest(ctx, b, a); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("expected ErrAlreadyPending, got %v", err)
	}
	if _, err := svc.Respond(ctx, sent.Relationship.ID, b, ActionAccept); err != nil {
		t.Fatalf("accept: %v", err)
	}

	peers, err := svc.ListAcceptedPeerIDs(ctx, a, 10, 0)
	if err != nil || len(peers) != 1 || peers[0] != b {
		t.Fatalf("expected b as peer, got %v (%v)", peers, err)
	}

	if _, err := svc.Block(ctx, b, a); err != nil {
		t.Fatalf("block: %v", err)
	}
	friends, total, err := svc.ListFriends(ctx, a, Page{})
	if err != nil || total != 0 || len(friends) != 0 {
		t.Fatalf("block should drop friendship, got %d (%v)", total, err)
	}
	if _, err := svc.Block(ctx, b, a); !errors.Is(err, ErrAlreadyBlocked) {
		t.Fatalf("expected ErrAlreadyBlocked, got %v", err)
	}
	if _, err := svc.Unblock(ctx, b, a); err != nil {
		t.Fatalf("unblock: %v", err)
	}
}

func TestPostgresRepositoryConcurrentCrossRequests(t *testing.T) {
	db := openTestDB(t)
	ids := seedUsers(t, db, 2)
	svc := NewService(NewRepository(db), nil, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 10; i++ {
		from, to := ids[0], ids[1]
		if i%2 == 1 {
			from, to = to, from
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.SendRequest(context.Background(), from, to); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one request to win, got %d", successes)
	}
}
