package user

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps users in process memory for STORE_DRIVER=memory and tests
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*User
}

// NewMemoryRepository creates an empty in-memory user repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[uuid.UUID]*User)}
}

// Put inserts or replaces a user
func (r *MemoryRepository) Put(id uuid.UUID, name string) *User {
	now := time.Now()
	u := &User{
		ID:        id,
		Name:      sql.NullString{String: name, Valid: name != ""},
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.mu.Lock()
	r.users[id] = u
	r.mu.Unlock()
	return u
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryRepository) GetSummaries(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uuid.UUID]Summary, len(ids))
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out[id] = u.Summary()
		}
	}
	return out, nil
}

func (r *MemoryRepository) SearchByName(_ context.Context, query string, exclude uuid.UUID, limit int) ([]Summary, error) {
	needle := strings.ToLower(query)

	r.mu.RLock()
	var matched []*User
	for id, u := range r.users {
		if id == exclude || !u.Name.Valid {
			continue
		}
		if strings.Contains(strings.ToLower(u.Name.String), needle) {
			matched = append(matched, u)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name.String != matched[j].Name.String {
			return matched[i].Name.String < matched[j].Name.String
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]Summary, 0, len(matched))
	for _, u := range matched {
		out = append(out, u.Summary())
	}
	return out, nil
}

// Exists reports whether id is known
func (r *MemoryRepository) Exists(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[id]
	return ok
}
