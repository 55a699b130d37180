package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository defines user data access interface
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetSummaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Summary, error)
	// SearchByName matches names case-insensitively, skipping exclude.
	SearchByName(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]Summary, error)
}

// repository implements Repository
type repository struct {
	db *sqlx.DB
}

// NewRepository creates new user repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

// GetByID returns user by ID, or nil when absent
func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT id, name, image, created_at, updated_at FROM users WHERE id = $1`
	var u User
	err := r.db.GetContext(ctx, &u, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// GetSummaries returns summaries for the ids that exist. Missing ids are simply absent from the map.
func (r *repository) GetSummaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Summary, error) {
	out := make(map[uuid.UUID]Summary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT id, name, image, created_at, updated_at FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("user repository summaries: %w", err)
	}
	var users []User
	if err := r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("user repository summaries: %w", err)
	}
	for i := range users {
		out[users[i].ID] = users[i].Summary()
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *repository) SearchByName(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]Summary, error) {
	q := `
		SELECT id, name, image, created_at, updated_at
		FROM users
		WHERE id <> $1 AND name ILIKE $2
		ORDER BY name, id
		LIMIT $3
	`
	var users []User
	if err := r.db.SelectContext(ctx, &users, q, exclude, "%"+likeEscaper.Replace(query)+"%", limit); err != nil {
		return nil, fmt.Errorf("user repository search: %w", err)
	}
	out := make([]Summary, 0, len(users))
	for i := range users {
		out = append(out, users[i].Summary())
	}
	return out, nil
}
