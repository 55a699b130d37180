package relationships

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mwork/social-realtime/internal/domain/user"
)

const relationshipColumns = `id, requester_id, addressee_id, status, created_at, updated_at`

type repository struct {
	db    *sqlx.DB
	users user.Repository
}

// NewRepository creates new relationships repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db, users: user.NewRepository(db)}
}

func (r *repository) WithinTx(ctx context.Context, fn func(tx TxRepository) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("relationships begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txRepository{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("relationships commit: %w", err)
	}
	return nil
}

func (r *repository) ListFriends(ctx context.Context, userID uuid.UUID, page Page) ([]*Relationship, int, error) {
	where := `(requester_id = $1 OR addressee_id = $1) AND status = 'ACCEPTED'`
	return r.listRelationships(ctx, where, page, userID)
}

func (r *repository) ListPending(ctx context.Context, userID uuid.UUID, direction Direction, page Page) ([]*Relationship, int, error) {
	var where string
	switch direction {
	case DirectionReceived:
		where = `addressee_id = $1 AND status = 'PENDING'`
	case DirectionSent:
		where = `requester_id = $1 AND status = 'PENDING'`
	default:
		where = `(requester_id = $1 OR addressee_id = $1) AND status = 'PENDING'`
	}
	return r.listRelationships(ctx, where, page, userID)
}

func (r *repository) listRelationships(ctx context.Context, where string, page Page, userID uuid.UUID) ([]*Relationship, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM relationships WHERE `+where, userID); err != nil {
		return nil, 0, fmt.Errorf("count relationships: %w", err)
	}

	query := `SELECT ` + relationshipColumns + ` FROM relationships WHERE ` + where +
		` ORDER BY updated_at DESC, id LIMIT $2 OFFSET $3`
	var rels []*Relationship
	if err := r.db.SelectContext(ctx, &rels, query, userID, page.Limit, page.Offset); err != nil {
		return nil, 0, fmt.Errorf("list relationships: %w", err)
	}
	return rels, total, nil
}

func (r *repository) ListBlocks(ctx context.Context, userID uuid.UUID, page Page) ([]*BlockRelation, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM user_blocks WHERE blocker_user_id = $1`, userID); err != nil {
		return nil, 0, fmt.Errorf("count blocks: %w", err)
	}

	query := `
		SELECT id, blocker_user_id, blocked_user_id, created_at
		FROM user_blocks
		WHERE blocker_user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`
	var blocks []*BlockRelation
	if err := r.db.SelectContext(ctx, &blocks, query, userID, page.Limit, page.Offset); err != nil {
		return nil, 0, fmt.Errorf("list blocks: %w", err)
	}
	return blocks, total, nil
}

func (r *repository) ListAcceptedPeerIDs(ctx context.Context, userID uuid.UUID, limit, offset int) ([]uuid.UUID, error) {
	query := `
		SELECT CASE WHEN requester_id = $1 THEN addressee_id ELSE requester_id END AS peer_id
		FROM relationships
		WHERE (requester_id = $1 OR addressee_id = $1) AND status = 'ACCEPTED'
		ORDER BY peer_id
		LIMIT $2 OFFSET $3
	`
	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("list accepted peers: %w", err)
	}
	return ids, nil
}

func (r *repository) GetUserSummaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]user.Summary, error) {
	return r.users.GetSummaries(ctx, ids)
}

func (r *repository) SearchUsers(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]user.Summary, error) {
	return r.users.SearchByName(ctx, query, exclude, limit)
}

func (r *repository) RelationsWith(ctx context.Context, viewer uuid.UUID, ids []uuid.UUID) ([]*Relationship, []*BlockRelation, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	others := make([]string, len(ids))
	for i, id := range ids {
		others[i] = id.String()
	}

	var rels []*Relationship
	relQuery := `SELECT ` + relationshipColumns + ` FROM relationships
		WHERE (requester_id = $1 AND addressee_id = ANY($2::uuid[]))
		   OR (addressee_id = $1 AND requester_id = ANY($2::uuid[]))`
	if err := r.db.SelectContext(ctx, &rels, relQuery, viewer, pq.Array(others)); err != nil {
		return nil, nil, fmt.Errorf("relations with: %w", err)
	}

	var blocks []*BlockRelation
	blockQuery := `
		SELECT id, blocker_user_id, blocked_user_id, created_at
		FROM user_blocks
		WHERE (blocker_user_id = $1 AND blocked_user_id = ANY($2::uuid[]))
		   OR (blocked_user_id = $1 AND blocker_user_id = ANY($2::uuid[]))
	`
	if err := r.db.SelectContext(ctx, &blocks, blockQuery, viewer, pq.Array(others)); err != nil {
		return nil, nil, fmt.Errorf("blocks with: %w", err)
	}
	return rels, blocks, nil
}

type txRepository struct {
	tx *sqlx.Tx
}

func (t *txRepository) LockUsers(ctx context.Context, a, b uuid.UUID) (map[uuid.UUID]user.Summary, error) {
	query := `
		SELECT id, name, image, created_at, updated_at
		FROM users
		WHERE id IN ($1, $2)
		ORDER BY id
		FOR UPDATE
	`
	var users []user.User
	if err := t.tx.SelectContext(ctx, &users, query, a, b); err != nil {
		return nil, fmt.Errorf("lock users: %w", err)
	}
	out := make(map[uuid.UUID]user.Summary, len(users))
	for i := range users {
		out[users[i].ID] = users[i].Summary()
	}
	return out, nil
}

func (t *txRepository) getRelationship(ctx context.Context, query string, args ...interface{}) (*Relationship, error) {
	var rel Relationship
	if err := t.tx.GetContext(ctx, &rel, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get relationship: %w", err)
	}
	return &rel, nil
}

func (t *txRepository) GetRelationship(ctx context.Context, id uuid.UUID) (*Relationship, error) {
	return t.getRelationship(ctx, `SELECT `+relationshipColumns+` FROM relationships WHERE id = $1`, id)
}

func (t *txRepository) FindRelationshipBetween(ctx context.Context, a, b uuid.UUID) (*Relationship, error) {
	query := `SELECT ` + relationshipColumns + ` FROM relationships
		WHERE (requester_id = $1 AND addressee_id = $2) OR (requester_id = $2 AND addressee_id = $1)
		FOR UPDATE`
	return t.getRelationship(ctx, query, a, b)
}

func (t *txRepository) CreateRelationship(ctx context.Context, rel *Relationship) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO relationships (id, requester_id, addressee_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rel.ID, rel.RequesterID, rel.AddresseeID, rel.Status, rel.CreatedAt, rel.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errPairConflict
		}
		return fmt.Errorf("create relationship: %w", err)
	}
	return nil
}

func (t *txRepository) UpdateRelationshipStatus(ctx context.Context, rel *Relationship) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE relationships SET status = $2, updated_at = $3 WHERE id = $1`,
		rel.ID, rel.Status, rel.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update relationship: %w", err)
	}
	return nil
}

func (t *txRepository) DeleteRelationship(ctx context.Context, id uuid.UUID) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM relationships WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	return nil
}

func (t *txRepository) HasBlockBetween(ctx context.Context, a, b uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(
		SELECT 1 FROM user_blocks
		WHERE (blocker_user_id = $1 AND blocked_user_id = $2) OR (blocker_user_id = $2 AND blocked_user_id = $1)
	)`
	var exists bool
	if err := t.tx.GetContext(ctx, &exists, query, a, b); err != nil {
		return false, fmt.Errorf("check block: %w", err)
	}
	return exists, nil
}

func (t *txRepository) HasBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM user_blocks WHERE blocker_user_id = $1 AND blocked_user_id = $2)`
	var exists bool
	if err := t.tx.GetContext(ctx, &exists, query, blockerID, blockedID); err != nil {
		return false, fmt.Errorf("check block: %w", err)
	}
	return exists, nil
}

func (t *txRepository) CreateBlock(ctx context.Context, block *BlockRelation) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO user_blocks (id, blocker_user_id, blocked_user_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, block.ID, block.BlockerUserID, block.BlockedUserID, block.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyBlocked
		}
		return fmt.Errorf("create block: %w", err)
	}
	return nil
}

func (t *txRepository) DeleteBlock(ctx context.Context, blockerID, blockedID uuid.UUID) (*BlockRelation, error) {
	var block BlockRelation
	err := t.tx.GetContext(ctx, &block, `
		DELETE FROM user_blocks
		WHERE blocker_user_id = $1 AND blocked_user_id = $2
		RETURNING id, blocker_user_id, blocked_user_id, created_at
	`, blockerID, blockedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("delete block: %w", err)
	}
	return &block, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
