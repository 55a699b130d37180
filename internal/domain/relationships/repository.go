package relationships

import (
	"context"

	"github.com/google/uuid"

	"github.com/mwork/social-realtime/internal/domain/user"
)

// Repository defines relationships data access interface
type Repository interface {
	// WithinTx runs fn in one transaction; any error rolls every write back.
	WithinTx(ctx context.Context, fn func(tx TxRepository) error) error

	ListFriends(ctx context.Context, userID uuid.UUID, page Page) ([]*Relationship, int, error)
	ListPending(ctx context.Context, userID uuid.UUID, direction Direction, page Page) ([]*Relationship, int, error)
	ListBlocks(ctx context.Context, userID uuid.UUID, page Page) ([]*BlockRelation, int, error)
	ListAcceptedPeerIDs(ctx context.Context, userID uuid.UUID, limit, offset int) ([]uuid.UUID, error)
	GetUserSummaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]user.Summary, error)
	SearchUsers(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]user.Summary, error)
	// RelationsWith returns viewer's relationships with ids and blocks in either direction.
	RelationsWith(ctx context.Context, viewer uuid.UUID, ids []uuid.UUID) ([]*Relationship, []*BlockRelation, error)
}

// TxRepository is the transactional view used by mutations
type TxRepository interface {
	// LockUsers locks both user rows in id order and returns the summaries that exist.
	LockUsers(ctx context.Context, a, b uuid.UUID) (map[uuid.UUID]user.Summary, error)
	// GetRelationship is a plain read; callers lock via LockUsers then FindRelationshipBetween.
	GetRelationship(ctx context.Context, id uuid.UUID) (*Relationship, error)
	// FindRelationshipBetween locks the pair's relationship row, if any.
	FindRelationshipBetween(ctx context.Context, a, b uuid.UUID) (*Relationship, error)
	CreateRelationship(ctx context.Context, rel *Relationship) error
	UpdateRelationshipStatus(ctx context.Context, rel *Relationship) error
	DeleteRelationship(ctx context.Context, id uuid.UUID) error
	HasBlockBetween(ctx context.Context, a, b uuid.UUID) (bool, error)
	HasBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)
	CreateBlock(ctx context.Context, block *BlockRelation) error
	DeleteBlock(ctx context.Context, blockerID, blockedID uuid.UUID) (*BlockRelation, error)
}
