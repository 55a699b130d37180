package presence

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrBatchTooLarge = errors.New("too many user ids")

// Store keeps the best-effort "user is online" marker. Markers expire on their own.
type Store interface {
	MarkOnline(ctx context.Context, userID uuid.UUID) error
	MarkOffline(ctx context.Context, userID uuid.UUID) error
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
	// BatchStatus reports every requested id; it never mutates markers.
	BatchStatus(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

// Registry tracks which instances hold connections for which users, so the
// offline transition happens only when the last holder anywhere lets go.
type Registry interface {
	// Hold records that instanceID has a connection for userID and returns the holder count.
	Hold(ctx context.Context, instanceID string, userID uuid.UUID) (int64, error)
	// Release drops instanceID as a holder and returns how many holders remain.
	Release(ctx context.Context, instanceID string, userID uuid.UUID) (int64, error)
	Heartbeat(ctx context.Context, instanceID string) error
	// DeadInstances lists registered instances whose heartbeat expired.
	DeadInstances(ctx context.Context) ([]string, error)
	// ReleaseInstance forgets an instance and returns users left with no holder.
	ReleaseInstance(ctx context.Context, instanceID string) ([]uuid.UUID, error)
}
