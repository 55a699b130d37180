package presence

import (
	"context"

	"github.com/google/uuid"
)

const DefaultBatchLimit = 100

// Service answers read-only presence queries
type Service struct {
	store      Store
	batchLimit int
}

// NewService creates presence query service
func NewService(store Store, batchLimit int) *Service {
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	return &Service{store: store, batchLimit: batchLimit}
}

// BatchLimit is the most distinct ids one query may ask about
func (s *Service) BatchLimit() int { return s.batchLimit }

// OnlineStatus reports presence for each distinct id
func (s *Service) OnlineStatus(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	seen := make(map[uuid.UUID]struct{}, len(userIDs))
	unique := make([]uuid.UUID, 0, len(userIDs))
	for _, id := range userIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) > s.batchLimit {
		return nil, ErrBatchTooLarge
	}
	return s.store.BatchStatus(ctx, unique)
}
