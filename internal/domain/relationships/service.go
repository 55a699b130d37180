package relationships

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/mwork/social-realtime/internal/domain/user"
)

// Notifier receives every successful mutation. Implementations must not block on delivery.
type Notifier interface {
	RequestReceived(ctx context.Context, rel *Relationship, from, to user.Summary)
	RequestAccepted(ctx context.Context, rel *Relationship, requester, addressee user.Summary)
	RequestDeclined(ctx context.Context, rel *Relationship, at time.Time)
	RequestCancelled(ctx context.Context, rel *Relationship, at time.Time)
	RelationRemoved(ctx context.Context, userID, peerID uuid.UUID, at time.Time)
	Blocked(ctx context.Context, block *BlockRelation)
	Unblocked(ctx context.Context, block *BlockRelation, at time.Time)
}

// Service handles user relationships business logic
type Service struct {
	repo     Repository
	notifier Notifier
	clock    clock.Clock
}

// NewService creates new relationships service. A nil clock means wall time.
func NewService(repo Repository, notifier Notifier, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{repo: repo, notifier: notifier, clock: clk}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// SendRequest creates a PENDING relationship from -> to
func (s *Service) SendRequest(ctx context.Context, from, to uuid.UUID) (*Result, error) {
	if from == to {
		return nil, ErrSelf
	}

	now := s.now()
	var res *Result
	err := s.repo.WithinTx(ctx, func(tx TxRepository) error {
		users, err := tx.LockUsers(ctx, from, to)
		if err != nil {
			return err
		}
		if _, ok := users[to]; !ok {
			return ErrUserNotFound
		}
		if _, ok := users[from]; !ok {
			return ErrUserNotFound
		}

		blocked, err := tx.HasBlockBetween(ctx, from, to)
		if err != nil {
			return err
		}
		if blocked {
			return ErrBlocked
		}

		existing, err := tx.FindRelationshipBetween(ctx, from, to)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Status == StatusAccepted {
				return ErrAlreadyFriends
			}
			return ErrAlreadyPending
		}

		rel := &Relationship{
			ID:          uuid.New(),
			RequesterID: from,
			AddresseeID: to,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.CreateRelationship(ctx, rel); err != nil {
			if errors.Is(err, errPairConflict) {
				return ErrAlreadyPending
			}
			return err
		}

		res = &Result{Relationship: rel, Users: users, Affected: []uuid.UUID{to}, At: now}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.RequestReceived(ctx, res.Relationship, res.Users[from], res.Users[to])
	}
	return res, nil
}

// lockPending re-reads the request under the pair lock. The plain read only discovers the pair.
func lockPending(ctx context.Context, tx TxRepository, requestID uuid.UUID) (*Relationship, map[uuid.UUID]user.Summary, error) {
	peek, err := tx.GetRelationship(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if peek == nil {
		return nil, nil, ErrNotFound
	}

	users, err := tx.LockUsers(ctx, peek.RequesterID, peek.AddresseeID)
	if err != nil {
		return nil, nil, err
	}

	rel, err := tx.FindRelationshipBetween(ctx, peek.RequesterID, peek.AddresseeID)
	if err != nil {
		return nil, nil, err
	}
	if rel == nil || rel.ID != requestID {
		return nil, nil, ErrNotFound
	}
	return rel, users, nil
}

// Respond lets the addressee accept or decline a pending request
func (s *Service) Respond(ctx context.Context, requestID, responderID uuid.UUID, action Action) (*Result, error) {
	if action != ActionAccept && action != ActionDecline {
		return nil, ErrInvalidAction
	}

	now := s.now()
	var res *Result
	err := s.repo.WithinTx(ctx, func(tx TxRepository) error {
		rel, users, err := lockPending(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if rel.AddresseeID != responderID {
			return ErrForbidden
		}
		if rel.Status != StatusPending {
			return ErrNotPending
		}

		res = &Result{Relationship: rel, Users: users, At: now}
		if action == ActionAccept {
			rel.Status = StatusAccepted
			rel.UpdatedAt = now
			if err := tx.UpdateRelationshipStatus(ctx, rel); err != nil {
				return err
			}
			res.Affected = []uuid.UUID{rel.RequesterID, rel.AddresseeID}
			return nil
		}

		if err := tx.DeleteRelationship(ctx, rel.ID); err != nil {
			return err
		}
		res.Affected = []uuid.UUID{rel.RequesterID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		rel := res.Relationship
		if action == ActionAccept {
			s.notifier.RequestAccepted(ctx, rel, res.Users[rel.RequesterID], res.Users[rel.AddresseeID])
		} else {
			s.notifier.RequestDeclined(ctx, rel, now)
		}
	}
	return res, nil
}

// Cancel withdraws a pending request; only the requester may do so
func (s *Service) Cancel(ctx context.Context, requestID, requesterID uuid.UUID) (*Result, error) {
	now := s.now()
	var res *Result
	err := s.repo.WithinTx(ctx, func(tx TxRepository) error {
		rel, users, err := lockPending(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if rel.RequesterID != requesterID {
			return ErrForbidden
		}
		if rel.Status != StatusPending {
			return ErrNotPending
		}
		if err := tx.DeleteRelationship(ctx, rel.ID); err != nil {
			return err
		}
		res = &Result{Relationship: rel, Users: users, Affected: []uuid.UUID{rel.AddresseeID}, At: now}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.RequestCancelled(ctx, res.Relationship, now)
	}
	return res, nil
}

// Remove deletes an accepted friendship from either side
func (s *Service) Remove(ctx context.Context, userID, peerID uuid.UUID) (*Result, error) {
	if userID == peerID {
		return nil, ErrFriendshipNotFound
	}

	now := s.now()
	var res *Result
	err := s.repo.WithinTx(ctx, func(tx TxRepository) error {
		users, err := tx.LockUsers(ctx, userID, peerID)
		if err != nil {
			return err
		}
		rel, err := tx.FindRelationshipBetween(ctx, userID, peerID)
		if err != nil {
			return err
		}
		if rel == nil || rel.Status != StatusAccepted {
			return ErrFriendshipNotFound
		}
		if err := tx.DeleteRelationship(ctx, rel.ID); err != nil {
			return err
		}
		res = &Result{Relationship: rel, Users: users, Affected: []uuid.UUID{userID, peerID}, At: now}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.RelationRemoved(ctx, userID, peerID, now)
	}
	return res, nil
}

// Block creates a directed block and drops any relationship between the pair
func (s *Service) Block(ctx context.Context, userID, targetID uuid.UUID) (*Result, error) {
	if userID == targetID {
		return nil, ErrSelf
	}

	now := s.now()
	var res *Result
	err := s.repo.WithinTx(ctx, func(tx TxRepository) error {
		users, err := tx.LockUsers(ctx, userID, targetID)
		if err != nil {
			return err
		}
		if _, ok := users[targetID]; !ok {
			return ErrUserNotFound
		}
		if _, ok := users[userID]; !ok {
			return ErrUserNotFound
		}

		already, err := tx.HasBlocked(ctx, userID, targetID)
		if err != nil {
			return err
		}
		if already {
			return ErrAlreadyBlocked
		}

		block := &BlockRelation{
			ID:            uuid.New(),
			BlockerUserID: userID,
			BlockedUserID: targetID,
			CreatedAt:     now,
		}
		if err := tx.CreateBlock(ctx, block); err != nil {
			return err
		}

		rel, err := tx.FindRelationshipBetween(ctx, userID, targetID)
		if err != nil {
			return err
		}
		if rel != nil {
			if err := tx.DeleteRelationship(ctx, rel.ID); err != nil {
				return err
			}
		}

		res = &Result{Relationship: rel, Block: block, Users: users, Affected: []uuid.UUID{targetID}, At: now}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.Blocked(ctx, res.Block)
	}
	return res, nil
}

// Unblock removes a block created by userID
func (s *Service) Unblock(ctx context.Context, userID, targetID uuid.UUID) (*Result, error) {
	now := s.now()
	var res *Result
	err := s.repo.WithinTx(ctx, func(tx TxRepository) error {
		if _, err := tx.LockUsers(ctx, userID, targetID); err != nil {
			return err
		}
		block, err := tx.DeleteBlock(ctx, userID, targetID)
		if err != nil {
			return err
		}
		if block == nil {
			return ErrBlockNotFound
		}
		res = &Result{Block: block, Affected: []uuid.UUID{targetID}, At: now}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.Unblocked(ctx, res.Block, now)
	}
	return res, nil
}

// ListFriends returns a page of accepted relationships for userID
func (s *Service) ListFriends(ctx context.Context, userID uuid.UUID, page Page) ([]*Relationship, int, error) {
	return s.repo.ListFriends(ctx, userID, page.Normalize())
}

// ListPending returns a page of pending requests received by, sent by, or involving userID
func (s *Service) ListPending(ctx context.Context, userID uuid.UUID, direction Direction, page Page) ([]*Relationship, int, error) {
	return s.repo.ListPending(ctx, userID, direction, page.Normalize())
}

// ListMyBlocks returns a page of users blocked by the given user
func (s *Service) ListMyBlocks(ctx context.Context, userID uuid.UUID, page Page) ([]*BlockRelation, int, error) {
	return s.repo.ListBlocks(ctx, userID, page.Normalize())
}

// ListAcceptedPeerIDs pages through the ids of userID's friends in a stable order
func (s *Service) ListAcceptedPeerIDs(ctx context.Context, userID uuid.UUID, limit, offset int) ([]uuid.UUID, error) {
	return s.repo.ListAcceptedPeerIDs(ctx, userID, limit, offset)
}

// SearchResult is one user found by SearchUsers with the viewer's relation to them
type SearchResult struct {
	User     user.Summary
	Relation RelationStatus
}

// SearchUsers finds users by name and reports how each stands relative to viewer.
// A block outranks any relationship; the viewer's own block outranks one against them.
func (s *Service) SearchUsers(ctx context.Context, viewer uuid.UUID, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	found, err := s.repo.SearchUsers(ctx, query, viewer, limit)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return []SearchResult{}, nil
	}

	ids := make([]uuid.UUID, len(found))
	for i, u := range found {
		ids[i] = u.ID
	}
	rels, blocks, err := s.repo.RelationsWith(ctx, viewer, ids)
	if err != nil {
		return nil, err
	}

	status := make(map[uuid.UUID]RelationStatus, len(found))
	for _, rel := range rels {
		other := rel.Counterpart(viewer)
		switch {
		case rel.Status == StatusAccepted:
			status[other] = RelationFriend
		case rel.RequesterID == viewer:
			status[other] = RelationPendingSent
		default:
			status[other] = RelationPendingReceived
		}
	}
	for _, b := range blocks {
		if b.BlockedUserID == viewer {
			if status[b.BlockerUserID] != RelationBlocked {
				status[b.BlockerUserID] = RelationBlockedBy
			}
			continue
		}
		status[b.BlockedUserID] = RelationBlocked
	}

	results := make([]SearchResult, len(found))
	for i, u := range found {
		rel, ok := status[u.ID]
		if !ok {
			rel = RelationNone
		}
		results[i] = SearchResult{User: u, Relation: rel}
	}
	return results, nil
}

// Summaries resolves display data for the given users
func (s *Service) Summaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]user.Summary, error) {
	return s.repo.GetUserSummaries(ctx, ids)
}
