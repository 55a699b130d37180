package relationships

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mwork/social-realtime/internal/domain/user"
)

type pairKey [2]uuid.UUID

func keyFor(a, b uuid.UUID) pairKey {
	if a.String() > b.String() {
		a, b = b, a
	}
	return pairKey{a, b}
}

type blockKey struct{ blocker, blocked uuid.UUID }

type memoryState struct {
	relationships map[uuid.UUID]*Relationship
	pairs         map[pairKey]uuid.UUID
	blocks        map[blockKey]*BlockRelation
}

func (s *memoryState) clone() *memoryState {
	rels := make(map[uuid.UUID]*Relationship, len(s.relationships))
	for id, rel := range s.relationships {
		cp := *rel
		rels[id] = &cp
	}
	return &memoryState{
		relationships: rels,
		pairs:         maps.Clone(s.pairs),
		blocks:        maps.Clone(s.blocks),
	}
}

// MemoryRepository is a process-local Repository. Transactions are serialized and
// applied copy-on-write, so a failing mutation leaves nothing behind.
type MemoryRepository struct {
	mu    sync.RWMutex
	state *memoryState
	users *user.MemoryRepository
}

// NewMemoryRepository creates an empty in-memory store over the given user registry
func NewMemoryRepository(users *user.MemoryRepository) *MemoryRepository {
	return &MemoryRepository{
		state: &memoryState{
			relationships: make(map[uuid.UUID]*Relationship),
			pairs:         make(map[pairKey]uuid.UUID),
			blocks:        make(map[blockKey]*BlockRelation),
		},
		users: users,
	}
}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(tx TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	working := r.state.clone()
	if err := fn(&memoryTx{state: working, users: r.users}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *MemoryRepository) ListFriends(_ context.Context, userID uuid.UUID, page Page) ([]*Relationship, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter(page, func(rel *Relationship) bool {
		return rel.Status == StatusAccepted && rel.Involves(userID)
	})
}

func (r *MemoryRepository) ListPending(_ context.Context, userID uuid.UUID, direction Direction, page Page) ([]*Relationship, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter(page, func(rel *Relationship) bool {
		if rel.Status != StatusPending {
			return false
		}
		switch direction {
		case DirectionReceived:
			return rel.AddresseeID == userID
		case DirectionSent:
			return rel.RequesterID == userID
		default:
			return rel.Involves(userID)
		}
	})
}

func (r *MemoryRepository) filter(page Page, keep func(*Relationship) bool) ([]*Relationship, int, error) {
	var matched []*Relationship
	for _, rel := range r.state.relationships {
		if keep(rel) {
			cp := *rel
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	return window(matched, page), len(matched), nil
}

func (r *MemoryRepository) ListBlocks(_ context.Context, userID uuid.UUID, page Page) ([]*BlockRelation, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*BlockRelation
	for k, b := range r.state.blocks {
		if k.blocker == userID {
			cp := *b
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	return window(matched, page), len(matched), nil
}

func (r *MemoryRepository) ListAcceptedPeerIDs(_ context.Context, userID uuid.UUID, limit, offset int) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var peers []uuid.UUID
	for _, rel := range r.state.relationships {
		if rel.Status == StatusAccepted && rel.Involves(userID) {
			peers = append(peers, rel.Counterpart(userID))
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].String() < peers[j].String() })
	return window(peers, Page{Limit: limit, Offset: offset}), nil
}

func (r *MemoryRepository) GetUserSummaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]user.Summary, error) {
	return r.users.GetSummaries(ctx, ids)
}

func (r *MemoryRepository) SearchUsers(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]user.Summary, error) {
	return r.users.SearchByName(ctx, query, exclude, limit)
}

func (r *MemoryRepository) RelationsWith(_ context.Context, viewer uuid.UUID, ids []uuid.UUID) ([]*Relationship, []*BlockRelation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rels []*Relationship
	var blocks []*BlockRelation
	for _, id := range ids {
		if relID, ok := r.state.pairs[keyFor(viewer, id)]; ok {
			cp := *r.state.relationships[relID]
			rels = append(rels, &cp)
		}
		for _, k := range []blockKey{{viewer, id}, {id, viewer}} {
			if b, ok := r.state.blocks[k]; ok {
				cp := *b
				blocks = append(blocks, &cp)
			}
		}
	}
	return rels, blocks, nil
}

// RelationshipCount reports how many relationships exist between a and b (0 or 1 when healthy)
func (r *MemoryRepository) RelationshipCount(a, b uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rel := range r.state.relationships {
		if rel.Involves(a) && rel.Involves(b) {
			n++
		}
	}
	return n
}

func window[T any](items []T, page Page) []T {
	if page.Offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return items[page.Offset:end]
}

type memoryTx struct {
	state *memoryState
	users *user.MemoryRepository
}

func (t *memoryTx) LockUsers(ctx context.Context, a, b uuid.UUID) (map[uuid.UUID]user.Summary, error) {
	return t.users.GetSummaries(ctx, []uuid.UUID{a, b})
}

func (t *memoryTx) GetRelationship(_ context.Context, id uuid.UUID) (*Relationship, error) {
	rel, ok := t.state.relationships[id]
	if !ok {
		return nil, nil
	}
	cp := *rel
	return &cp, nil
}

func (t *memoryTx) FindRelationshipBetween(ctx context.Context, a, b uuid.UUID) (*Relationship, error) {
	id, ok := t.state.pairs[keyFor(a, b)]
	if !ok {
		return nil, nil
	}
	return t.GetRelationship(ctx, id)
}

func (t *memoryTx) CreateRelationship(_ context.Context, rel *Relationship) error {
	key := keyFor(rel.RequesterID, rel.AddresseeID)
	if _, exists := t.state.pairs[key]; exists {
		return errPairConflict
	}
	cp := *rel
	t.state.relationships[rel.ID] = &cp
	t.state.pairs[key] = rel.ID
	return nil
}

func (t *memoryTx) UpdateRelationshipStatus(_ context.Context, rel *Relationship) error {
	stored, ok := t.state.relationships[rel.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = rel.Status
	stored.UpdatedAt = rel.UpdatedAt
	return nil
}

func (t *memoryTx) DeleteRelationship(_ context.Context, id uuid.UUID) error {
	rel, ok := t.state.relationships[id]
	if !ok {
		return nil
	}
	delete(t.state.pairs, keyFor(rel.RequesterID, rel.AddresseeID))
	delete(t.state.relationships, id)
	return nil
}

func (t *memoryTx) HasBlockBetween(ctx context.Context, a, b uuid.UUID) (bool, error) {
	ab, _ := t.HasBlocked(ctx, a, b)
	ba, _ := t.HasBlocked(ctx, b, a)
	return ab || ba, nil
}

func (t *memoryTx) HasBlocked(_ context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	_, ok := t.state.blocks[blockKey{blockerID, blockedID}]
	return ok, nil
}

func (t *memoryTx) CreateBlock(_ context.Context, block *BlockRelation) error {
	key := blockKey{block.BlockerUserID, block.BlockedUserID}
	if _, exists := t.state.blocks[key]; exists {
		return ErrAlreadyBlocked
	}
	cp := *block
	t.state.blocks[key] = &cp
	return nil
}

func (t *memoryTx) DeleteBlock(_ context.Context, blockerID, blockedID uuid.UUID) (*BlockRelation, error) {
	key := blockKey{blockerID, blockedID}
	block, ok := t.state.blocks[key]
	if !ok {
		return nil, nil
	}
	delete(t.state.blocks, key)
	return block, nil
}
