package presence

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// MemoryStore implements Store and Registry for a single process. Expiry is
// evaluated lazily against the injected clock.
type MemoryStore struct {
	mu            sync.Mutex
	clock         clock.Clock
	ttl           time.Duration
	heartbeatTTL  time.Duration
	markers       map[uuid.UUID]time.Time
	holders       map[uuid.UUID]map[string]struct{}
	heartbeats    map[string]time.Time
	instanceUsers map[string]map[uuid.UUID]struct{}
}

// NewMemoryStore creates in-memory presence store
func NewMemoryStore(clk clock.Clock, ttl, heartbeatTTL time.Duration) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		clock:         clk,
		ttl:           ttl,
		heartbeatTTL:  heartbeatTTL,
		markers:       make(map[uuid.UUID]time.Time),
		holders:       make(map[uuid.UUID]map[string]struct{}),
		heartbeats:    make(map[string]time.Time),
		instanceUsers: make(map[string]map[uuid.UUID]struct{}),
	}
}

func (s *MemoryStore) MarkOnline(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[userID] = s.clock.Now().Add(s.ttl)
	return nil
}

func (s *MemoryStore) MarkOffline(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, userID)
	return nil
}

func (s *MemoryStore) online(userID uuid.UUID, now time.Time) bool {
	expires, ok := s.markers[userID]
	return ok && now.Before(expires)
}

func (s *MemoryStore) IsOnline(_ context.Context, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online(userID, s.clock.Now()), nil
}

func (s *MemoryStore) BatchStatus(_ context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	out := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		out[id] = s.online(id, now)
	}
	return out, nil
}

func (s *MemoryStore) Hold(_ context.Context, instanceID string, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.holders[userID] == nil {
		s.holders[userID] = make(map[string]struct{})
	}
	s.holders[userID][instanceID] = struct{}{}

	if s.instanceUsers[instanceID] == nil {
		s.instanceUsers[instanceID] = make(map[uuid.UUID]struct{})
	}
	s.instanceUsers[instanceID][userID] = struct{}{}
	if _, ok := s.heartbeats[instanceID]; !ok {
		s.heartbeats[instanceID] = time.Time{}
	}
	return int64(len(s.holders[userID])), nil
}

func (s *MemoryStore) release(instanceID string, userID uuid.UUID) int64 {
	if holders, ok := s.holders[userID]; ok {
		delete(holders, instanceID)
		if len(holders) == 0 {
			delete(s.holders, userID)
		}
	}
	if users, ok := s.instanceUsers[instanceID]; ok {
		delete(users, userID)
	}
	return int64(len(s.holders[userID]))
}

func (s *MemoryStore) Release(_ context.Context, instanceID string, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.release(instanceID, userID), nil
}

func (s *MemoryStore) Heartbeat(_ context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats[instanceID] = s.clock.Now().Add(s.heartbeatTTL)
	return nil
}

func (s *MemoryStore) DeadInstances(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	var dead []string
	for id, expires := range s.heartbeats {
		if !now.Before(expires) {
			dead = append(dead, id)
		}
	}
	return dead, nil
}

func (s *MemoryStore) ReleaseInstance(_ context.Context, instanceID string) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orphaned []uuid.UUID
	for userID := range s.instanceUsers[instanceID] {
		if s.release(instanceID, userID) == 0 {
			orphaned = append(orphaned, userID)
		}
	}
	delete(s.instanceUsers, instanceID)
	delete(s.heartbeats, instanceID)
	return orphaned, nil
}
