package presence

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mwork/social-realtime/internal/pkg/logger"
)

const (
	DefaultPeerPageSize = 500
	lockStripes         = 256
)

// PeerLoader pages through a user's accepted peers in a stable order
type PeerLoader interface {
	ListAcceptedPeerIDs(ctx context.Context, userID uuid.UUID, limit, offset int) ([]uuid.UUID, error)
}

// Notifier receives presence transitions with the peers to tell
type Notifier interface {
	PresenceOnline(ctx context.Context, userID uuid.UUID, peers []uuid.UUID, at time.Time)
	PresenceOffline(ctx context.Context, userID uuid.UUID, peers []uuid.UUID, lastSeen time.Time)
}

// stripe guards connection counts and the per-user transition queue.
// Its lock is never held across store or peer I/O.
type stripe struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int
	turns  map[uuid.UUID]chan struct{}
}

// Lifecycle turns connection joins and closes into presence transitions.
// Only the first local connection and the last connection across all
// instances change the marker and notify peers.
type Lifecycle struct {
	store      Store
	registry   Registry
	peers      PeerLoader
	notifier   Notifier
	clock      clock.Clock
	instanceID string
	pageSize   int
	stripes    [lockStripes]stripe
}

// LifecycleConfig holds lifecycle collaborators
type LifecycleConfig struct {
	Store        Store
	Registry     Registry
	Peers        PeerLoader
	Notifier     Notifier
	Clock        clock.Clock
	InstanceID   string
	PeerPageSize int
}

// NewLifecycle creates presence lifecycle controller
func NewLifecycle(cfg LifecycleConfig) *Lifecycle {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.PeerPageSize <= 0 {
		cfg.PeerPageSize = DefaultPeerPageSize
	}
	l := &Lifecycle{
		store:      cfg.Store,
		registry:   cfg.Registry,
		peers:      cfg.Peers,
		notifier:   cfg.Notifier,
		clock:      cfg.Clock,
		instanceID: cfg.InstanceID,
		pageSize:   cfg.PeerPageSize,
	}
	for i := range l.stripes {
		l.stripes[i].counts = make(map[uuid.UUID]int)
		l.stripes[i].turns = make(map[uuid.UUID]chan struct{})
	}
	return l
}

func (l *Lifecycle) stripeFor(userID uuid.UUID) *stripe {
	h := fnv.New32a()
	_, _ = h.Write(userID[:])
	return &l.stripes[h.Sum32()%lockStripes]
}

// enter waits for earlier joins and closes of userID to finish and
// returns the func that ends this one. Users never wait on each other.
func (l *Lifecycle) enter(userID uuid.UUID) (*stripe, func()) {
	s := l.stripeFor(userID)
	mine := make(chan struct{})

	s.mu.Lock()
	prev := s.turns[userID]
	s.turns[userID] = mine
	s.mu.Unlock()

	if prev != nil {
		<-prev
	}
	return s, func() {
		s.mu.Lock()
		if s.turns[userID] == mine {
			delete(s.turns, userID)
		}
		s.mu.Unlock()
		close(mine)
	}
}

// Joined records a new local connection for userID
func (l *Lifecycle) Joined(ctx context.Context, userID uuid.UUID) error {
	s, done := l.enter(userID)
	defer done()

	s.mu.Lock()
	s.counts[userID]++
	first := s.counts[userID] == 1
	s.mu.Unlock()
	if !first {
		return nil
	}

	if err := l.store.MarkOnline(ctx, userID); err != nil {
		s.mu.Lock()
		s.counts[userID]--
		if s.counts[userID] == 0 {
			delete(s.counts, userID)
		}
		s.mu.Unlock()
		return err
	}

	holders := int64(1)
	if l.registry != nil {
		n, err := l.registry.Hold(ctx, l.instanceID, userID)
		if err != nil {
			logger.LogWarn(ctx, "Failed to register presence holder", "user_id", userID.String(), "error", err.Error())
		} else {
			holders = n
		}
	}
	// already online through another instance
	if holders > 1 {
		return nil
	}

	at := l.clock.Now().UTC()
	l.eachPeerPage(ctx, userID, func(peers []uuid.UUID) {
		l.notifier.PresenceOnline(ctx, userID, peers, at)
	})
	return nil
}

// Closed records that one local connection for userID went away
func (l *Lifecycle) Closed(ctx context.Context, userID uuid.UUID) error {
	s, done := l.enter(userID)
	defer done()

	s.mu.Lock()
	n, ok := s.counts[userID]
	switch {
	case !ok:
		s.mu.Unlock()
		return nil
	case n > 1:
		s.counts[userID] = n - 1
		s.mu.Unlock()
		return nil
	}
	delete(s.counts, userID)
	s.mu.Unlock()

	if l.registry != nil {
		remaining, err := l.registry.Release(ctx, l.instanceID, userID)
		if err != nil {
			logger.LogWarn(ctx, "Failed to release presence holder", "user_id", userID.String(), "error", err.Error())
		} else if remaining > 0 {
			return nil
		}
	}

	return l.goOffline(ctx, userID)
}

func (l *Lifecycle) goOffline(ctx context.Context, userID uuid.UUID) error {
	lastSeen := l.clock.Now().UTC()
	if err := l.store.MarkOffline(ctx, userID); err != nil {
		return err
	}
	l.eachPeerPage(ctx, userID, func(peers []uuid.UUID) {
		l.notifier.PresenceOffline(ctx, userID, peers, lastSeen)
	})
	return nil
}

func (l *Lifecycle) eachPeerPage(ctx context.Context, userID uuid.UUID, fn func([]uuid.UUID)) {
	if l.notifier == nil || l.peers == nil {
		return
	}
	for offset := 0; ; offset += l.pageSize {
		peers, err := l.peers.ListAcceptedPeerIDs(ctx, userID, l.pageSize, offset)
		if err != nil {
			logger.LogWarn(ctx, "Failed to load peers", "user_id", userID.String(), "error", err.Error())
			return
		}
		if len(peers) > 0 {
			fn(peers)
		}
		if len(peers) < l.pageSize {
			return
		}
	}
}

// ConnectionCount reports local connections held for userID
func (l *Lifecycle) ConnectionCount(userID uuid.UUID) int {
	s := l.stripeFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[userID]
}

func (l *Lifecycle) localUsers() []uuid.UUID {
	var users []uuid.UUID
	for i := range l.stripes {
		s := &l.stripes[i]
		s.mu.Lock()
		for id := range s.counts {
			users = append(users, id)
		}
		s.mu.Unlock()
	}
	return users
}

// Refresh re-arms the marker of every locally connected user
func (l *Lifecycle) Refresh(ctx context.Context) {
	for _, userID := range l.localUsers() {
		if err := l.store.MarkOnline(ctx, userID); err != nil {
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to refresh presence")
		}
	}
}

// RunRefresh keeps markers of long sessions from expiring
func (l *Lifecycle) RunRefresh(ctx context.Context, interval time.Duration) error {
	ticker := l.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Presence refresh stopped")
			return nil
		case <-ticker.C:
			l.Refresh(ctx)
		}
	}
}

// RunHeartbeat advertises this instance as alive until ctx is done
func (l *Lifecycle) RunHeartbeat(ctx context.Context, interval time.Duration) error {
	if l.registry == nil {
		<-ctx.Done()
		return nil
	}

	ticker := l.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		if err := l.registry.Heartbeat(ctx, l.instanceID); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Instance heartbeat failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("Instance heartbeat stopped")
			return nil
		case <-ticker.C:
		}
	}
}
