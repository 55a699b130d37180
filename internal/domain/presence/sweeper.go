package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Sweeper clears presence left behind by instances that stopped heartbeating
type Sweeper struct {
	lifecycle *Lifecycle
}

// NewSweeper creates a sweeper acting on behalf of the given lifecycle's instance
func NewSweeper(lifecycle *Lifecycle) *Sweeper {
	return &Sweeper{lifecycle: lifecycle}
}

// Start runs the sweep immediately and then every interval until ctx is done
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) error {
	if s.lifecycle.registry == nil {
		<-ctx.Done()
		return nil
	}

	ticker := s.lifecycle.clock.Ticker(interval)
	defer ticker.Stop()

	s.run(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Presence sweeper stopped")
			return nil
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *Sweeper) run(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Presence sweep failed")
	}
}

// RunOnce sweeps every dead instance and returns the users it took offline
func (s *Sweeper) RunOnce(ctx context.Context) ([]uuid.UUID, error) {
	l := s.lifecycle
	dead, err := l.registry.DeadInstances(ctx)
	if err != nil {
		return nil, err
	}

	var offline []uuid.UUID
	for _, instanceID := range dead {
		if instanceID == l.instanceID {
			continue
		}
		orphaned, err := l.registry.ReleaseInstance(ctx, instanceID)
		if err != nil {
			return offline, err
		}
		for _, userID := range orphaned {
			if s.takeOffline(ctx, userID) {
				offline = append(offline, userID)
			}
		}
		log.Info().
			Str("dead_instance", instanceID).
			Int("orphaned", len(orphaned)).
			Msg("Swept dead instance")
	}
	return offline, nil
}

func (s *Sweeper) takeOffline(ctx context.Context, userID uuid.UUID) bool {
	l := s.lifecycle
	st, done := l.enter(userID)
	defer done()

	st.mu.Lock()
	connected := st.counts[userID] > 0
	st.mu.Unlock()
	if connected {
		return false
	}
	if err := l.goOffline(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to clear stale presence")
		return false
	}
	return true
}
