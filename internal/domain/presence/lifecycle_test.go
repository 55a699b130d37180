package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPeers struct {
	mu    sync.Mutex
	peers map[uuid.UUID][]uuid.UUID
	calls int
}

func (p *staticPeers) ListAcceptedPeerIDs(_ context.Context, userID uuid.UUID, limit, offset int) ([]uuid.UUID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	all := p.peers[userID]
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

type presenceCall struct {
	online bool
	userID uuid.UUID
	peers  []uuid.UUID
	at     time.Time
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []presenceCall
}

func (n *recordingNotifier) PresenceOnline(_ context.Context, userID uuid.UUID, peers []uuid.UUID, at time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, presenceCall{online: true, userID: userID, peers: peers, at: at})
}

func (n *recordingNotifier) PresenceOffline(_ context.Context, userID uuid.UUID, peers []uuid.UUID, lastSeen time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, presenceCall{online: false, userID: userID, peers: peers, at: lastSeen})
}

func (n *recordingNotifier) snapshot() []presenceCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]presenceCall(nil), n.calls...)
}

type lifecycleFixture struct {
	clock    *clock.Mock
	store    *MemoryStore
	peers    *staticPeers
	notifier *recordingNotifier
}

func newLifecycleFixture() *lifecycleFixture {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return &lifecycleFixture{
		clock:    clk,
		store:    NewMemoryStore(clk, time.Hour, 30*time.Second),
		peers:    &staticPeers{peers: make(map[uuid.UUID][]uuid.UUID)},
		notifier: &recordingNotifier{},
	}
}

func (f *lifecycleFixture) lifecycle(instanceID string, pageSize int) *Lifecycle {
	return NewLifecycle(LifecycleConfig{
		Store:        f.store,
		Registry:     f.store,
		Peers:        f.peers,
		Notifier:     f.notifier,
		Clock:        f.clock,
		InstanceID:   instanceID,
		PeerPageSize: pageSize,
	})
}

func TestLifecycleMultiConnectionSuppressesOffline(t *testing.T) {
	f := newLifecycleFixture()
	l := f.lifecycle("a", 0)
	ctx := context.Background()
	user, peer := uuid.New(), uuid.New()
	f.peers.peers[user] = []uuid.UUID{peer}

	connectedAt := f.clock.Now()
	require.NoError(t, l.Joined(ctx, user))
	require.NoError(t, l.Joined(ctx, user))
	assert.Equal(t, 2, l.ConnectionCount(user))

	calls := f.notifier.snapshot()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].online)
	assert.Equal(t, []uuid.UUID{peer}, calls[0].peers)

	require.NoError(t, l.Closed(ctx, user))
	assert.Len(t, f.notifier.snapshot(), 1, "one of two connections closing must not go offline")
	online, _ := f.store.IsOnline(ctx, user)
	assert.True(t, online)

	f.clock.Add(5 * time.Minute)
	require.NoError(t, l.Closed(ctx, user))

	calls = f.notifier.snapshot()
	require.Len(t, calls, 2)
	assert.False(t, calls[1].online)
	assert.False(t, calls[1].at.Before(connectedAt))
	assert.Equal(t, connectedAt.Add(5*time.Minute), calls[1].at)

	online, _ = f.store.IsOnline(ctx, user)
	assert.False(t, online)
	assert.Equal(t, 0, l.ConnectionCount(user))
}

func TestLifecyclePagesThroughPeers(t *testing.T) {
	f := newLifecycleFixture()
	l := f.lifecycle("a", 500)
	user := uuid.New()
	for i := 0; i < 1201; i++ {
		f.peers.peers[user] = append(f.peers.peers[user], uuid.New())
	}

	require.NoError(t, l.Joined(context.Background(), user))

	calls := f.notifier.snapshot()
	require.Len(t, calls, 3)
	var notified []uuid.UUID
	for _, c := range calls {
		notified = append(notified, c.peers...)
	}
	assert.ElementsMatch(t, f.peers.peers[user], notified)
	assert.Equal(t, 3, f.peers.calls)
}

func TestLifecycleAcrossInstances(t *testing.T) {
	f := newLifecycleFixture()
	a := f.lifecycle("a", 0)
	b := f.lifecycle("b", 0)
	ctx := context.Background()
	user, peer := uuid.New(), uuid.New()
	f.peers.peers[user] = []uuid.UUID{peer}

	require.NoError(t, a.Joined(ctx, user))
	require.NoError(t, b.Joined(ctx, user))
	assert.Len(t, f.notifier.snapshot(), 1, "second instance must not repeat online")

	require.NoError(t, a.Closed(ctx, user))
	assert.Len(t, f.notifier.snapshot(), 1, "user still connected through b")

	require.NoError(t, b.Closed(ctx, user))
	calls := f.notifier.snapshot()
	require.Len(t, calls, 2)
	assert.False(t, calls[1].online)
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) MarkOnline(context.Context, uuid.UUID) error {
	return errors.New("store down")
}

func TestLifecycleJoinFailureRollsBack(t *testing.T) {
	f := newLifecycleFixture()
	l := NewLifecycle(LifecycleConfig{
		Store:    failingStore{f.store},
		Registry: f.store,
		Peers:    f.peers,
		Notifier: f.notifier,
		Clock:    f.clock,
	})
	user := uuid.New()

	assert.Error(t, l.Joined(context.Background(), user))
	assert.Equal(t, 0, l.ConnectionCount(user))
	assert.NoError(t, l.Closed(context.Background(), user))
	assert.Empty(t, f.notifier.snapshot())
}

func TestLifecycleRefreshKeepsLongSessionsOnline(t *testing.T) {
	f := newLifecycleFixture()
	l := f.lifecycle("a", 0)
	ctx := context.Background()
	user := uuid.New()

	require.NoError(t, l.Joined(ctx, user))
	for i := 0; i < 3; i++ {
		f.clock.Add(50 * time.Minute)
		l.Refresh(ctx)
	}
	online, _ := f.store.IsOnline(ctx, user)
	assert.True(t, online)
}

func TestSweeperClearsUsersOfDeadInstances(t *testing.T) {
	f := newLifecycleFixture()
	self := f.lifecycle("self", 0)
	dead := f.lifecycle("dead", 0)
	ctx := context.Background()

	stranded, shared, peer := uuid.New(), uuid.New(), uuid.New()
	f.peers.peers[stranded] = []uuid.UUID{peer}

	require.NoError(t, f.store.Heartbeat(ctx, "self"))
	require.NoError(t, f.store.Heartbeat(ctx, "dead"))
	require.NoError(t, dead.Joined(ctx, stranded))
	require.NoError(t, dead.Joined(ctx, shared))
	require.NoError(t, self.Joined(ctx, shared))

	f.clock.Add(20 * time.Second)
	require.NoError(t, f.store.Heartbeat(ctx, "self"))
	f.clock.Add(20 * time.Second)

	before := len(f.notifier.snapshot())
	offline, err := NewSweeper(self).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stranded}, offline)

	online, _ := f.store.IsOnline(ctx, stranded)
	assert.False(t, online)
	online, _ = f.store.IsOnline(ctx, shared)
	assert.True(t, online)

	calls := f.notifier.snapshot()[before:]
	require.Len(t, calls, 1)
	assert.False(t, calls[0].online)
	assert.Equal(t, stranded, calls[0].userID)
}

func TestSweeperNeverSweepsItself(t *testing.T) {
	f := newLifecycleFixture()
	self := f.lifecycle("self", 0)
	ctx := context.Background()
	user := uuid.New()

	require.NoError(t, self.Joined(ctx, user))
	f.clock.Add(time.Minute)

	offline, err := NewSweeper(self).RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, offline)
	online, _ := f.store.IsOnline(ctx, user)
	assert.True(t, online)
}

func TestLifecycleConcurrentJoinClose(t *testing.T) {
	f := newLifecycleFixture()
	l := f.lifecycle("a", 0)
	ctx := context.Background()
	user := uuid.New()
	f.peers.peers[user] = []uuid.UUID{uuid.New()}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Joined(ctx, user)
			_ = l.Closed(ctx, user)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, l.ConnectionCount(user))
	online, _ := f.store.IsOnline(ctx, user)
	assert.False(t, online)

	calls := f.notifier.snapshot()
	require.NotEmpty(t, calls)
	// transitions strictly alternate, starting online and ending offline
	for i, c := range calls {
		assert.Equal(t, i%2 == 0, c.online, "call %d", i)
	}
	assert.False(t, calls[len(calls)-1].online)
}

type gatedPeers struct {
	slow    uuid.UUID
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (p *gatedPeers) ListAcceptedPeerIDs(_ context.Context, userID uuid.UUID, _, _ int) ([]uuid.UUID, error) {
	if userID == p.slow {
		p.once.Do(func() { close(p.entered) })
		<-p.release
	}
	return nil, nil
}

func TestLifecycleSlowPeerLoadDoesNotStallStripeNeighbour(t *testing.T) {
	f := newLifecycleFixture()
	slow := uuid.New()
	peers := &gatedPeers{slow: slow, entered: make(chan struct{}), release: make(chan struct{})}
	l := NewLifecycle(LifecycleConfig{
		Store:    f.store,
		Registry: f.store,
		Peers:    peers,
		Notifier: f.notifier,
		Clock:    f.clock,
	})
	ctx := context.Background()

	neighbour := uuid.New()
	for l.stripeFor(neighbour) != l.stripeFor(slow) {
		neighbour = uuid.New()
	}

	slowDone := make(chan error, 1)
	go func() { slowDone <- l.Joined(ctx, slow) }()
	<-peers.entered

	joined := make(chan error, 1)
	go func() { joined <- l.Joined(ctx, neighbour) }()
	select {
	case err := <-joined:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		close(peers.release)
		t.Fatal("join blocked behind another user's peer load")
	}
	assert.Equal(t, 1, l.ConnectionCount(neighbour))

	closed := make(chan error, 1)
	go func() { closed <- l.Closed(ctx, neighbour) }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		close(peers.release)
		t.Fatal("close blocked behind another user's peer load")
	}

	close(peers.release)
	require.NoError(t, <-slowDone)
	assert.Equal(t, 1, l.ConnectionCount(slow))
}

func TestLifecycleCloseWaitsForInFlightJoin(t *testing.T) {
	f := newLifecycleFixture()
	user := uuid.New()
	peers := &gatedPeers{slow: user, entered: make(chan struct{}), release: make(chan struct{})}
	l := NewLifecycle(LifecycleConfig{
		Store:    f.store,
		Registry: f.store,
		Peers:    peers,
		Notifier: f.notifier,
		Clock:    f.clock,
	})
	ctx := context.Background()

	joinDone := make(chan error, 1)
	go func() { joinDone <- l.Joined(ctx, user) }()
	<-peers.entered

	closeDone := make(chan error, 1)
	go func() { closeDone <- l.Closed(ctx, user) }()
	select {
	case <-closeDone:
		t.Fatal("close finished before the join it follows")
	case <-time.After(50 * time.Millisecond):
	}

	close(peers.release)
	require.NoError(t, <-joinDone)
	require.NoError(t, <-closeDone)

	assert.Equal(t, 0, l.ConnectionCount(user))
	online, _ := f.store.IsOnline(ctx, user)
	assert.False(t, online)
}
