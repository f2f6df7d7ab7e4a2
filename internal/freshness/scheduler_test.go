package freshness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type counter struct {
	n    atomic.Int32
	gate chan struct{}
	err  error
}

func (c *counter) fetch(ctx context.Context) error {
	c.n.Add(1)
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.err
}

func newTestScheduler(t *testing.T, fetchers map[Feed]Fetcher) (*Scheduler, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour // ticks are driven by hand
	s := New(cfg, fetchers, Hooks{})
	s.now = clk.Now
	t.Cleanup(s.Stop)
	return s, clk
}

func TestRefreshCoalesces(t *testing.T) {
	bal := &counter{gate: make(chan struct{})}
	var shared atomic.Int32
	s, _ := newTestScheduler(t, map[Feed]Fetcher{FeedBalance: bal.fetch})
	s.hooks.OnShared = func(Feed) { shared.Add(1) }

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Refresh(context.Background(), FeedBalance)
		}(i)
	}

	require.Eventually(t, func() bool { return s.State(FeedBalance) == StateRefreshing }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let the other callers join the flight
	close(bal.gate)
	wg.Wait()

	assert.Equal(t, int32(1), bal.n.Load(), "one network call for concurrent refreshes")
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, StateFresh, s.State(FeedBalance))
	assert.Equal(t, int32(5), shared.Load())
}

func TestInvalidateDiscardsInFlight(t *testing.T) {
	hist := &counter{gate: make(chan struct{})}
	s, _ := newTestScheduler(t, map[Feed]Fetcher{FeedOrderHistory: hist.fetch})

	done := make(chan error, 1)
	go func() { done <- s.Refresh(context.Background(), FeedOrderHistory) }()
	require.Eventually(t, func() bool { return hist.n.Load() == 1 }, time.Second, time.Millisecond)

	s.Invalidate(FeedOrderHistory)
	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, StateStale, s.State(FeedOrderHistory))
	assert.Equal(t, int32(1), hist.n.Load(), "hidden view does not refetch")
}

func TestHiddenViewNeverPolls(t *testing.T) {
	bal := &counter{}
	s, clk := newTestScheduler(t, map[Feed]Fetcher{FeedBalance: bal.fetch})

	clk.Advance(time.Hour)
	s.tick()
	assert.Equal(t, int32(0), bal.n.Load())

	s.SetVisible(true)
	require.Eventually(t, func() bool { return s.State(FeedBalance) == StateFresh }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), bal.n.Load())

	s.SetVisible(false)
	clk.Advance(time.Hour)
	s.tick()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), bal.n.Load())
	assert.Equal(t, StateStale, s.State(FeedBalance), "data keeps aging while hidden")
	assert.Equal(t, int32(1), bal.n.Load(), "reading the state never fetches")

	s.SetVisible(true)
	require.Eventually(t, func() bool { return bal.n.Load() == 2 }, time.Second, time.Millisecond)
}

func TestEnsureFreshRefetchesAgedFeedWhileHidden(t *testing.T) {
	bal := &counter{}
	s, clk := newTestScheduler(t, map[Feed]Fetcher{FeedBalance: bal.fetch})
	ctx := context.Background()

	require.NoError(t, s.Refresh(ctx, FeedBalance))
	require.NoError(t, s.EnsureFresh(ctx, FeedBalance))
	assert.Equal(t, int32(1), bal.n.Load())

	clk.Advance(2 * time.Hour)
	status := s.Status()
	require.Len(t, status, 1)
	assert.Equal(t, StateStale, status[0].State)

	require.NoError(t, s.EnsureFresh(ctx, FeedBalance))
	assert.Equal(t, int32(2), bal.n.Load())
	assert.Equal(t, StateFresh, s.State(FeedBalance))
	assert.False(t, s.Visible())
}

func TestStalenessThresholds(t *testing.T) {
	bal := &counter{}
	hist := &counter{}
	s, clk := newTestScheduler(t, map[Feed]Fetcher{FeedBalance: bal.fetch, FeedOrderHistory: hist.fetch})

	s.SetVisible(true)
	require.Eventually(t, func() bool {
		return s.State(FeedBalance) == StateFresh && s.State(FeedOrderHistory) == StateFresh
	}, time.Second, time.Millisecond)

	clk.Advance(31 * time.Second)
	s.tick()
	require.Eventually(t, func() bool { return bal.n.Load() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), hist.n.Load(), "history has the longer threshold")

	clk.Advance(5 * time.Minute)
	s.tick()
	require.Eventually(t, func() bool { return hist.n.Load() == 2 }, time.Second, time.Millisecond)
}

func TestPushRelaxesThresholdAndRecomputes(t *testing.T) {
	bal := &counter{}
	hist := &counter{}
	s, clk := newTestScheduler(t, map[Feed]Fetcher{FeedBalance: bal.fetch, FeedOrderHistory: hist.fetch})
	s.SetVisible(true)
	require.Eventually(t, func() bool { return hist.n.Load() == 1 && bal.n.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.State(FeedOrderHistory) == StateFresh }, time.Second, time.Millisecond)

	s.Push(FeedBalance)
	assert.Equal(t, StateFresh, s.State(FeedBalance))
	require.Eventually(t, func() bool { return hist.n.Load() == 2 }, time.Second, time.Millisecond, "push requests a ledger recompute")

	clk.Advance(45 * time.Second)
	s.tick()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), bal.n.Load(), "push updates relax the short threshold")

	for _, st := range s.Status() {
		if st.Feed == FeedBalance {
			assert.Equal(t, 60*time.Second, st.Threshold)
			assert.True(t, st.PushActive)
		}
	}
}

func TestFailedRefreshStaysStale(t *testing.T) {
	bal := &counter{err: errors.New("503")}
	s, clk := newTestScheduler(t, map[Feed]Fetcher{FeedBalance: bal.fetch})

	err := s.Refresh(context.Background(), FeedBalance)
	assert.Error(t, err)
	assert.Equal(t, StateStale, s.State(FeedBalance))
	assert.Equal(t, "503", s.Status()[0].LastError)

	s.SetVisible(true)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), bal.n.Load(), "failed feed backs off for one threshold")

	clk.Advance(31 * time.Second)
	s.tick()
	require.Eventually(t, func() bool { return bal.n.Load() == 2 }, time.Second, time.Millisecond)
}

func TestEnsureFreshAndUnknownFeed(t *testing.T) {
	bal := &counter{}
	s, _ := newTestScheduler(t, map[Feed]Fetcher{FeedBalance: bal.fetch})

	require.NoError(t, s.EnsureFresh(context.Background(), FeedBalance))
	require.NoError(t, s.EnsureFresh(context.Background(), FeedBalance))
	assert.Equal(t, int32(1), bal.n.Load())

	assert.Error(t, s.Refresh(context.Background(), FeedOpenOrders))
}
