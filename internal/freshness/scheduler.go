// Package freshness decides when account data is fetched again.
//
// Each feed moves between Fresh, Stale and Refreshing. A Fresh feed turns
// Stale once its threshold has elapsed, whether or not the view is visible.
// Push events make a feed fresh at once; a polling fallback refreshes stale
// feeds while the view is visible and is switched off entirely while it is
// hidden.
package freshness

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Feed names one independently refreshed data set.
type Feed string

const (
	FeedBalance      Feed = "balance"
	FeedOpenOrders   Feed = "open_orders"
	FeedOrderHistory Feed = "order_history"
)

// State is a feed's freshness.
type State string

const (
	StateFresh      State = "FRESH"
	StateStale      State = "STALE"
	StateRefreshing State = "REFRESHING"
)

// Fetcher loads one feed. It must honour ctx cancellation.
type Fetcher func(ctx context.Context) error

// ErrSuperseded is returned to callers whose refresh was overtaken by a
// newer one before it completed.
var ErrSuperseded = errors.New("refresh superseded by a newer request")

// Config holds staleness thresholds.
type Config struct {
	StaleAfter        time.Duration // balance and open orders
	PushStaleAfter    time.Duration // same feeds once push updates are flowing
	HistoryStaleAfter time.Duration // aggregate order history
	TickInterval      time.Duration
	FetchTimeout      time.Duration
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		StaleAfter:        30 * time.Second,
		PushStaleAfter:    60 * time.Second,
		HistoryStaleAfter: 5 * time.Minute,
		TickInterval:      time.Second,
		FetchTimeout:      15 * time.Second,
	}
}

// Hooks observe scheduler activity. Any field may be nil. OnState runs
// under the scheduler lock and must not call back into the Scheduler.
type Hooks struct {
	OnRefresh func(feed Feed, err error, took time.Duration)
	OnShared  func(feed Feed)
	OnState   func(feed Feed, s State)
}

// FeedStatus is a read-only view of one feed.
type FeedStatus struct {
	Feed       Feed          `json:"feed"`
	State      State         `json:"state"`
	LastFresh  time.Time     `json:"last_fresh"`
	Threshold  time.Duration `json:"threshold_ns"`
	LastError  string        `json:"last_error,omitempty"`
	PushActive bool          `json:"push_active"`
}

type feedState struct {
	state       State
	lastFresh   time.Time
	lastAttempt time.Time
	seq         uint64
	cancel      context.CancelFunc
	lastErr     error
}

// Scheduler coordinates refreshes for a fixed set of feeds.
type Scheduler struct {
	cfg      Config
	fetchers map[Feed]Fetcher
	hooks    Hooks
	now      func() time.Time
	group    singleflight.Group

	mu       sync.Mutex
	feeds    map[Feed]*feedState
	visible  bool
	pushSeen bool
	stopTick chan struct{}
	closed   bool

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. Every feed starts Stale.
func New(cfg Config, fetchers map[Feed]Fetcher, hooks Hooks) *Scheduler {
	def := DefaultConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.PushStaleAfter <= 0 {
		cfg.PushStaleAfter = def.PushStaleAfter
	}
	if cfg.HistoryStaleAfter <= 0 {
		cfg.HistoryStaleAfter = def.HistoryStaleAfter
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:      cfg,
		fetchers: fetchers,
		hooks:    hooks,
		now:      time.Now,
		feeds:    make(map[Feed]*feedState, len(fetchers)),
		base:     base,
		cancel:   cancel,
	}
	for f := range fetchers {
		s.feeds[f] = &feedState{state: StateStale}
	}
	return s
}

// SetVisible starts or stops the polling fallback. Becoming visible
// refreshes every stale feed immediately.
func (s *Scheduler) SetVisible(v bool) {
	s.mu.Lock()
	if s.closed || s.visible == v {
		s.mu.Unlock()
		return
	}
	s.visible = v
	if !v {
		close(s.stopTick)
		s.stopTick = nil
		s.mu.Unlock()
		log.Debug().Msg("freshness: view hidden, polling paused")
		return
	}
	stop := make(chan struct{})
	s.stopTick = stop
	s.mu.Unlock()

	log.Debug().Msg("freshness: view visible, polling resumed")
	s.wg.Add(1)
	go s.loop(stop)
	s.tick()
}

// Visible reports whether the polling fallback is running.
func (s *Scheduler) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// Push records an external update for feed. The feed becomes Fresh and the
// order history is refreshed so positions are recomputed.
func (s *Scheduler) Push(feed Feed) {
	s.mu.Lock()
	fs, ok := s.feeds[feed]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	s.pushSeen = true
	s.setState(feed, fs, StateFresh)
	fs.lastFresh = s.now()
	fs.lastErr = nil
	_, hasHistory := s.feeds[FeedOrderHistory]
	s.mu.Unlock()

	if hasHistory && feed != FeedOrderHistory {
		s.Invalidate(FeedOrderHistory)
	}
}

// Invalidate drops any in-flight fetch for feed and marks it Stale.
// Responses from the dropped fetch are discarded. While visible a new
// fetch starts in the background; while hidden it waits for the view.
func (s *Scheduler) Invalidate(feed Feed) {
	s.mu.Lock()
	fs, ok := s.feeds[feed]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	fs.seq++
	if fs.cancel != nil {
		fs.cancel()
		fs.cancel = nil
	}
	s.group.Forget(string(feed))
	s.setState(feed, fs, StateStale)
	visible := s.visible
	s.mu.Unlock()

	if visible {
		s.refreshAsync(feed)
	}
}

// Refresh fetches feed now. Concurrent calls for the same feed share one
// fetch; the returned error is that fetch's outcome.
func (s *Scheduler) Refresh(ctx context.Context, feed Feed) error {
	fetch, ok := s.fetchers[feed]
	if !ok {
		return errors.New("freshness: unknown feed " + string(feed))
	}

	ch := s.group.DoChan(string(feed), func() (any, error) {
		return nil, s.run(feed, fetch)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Shared && s.hooks.OnShared != nil {
			s.hooks.OnShared(feed)
		}
		return res.Err
	}
}

func (s *Scheduler) run(feed Feed, fetch Fetcher) error {
	s.mu.Lock()
	fs := s.feeds[feed]
	if s.closed {
		s.mu.Unlock()
		return context.Canceled
	}
	fs.seq++
	seq := fs.seq
	fs.lastAttempt = s.now()
	ctx, cancel := context.WithTimeout(s.base, s.cfg.FetchTimeout)
	fs.cancel = cancel
	s.setState(feed, fs, StateRefreshing)
	s.mu.Unlock()

	start := s.now()
	err := fetch(ctx)
	took := s.now().Sub(start)
	cancel()

	s.mu.Lock()
	if fs.seq != seq {
		s.mu.Unlock()
		log.Debug().Str("feed", string(feed)).Uint64("seq", seq).Msg("freshness: discarding superseded response")
		return ErrSuperseded
	}
	fs.cancel = nil
	if err != nil {
		fs.lastErr = err
		s.setState(feed, fs, StateStale)
	} else {
		fs.lastErr = nil
		fs.lastFresh = s.now()
		s.setState(feed, fs, StateFresh)
	}
	s.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("feed", string(feed)).Msg("freshness: refresh failed")
	}
	if s.hooks.OnRefresh != nil {
		s.hooks.OnRefresh(feed, err, took)
	}
	return err
}

func (s *Scheduler) refreshAsync(feed Feed) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Refresh(s.base, feed)
	}()
}

func (s *Scheduler) loop(stop <-chan struct{}) {
	defer s.wg.Done()
	t := time.NewTicker(s.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-s.base.Done():
			return
		case <-t.C:
			s.tick()
		}
	}
}

// tick ages fresh feeds and refreshes stale ones while visible.
func (s *Scheduler) tick() {
	now := s.now()
	var due []Feed

	s.mu.Lock()
	if !s.visible || s.closed {
		s.mu.Unlock()
		return
	}
	for feed, fs := range s.feeds {
		s.expire(feed, fs, now)
		if fs.state != StateStale {
			continue
		}
		// a failed feed waits one threshold before the next poll
		if fs.lastErr != nil && now.Sub(fs.lastAttempt) < s.threshold(feed) {
			continue
		}
		due = append(due, feed)
	}
	s.mu.Unlock()

	for _, feed := range due {
		s.refreshAsync(feed)
	}
}

// expire marks a Fresh feed Stale once its threshold has elapsed. It must
// be called with s.mu held.
func (s *Scheduler) expire(feed Feed, fs *feedState, now time.Time) {
	if fs.state == StateFresh && now.Sub(fs.lastFresh) > s.threshold(feed) {
		s.setState(feed, fs, StateStale)
	}
}

// threshold must be called with s.mu held.
func (s *Scheduler) threshold(feed Feed) time.Duration {
	if feed == FeedOrderHistory {
		return s.cfg.HistoryStaleAfter
	}
	if s.pushSeen {
		return s.cfg.PushStaleAfter
	}
	return s.cfg.StaleAfter
}

// setState must be called with s.mu held.
func (s *Scheduler) setState(feed Feed, fs *feedState, st State) {
	if fs.state == st {
		return
	}
	fs.state = st
	if s.hooks.OnState != nil {
		s.hooks.OnState(feed, st)
	}
}

// Status returns every feed's current state.
func (s *Scheduler) Status() []FeedStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]FeedStatus, 0, len(s.feeds))
	for _, feed := range []Feed{FeedBalance, FeedOpenOrders, FeedOrderHistory} {
		fs, ok := s.feeds[feed]
		if !ok {
			continue
		}
		s.expire(feed, fs, now)
		st := FeedStatus{
			Feed:       feed,
			State:      fs.state,
			LastFresh:  fs.lastFresh,
			Threshold:  s.threshold(feed),
			PushActive: s.pushSeen,
		}
		if fs.lastErr != nil {
			st.LastError = fs.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}

// EnsureFresh refreshes feed unless it is Fresh and within its threshold.
// It fetches on demand even while the view is hidden.
func (s *Scheduler) EnsureFresh(ctx context.Context, feed Feed) error {
	if s.State(feed) == StateFresh {
		return nil
	}
	return s.Refresh(ctx, feed)
}

// State returns one feed's state.
func (s *Scheduler) State(feed Feed) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fs, ok := s.feeds[feed]; ok {
		s.expire(feed, fs, s.now())
		return fs.state
	}
	return ""
}

// Stop cancels in-flight fetches and waits for background work to end.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.stopTick != nil {
		close(s.stopTick)
		s.stopTick = nil
	}
	s.visible = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
