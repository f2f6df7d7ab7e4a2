package common

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// TimeSync keeps the offset between local clock and a venue's server clock
// so signed requests are not rejected for timestamp drift.
type TimeSync struct {
	getServerTime func(ctx context.Context) (int64, error)
	offset        int64 // milliseconds (server - local)
	lastSync      time.Time
	maxAge        time.Duration
	mu            sync.RWMutex
}

// NewTimeSync creates a time synchronization helper. It re-syncs lazily
// whenever the last sync is older than 30 minutes.
func NewTimeSync(getServerTime func(ctx context.Context) (int64, error)) *TimeSync {
	return &TimeSync{
		getServerTime: getServerTime,
		maxAge:        30 * time.Minute,
	}
}

// Sync synchronizes with server time.
func (ts *TimeSync) Sync(ctx context.Context) error {
	localBefore := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime(ctx)
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()

	// assume symmetric latency
	localTime := localBefore + (localAfter-localBefore)/2

	ts.mu.Lock()
	ts.offset = serverTime - localTime
	ts.lastSync = time.Now()
	ts.mu.Unlock()

	log.Debug().Int64("offset_ms", serverTime-localTime).Msg("venue time synced")
	return nil
}

// Timestamp returns the current venue time in ms, syncing first when the
// offset is stale. A failed sync falls back to the last known offset.
func (ts *TimeSync) Timestamp(ctx context.Context) int64 {
	ts.mu.RLock()
	stale := time.Since(ts.lastSync) > ts.maxAge
	ts.mu.RUnlock()
	if stale {
		if err := ts.Sync(ctx); err != nil {
			log.Warn().Err(err).Msg("venue time sync failed")
		}
	}
	return ts.Now()
}

// Now returns current time adjusted for server offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the current time offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
