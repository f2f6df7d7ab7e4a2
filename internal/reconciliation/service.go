// Package reconciliation settles journal rows left PENDING when the process
// stopped between sending an order and recording the venue's answer.
package reconciliation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"execution-core/pkg/db"
	"execution-core/pkg/exchanges/common"
)

// HistorySource is the venue order history.
type HistorySource interface {
	ListFilledOrders(ctx context.Context, symbol string) ([]common.FilledOrder, error)
}

// Journal is the part of the order journal reconciliation touches.
type Journal interface {
	ListPending(ctx context.Context, olderThan time.Time) ([]db.JournalEntry, error)
	ResolvePending(ctx context.Context, clientID, status, venueOrderID string) (bool, error)
}

// Service periodically matches pending journal rows against venue history.
type Service struct {
	venue    HistorySource
	journal  Journal
	interval time.Duration
	minAge   time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

// Report summarises one reconciliation pass.
type Report struct {
	Timestamp   time.Time `json:"timestamp"`
	Pending     int       `json:"pending"`
	Matched     int       `json:"matched"`
	Unconfirmed int       `json:"unconfirmed"`
}

// NewService creates a reconciler. Rows younger than minAge are skipped so
// in-flight submissions are never touched.
func NewService(venue HistorySource, journal Journal, interval, minAge time.Duration) *Service {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if minAge <= 0 {
		minAge = 2 * time.Minute
	}
	return &Service{
		venue:    venue,
		journal:  journal,
		interval: interval,
		minAge:   minAge,
		now:      time.Now,
	}
}

// Start runs one pass immediately, then one per interval until ctx is done.
func (s *Service) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			if _, err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("reconciliation: pass failed")
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Info().Dur("interval", s.interval).Msg("reconciliation service started")
}

// Reconcile settles every pending row old enough to be abandoned. A row
// whose client id shows up in venue history takes the venue's status; one
// that does not is marked UNCONFIRMED.
func (s *Service) Reconcile(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := Report{Timestamp: s.now().UTC()}
	pending, err := s.journal.ListPending(ctx, s.now().Add(-s.minAge))
	if err != nil {
		return report, err
	}
	report.Pending = len(pending)
	if len(pending) == 0 {
		return report, nil
	}

	history, err := s.venue.ListFilledOrders(ctx, "")
	if err != nil {
		return report, err
	}

	for _, row := range pending {
		status, orderID := db.StatusUnconfirmed, ""
		if o, ok := findByClientID(history, row.ClientID); ok {
			status, orderID = string(o.Status), o.OrderID
		}
		resolved, err := s.journal.ResolvePending(ctx, row.ClientID, status, orderID)
		if err != nil {
			return report, err
		}
		if !resolved {
			continue
		}
		if status == db.StatusUnconfirmed {
			report.Unconfirmed++
			log.Warn().Str("client_id", row.ClientID).Str("symbol", row.Symbol).
				Msg("reconciliation: pending order not found at venue")
		} else {
			report.Matched++
			log.Info().Str("client_id", row.ClientID).Str("status", status).Msg("reconciliation: pending order settled")
		}
	}
	return report, nil
}

func findByClientID(history []common.FilledOrder, clientID string) (common.FilledOrder, bool) {
	for _, o := range history {
		if sameClientID(clientID, o.ClientID) {
			return o, true
		}
	}
	return common.FilledOrder{}, false
}

// sameClientID also accepts the dash-free prefix venues with short tag
// fields report.
func sameClientID(journal, venue string) bool {
	if venue == "" {
		return false
	}
	if journal == venue {
		return true
	}
	return strings.HasPrefix(strings.ReplaceAll(journal, "-", ""), venue)
}
