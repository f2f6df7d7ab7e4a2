package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"execution-core/pkg/exchanges/common"
)

// HistorySource supplies the full filled-order history.
type HistorySource interface {
	ListFilledOrders(ctx context.Context, symbol string) ([]common.FilledOrder, error)
}

// Ledger keeps the last committed Snapshot in memory.
//
// Recomputes may overlap. Each one takes a sequence number when it starts
// and only commits if no later recompute has committed first, so the
// snapshot always reflects the most recently issued rebuild that finished.
type Ledger struct {
	src HistorySource

	mu        sync.RWMutex
	issued    uint64
	committed uint64
	snap      Snapshot

	// OnCommit, when set, is called after a snapshot is committed.
	OnCommit func(Snapshot)
}

// New creates an empty ledger over src.
func New(src HistorySource) *Ledger {
	return &Ledger{
		src:  src,
		snap: Snapshot{Positions: []Position{}},
	}
}

// Recompute fetches the full history and rebuilds every position. The
// returned bool reports whether this rebuild was committed.
func (l *Ledger) Recompute(ctx context.Context) (Snapshot, bool, error) {
	l.mu.Lock()
	l.issued++
	seq := l.issued
	l.mu.Unlock()

	orders, err := l.src.ListFilledOrders(ctx, "")
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("list filled orders: %w", err)
	}
	snap := Build(orders)
	snap.Seq = seq

	l.mu.Lock()
	if seq <= l.committed {
		l.mu.Unlock()
		log.Debug().Uint64("seq", seq).Uint64("committed", l.committed).Msg("ledger: discarding superseded rebuild")
		return snap, false, nil
	}
	l.committed = seq
	l.snap = snap
	hook := l.OnCommit
	l.mu.Unlock()

	for _, a := range snap.Anomalies {
		log.Warn().Str("symbol", a.Symbol).Str("order_id", a.OrderID).Float64("excess", a.Excess).
			Msg("ledger: sell exceeds tracked quantity, position closed at zero")
	}
	log.Debug().Uint64("seq", seq).Int("positions", len(snap.Positions)).Msg("ledger: committed")

	if hook != nil {
		hook(snap)
	}
	return snap, true, nil
}

// Snapshot returns the last committed snapshot.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

// Position returns the committed position for symbol.
func (l *Ledger) Position(symbol string) (Position, bool) {
	return l.Snapshot().Lookup(symbol)
}

// Positions returns all committed open positions.
func (l *Ledger) Positions() []Position {
	s := l.Snapshot()
	out := make([]Position, len(s.Positions))
	copy(out, s.Positions)
	return out
}
