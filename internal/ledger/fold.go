// Package ledger reconstructs open positions from filled order history.
//
// Positions are always derived: every refresh folds the complete history
// again instead of patching stored state, so the ledger cannot drift from
// the venue's records.
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"execution-core/pkg/exchanges/common"
)

// Position is the open holding for one symbol.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	TotalCost     float64 `json:"total_cost"`
}

// Anomaly records a sell larger than the tracked quantity. The position is
// still closed at zero; the excess usually means missing buy history.
type Anomaly struct {
	Symbol  string    `json:"symbol"`
	OrderID string    `json:"order_id"`
	Excess  float64   `json:"excess"`
	At      time.Time `json:"at"`
}

// Snapshot is the result of one full rebuild.
type Snapshot struct {
	Positions []Position `json:"positions"`
	Anomalies []Anomaly  `json:"anomalies,omitempty"`
	Seq       uint64     `json:"seq"`
	BuiltAt   time.Time  `json:"built_at"`
}

// Lookup returns the position for symbol, if open.
func (s Snapshot) Lookup(symbol string) (Position, bool) {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return Position{}, false
}

// Fold replays one symbol's history. Only FILLED orders count and they are
// applied in fill-time order regardless of input order.
func Fold(orders []common.FilledOrder) Position {
	p, _ := fold(orders)
	return p
}

func fold(orders []common.FilledOrder) (Position, []Anomaly) {
	filled := make([]common.FilledOrder, 0, len(orders))
	for _, o := range orders {
		if o.Status == common.StatusFilled {
			filled = append(filled, o)
		}
	}
	sort.SliceStable(filled, func(i, j int) bool {
		return filled[i].FilledAt.Before(filled[j].FilledAt)
	})

	var (
		symbol    string
		qty, cost decimal.Decimal
		avg       decimal.Decimal
		anomalies []Anomaly
	)
	for _, o := range filled {
		symbol = o.Symbol
		q := decimal.NewFromFloat(o.Quantity)
		switch o.Side {
		case common.SideBuy:
			qty = qty.Add(q)
			cost = cost.Add(q.Mul(decimal.NewFromFloat(o.Price)))
			if qty.IsZero() {
				avg = decimal.Zero
			} else {
				avg = cost.Div(qty)
			}
		case common.SideSell:
			if q.GreaterThan(qty) {
				anomalies = append(anomalies, Anomaly{
					Symbol:  o.Symbol,
					OrderID: o.OrderID,
					Excess:  q.Sub(qty).InexactFloat64(),
					At:      o.FilledAt,
				})
			}
			qty = qty.Sub(q)
			if qty.Sign() <= 0 {
				qty, cost, avg = decimal.Zero, decimal.Zero, decimal.Zero
			} else {
				cost = qty.Mul(avg)
			}
		}
	}

	return Position{
		Symbol:        symbol,
		Quantity:      qty.InexactFloat64(),
		AvgEntryPrice: avg.InexactFloat64(),
		TotalCost:     cost.InexactFloat64(),
	}, anomalies
}

// Build groups history by symbol and keeps the symbols still held.
func Build(orders []common.FilledOrder) Snapshot {
	bySymbol := make(map[string][]common.FilledOrder)
	for _, o := range orders {
		bySymbol[o.Symbol] = append(bySymbol[o.Symbol], o)
	}

	snap := Snapshot{Positions: []Position{}, BuiltAt: time.Now().UTC()}
	for sym, hist := range bySymbol {
		p, anomalies := fold(hist)
		snap.Anomalies = append(snap.Anomalies, anomalies...)
		if p.Quantity > 0 {
			p.Symbol = sym
			snap.Positions = append(snap.Positions, p)
		}
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		return snap.Positions[i].Symbol < snap.Positions[j].Symbol
	})
	sort.SliceStable(snap.Anomalies, func(i, j int) bool {
		return snap.Anomalies[i].At.Before(snap.Anomalies[j].At)
	})
	return snap
}
