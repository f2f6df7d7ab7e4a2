// Package openorders keeps the last fetched set of resting venue orders.
package openorders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"execution-core/pkg/exchanges/common"
)

// Source lists resting orders at the venue.
type Source interface {
	ListOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error)
}

// Book holds the resting orders from the most recent successful fetch.
type Book struct {
	src Source
	now func() time.Time

	mu        sync.RWMutex
	orders    []common.OpenOrder
	fetchedAt time.Time
}

// New creates an empty book over src.
func New(src Source) *Book {
	return &Book{src: src, now: time.Now, orders: []common.OpenOrder{}}
}

// Refresh replaces the book with the venue's current resting orders. On
// error the previous contents are kept.
func (b *Book) Refresh(ctx context.Context) error {
	orders, err := b.src.ListOpenOrders(ctx, "")
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].OrderID < orders[j].OrderID
	})

	b.mu.Lock()
	b.orders = orders
	b.fetchedAt = b.now()
	b.mu.Unlock()

	log.Debug().Int("orders", len(orders)).Msg("openorders: refreshed")
	return nil
}

// List returns a copy of the resting orders, optionally for one symbol,
// and when they were fetched.
func (b *Book) List(symbol string) ([]common.OpenOrder, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]common.OpenOrder, 0, len(b.orders))
	for _, o := range b.orders {
		if symbol == "" || strings.EqualFold(o.Symbol, symbol) {
			out = append(out, o)
		}
	}
	return out, b.fetchedAt
}

// Reserved sums the quantity still unfilled on resting sells of symbol.
func (b *Book) Reserved(symbol string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total float64
	for _, o := range b.orders {
		if o.Side == common.SideSell && strings.EqualFold(o.Symbol, symbol) {
			total += o.Quantity - o.Filled
		}
	}
	return total
}
