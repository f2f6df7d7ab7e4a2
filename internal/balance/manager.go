// Package balance caches the venue's available balance and reserves funds
// for orders that are in flight.
package balance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"execution-core/internal/tradeerr"
)

// Source reports the venue's available balance in the quote currency.
type Source interface {
	GetAccountBalance(ctx context.Context) (float64, error)
}

// Balance represents account balance.
type Balance struct {
	Total     float64   `json:"total"`
	Available float64   `json:"available"`
	Locked    float64   `json:"locked"`
	LastSync  time.Time `json:"last_sync"`
}

// Manager manages account balance.
type Manager struct {
	src Source

	mu       sync.RWMutex
	total    float64
	locked   float64
	lastSync time.Time
	synced   bool
}

// NewManager creates a balance manager backed by src.
func NewManager(src Source) *Manager {
	return &Manager{src: src}
}

// Sync fetches the latest balance from the venue. It has the shape of a
// freshness fetcher.
func (m *Manager) Sync(ctx context.Context) error {
	if m.src == nil {
		return nil
	}
	amount, err := m.src.GetAccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	m.Set(amount)
	return nil
}

// Set replaces the venue balance, e.g. from a push update.
func (m *Manager) Set(amount float64) {
	m.mu.Lock()
	m.total = amount
	m.lastSync = time.Now()
	m.synced = true
	locked := m.locked
	m.mu.Unlock()

	log.Debug().Float64("total", amount).Float64("locked", locked).Msg("balance synced")
}

// Synced reports whether at least one balance has been loaded.
func (m *Manager) Synced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.synced
}

// GetAvailable returns the venue balance minus in-flight reservations.
func (m *Manager) GetAvailable() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if avail := m.total - m.locked; avail > 0 {
		return avail
	}
	return 0
}

// Lock reserves amount for an order being submitted.
func (m *Manager) Lock(amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if avail := m.total - m.locked; amount > avail {
		return fmt.Errorf("%w: need %.2f, have %.2f", tradeerr.ErrInsufficientBalance, amount, avail)
	}
	m.locked += amount
	return nil
}

// Unlock releases a reservation once the venue has answered. The next sync
// reflects whatever the order actually spent.
func (m *Manager) Unlock(amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked -= amount
	if m.locked < 0 {
		m.locked = 0
	}
}

// GetBalance returns current balance snapshot.
func (m *Manager) GetBalance() Balance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	avail := m.total - m.locked
	if avail < 0 {
		avail = 0
	}
	return Balance{
		Total:     m.total,
		Available: avail,
		Locked:    m.locked,
		LastSync:  m.lastSync,
	}
}
