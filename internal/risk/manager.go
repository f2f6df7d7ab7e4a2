package risk

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Manager resolves exit percentages from signal values, per-strategy
// defaults and the global config, in that order.
type Manager struct {
	db         *sql.DB
	global     Config
	strategies map[string]StrategyDefaults
	mu         sync.RWMutex
}

// NewManager creates a manager backed by the strategy_defaults table.
func NewManager(db *sql.DB, global Config) (*Manager, error) {
	mgr := &Manager{
		db:         db,
		global:     global,
		strategies: make(map[string]StrategyDefaults),
	}
	if err := mgr.Load(context.Background()); err != nil {
		return nil, fmt.Errorf("load strategy defaults: %w", err)
	}

	log.Info().
		Float64("stop_loss_pct", global.StopLossPct).
		Float64("take_profit_pct", global.TakeProfitPct).
		Int("strategies", len(mgr.strategies)).
		Msg("risk defaults initialized")
	return mgr, nil
}

// NewInMemory creates a manager without DB persistence.
func NewInMemory(global Config) *Manager {
	return &Manager{
		global:     global,
		strategies: make(map[string]StrategyDefaults),
	}
}

// Load replaces the in-memory strategy map with the DB contents.
func (m *Manager) Load(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT strategy_id, name, stop_loss_pct, take_profit_pct, risk_pct, updated_at
		FROM strategy_defaults
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	loaded := make(map[string]StrategyDefaults)
	for rows.Next() {
		var (
			d          StrategyDefaults
			sl, tp, rp sql.NullFloat64
		)
		if err := rows.Scan(&d.StrategyID, &d.Name, &sl, &tp, &rp, &d.UpdatedAt); err != nil {
			return err
		}
		d.StopLossPct = nullable(sl)
		d.TakeProfitPct = nullable(tp)
		d.RiskPct = nullable(rp)
		loaded[d.StrategyID] = d
	}
	if err := rows.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.strategies = loaded
	m.mu.Unlock()
	return nil
}

// Global returns the global defaults.
func (m *Manager) Global() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.global
}

// Strategy returns the overrides for id.
func (m *Manager) Strategy(id string) (StrategyDefaults, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.strategies[id]
	return d, ok
}

// Resolve picks stop-loss and take-profit percentages. A non-nil signal
// value wins, then the strategy override, then the global default.
func (m *Manager) Resolve(signalSL, signalTP *float64, strategyID string) ExitPercents {
	m.mu.RLock()
	global := m.global
	strat, hasStrat := m.strategies[strategyID]
	m.mu.RUnlock()

	out := ExitPercents{
		StopLossPct:      global.StopLossPct,
		TakeProfitPct:    global.TakeProfitPct,
		StopLossSource:   SourceGlobal,
		TakeProfitSource: SourceGlobal,
	}
	if hasStrat && strat.StopLossPct != nil {
		out.StopLossPct, out.StopLossSource = *strat.StopLossPct, SourceStrategy
	}
	if hasStrat && strat.TakeProfitPct != nil {
		out.TakeProfitPct, out.TakeProfitSource = *strat.TakeProfitPct, SourceStrategy
	}
	if signalSL != nil {
		out.StopLossPct, out.StopLossSource = *signalSL, SourceSignal
	}
	if signalTP != nil {
		out.TakeProfitPct, out.TakeProfitSource = *signalTP, SourceSignal
	}
	return out
}

// RiskPct returns the strategy's percent-of-balance override, or fallback.
func (m *Manager) RiskPct(strategyID string, fallback float64) float64 {
	if d, ok := m.Strategy(strategyID); ok && d.RiskPct != nil {
		return *d.RiskPct
	}
	return fallback
}

// SetStrategy upserts one strategy's overrides.
func (m *Manager) SetStrategy(ctx context.Context, d StrategyDefaults) error {
	return m.Sync(ctx, []StrategyDefaults{d})
}

// Sync upserts defs into the DB and the in-memory map in one transaction.
func (m *Manager) Sync(ctx context.Context, defs []StrategyDefaults) error {
	for _, d := range defs {
		if d.StrategyID == "" {
			return fmt.Errorf("strategy defaults %q: missing id", d.Name)
		}
	}

	now := time.Now().UTC()
	if m.db != nil {
		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO strategy_defaults (strategy_id, name, stop_loss_pct, take_profit_pct, risk_pct, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(strategy_id) DO UPDATE SET
				name = excluded.name,
				stop_loss_pct = excluded.stop_loss_pct,
				take_profit_pct = excluded.take_profit_pct,
				risk_pct = excluded.risk_pct,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, d := range defs {
			if _, err := stmt.ExecContext(ctx, d.StrategyID, d.Name,
				nullFloat(d.StopLossPct), nullFloat(d.TakeProfitPct), nullFloat(d.RiskPct), now); err != nil {
				return fmt.Errorf("upsert strategy defaults %s: %w", d.StrategyID, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range defs {
		d.UpdatedAt = now
		m.strategies[d.StrategyID] = d
	}
	return nil
}

type defaultsFile struct {
	Strategies []StrategyDefaults `yaml:"strategies"`
}

// LoadStrategyDefaults reads per-strategy overrides from a YAML file:
//
//	strategies:
//	  - id: momentum-v2
//	    stop_loss_pct: 3
//	    take_profit_pct: 9
func LoadStrategyDefaults(path string) ([]StrategyDefaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file defaultsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return file.Strategies, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
