package risk

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/pkg/db"
)

func ptr(v float64) *float64 { return &v }

func TestResolvePrecedence(t *testing.T) {
	mgr := NewInMemory(DefaultConfig())
	require.NoError(t, mgr.SetStrategy(context.Background(), StrategyDefaults{
		StrategyID:  "momentum",
		StopLossPct: ptr(3),
	}))

	tests := []struct {
		name     string
		sl, tp   *float64
		strategy string
		want     ExitPercents
	}{
		{
			name: "global only",
			want: ExitPercents{StopLossPct: 5, TakeProfitPct: 10, StopLossSource: SourceGlobal, TakeProfitSource: SourceGlobal},
		},
		{
			name:     "strategy overrides stop only",
			strategy: "momentum",
			want:     ExitPercents{StopLossPct: 3, TakeProfitPct: 10, StopLossSource: SourceStrategy, TakeProfitSource: SourceGlobal},
		},
		{
			name:     "signal wins",
			sl:       ptr(1.5),
			tp:       ptr(4),
			strategy: "momentum",
			want:     ExitPercents{StopLossPct: 1.5, TakeProfitPct: 4, StopLossSource: SourceSignal, TakeProfitSource: SourceSignal},
		},
		{
			name:     "explicit zero from signal is kept",
			sl:       ptr(0),
			strategy: "unknown",
			want:     ExitPercents{StopLossPct: 0, TakeProfitPct: 10, StopLossSource: SourceSignal, TakeProfitSource: SourceGlobal},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mgr.Resolve(tt.sl, tt.tp, tt.strategy))
		})
	}
}

func TestRiskPct(t *testing.T) {
	mgr := NewInMemory(DefaultConfig())
	require.NoError(t, mgr.SetStrategy(context.Background(), StrategyDefaults{StrategyID: "grid", RiskPct: ptr(1.25)}))
	assert.Equal(t, 1.25, mgr.RiskPct("grid", 2))
	assert.Equal(t, 2.0, mgr.RiskPct("other", 2))
}

func TestSyncRejectsMissingID(t *testing.T) {
	mgr := NewInMemory(DefaultConfig())
	err := mgr.Sync(context.Background(), []StrategyDefaults{{Name: "nameless"}})
	assert.Error(t, err)
	_, ok := mgr.Strategy("")
	assert.False(t, ok)
}

func TestLoadStrategyDefaultsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
strategies:
  - id: momentum
    name: Momentum v2
    stop_loss_pct: 3
    take_profit_pct: 9
  - id: breakout
    name: Breakout
    risk_pct: 1
`), 0o644))

	defs, err := LoadStrategyDefaults(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "momentum", defs[0].StrategyID)
	require.NotNil(t, defs[0].StopLossPct)
	assert.Equal(t, 3.0, *defs[0].StopLossPct)
	assert.Nil(t, defs[1].StopLossPct)
	require.NotNil(t, defs[1].RiskPct)

	_, err = LoadStrategyDefaults(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestManagerPersistsStrategyDefaults(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	ctx := context.Background()
	mgr, err := NewManager(database.DB, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, mgr.Sync(ctx, []StrategyDefaults{
		{StrategyID: "momentum", Name: "Momentum", StopLossPct: ptr(3), TakeProfitPct: ptr(9)},
		{StrategyID: "breakout", Name: "Breakout"},
	}))

	// a second manager sees the rows written by the first
	reloaded, err := NewManager(database.DB, DefaultConfig())
	require.NoError(t, err)

	got := reloaded.Resolve(nil, nil, "momentum")
	assert.Equal(t, 3.0, got.StopLossPct)
	assert.Equal(t, 9.0, got.TakeProfitPct)

	breakout, ok := reloaded.Strategy("breakout")
	require.True(t, ok)
	assert.Nil(t, breakout.StopLossPct)
	assert.Equal(t, SourceGlobal, reloaded.Resolve(nil, nil, "breakout").StopLossSource)
}
