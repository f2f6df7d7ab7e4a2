package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/balance"
	"execution-core/internal/freshness"
	"execution-core/internal/ledger"
	"execution-core/internal/order"
	"execution-core/internal/risk"
	"execution-core/internal/signal"
	"execution-core/internal/symbol"
	"execution-core/internal/tradeerr"
	"execution-core/pkg/cache"
	"execution-core/pkg/exchanges/common"
	"execution-core/pkg/exchanges/paper"
)

type recordingFeeds struct {
	mu          sync.Mutex
	invalidated []freshness.Feed
	ensured     []freshness.Feed
}

func (f *recordingFeeds) Invalidate(feed freshness.Feed) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, feed)
}

func (f *recordingFeeds) EnsureFresh(_ context.Context, feed freshness.Feed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, feed)
	return nil
}

type fixture struct {
	svc    *Service
	venue  *paper.Exchange
	prices *cache.ShardedPriceCache
	feeds  *recordingFeeds
}

func newFixture(t *testing.T, v common.Venue) *fixture {
	t.Helper()
	prices := cache.NewShardedPriceCache()
	venue := paper.New(paper.Config{
		Name:           "paper",
		Venue:          v,
		InitialBalance: 1000,
		Capabilities:   common.Capabilities{Bracket: true, ExtendedHours: true, TrailingStop: true},
		Sim:            paper.SimConfig{Seed: 7},
	}, prices)
	funds := balance.NewManager(venue)
	require.NoError(t, funds.Sync(context.Background()))

	feeds := &recordingFeeds{}
	svc := &Service{
		Adapter:        venue,
		Normalizer:     symbol.New(nil, "USDT"),
		Risk:           risk.NewInMemory(risk.DefaultConfig()),
		Builder:        order.NewBuilder(venue),
		Executor:       order.NewExecutor(venue, nil, nil),
		Balance:        funds,
		Ledger:         ledger.New(venue),
		Prices:         prices,
		Feeds:          feeds,
		PriceMaxAge:    time.Minute,
		DefaultRiskPct: 2,
	}
	svc.Executor.Funds = funds
	return &fixture{svc: svc, venue: venue, prices: prices, feeds: feeds}
}

func buySignal(sym string, ref float64) signal.Signal {
	return signal.Signal{SymbolDisplay: sym, Side: common.SideBuy, Confidence: signal.ConfidenceHigh, ReferencePrice: ref}
}

func percent(p float64) Sizing {
	return Sizing{Mode: risk.SizePercentOfBalance, RiskPct: p}
}

func TestPreviewCryptoScenario(t *testing.T) {
	f := newFixture(t, common.VenueSpot)

	p, err := f.svc.Preview(context.Background(), Intent{Signal: buySignal("ETH / USDT", 100), Sizing: percent(2.5)})
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", p.Symbol)
	assert.Equal(t, PriceReference, p.PriceOrigin)
	assert.InDelta(t, 0.25, p.Sized.Quantity, 1e-12)
	assert.InDelta(t, 25, p.Sized.TotalCost, 1e-9)
	assert.InDelta(t, 95, p.Levels.StopLoss, 1e-9)
	assert.InDelta(t, 110, p.Levels.TakeProfit, 1e-9)
	assert.InDelta(t, 1.25, p.Levels.MaxLossAmount, 1e-9)
	assert.Equal(t, risk.SourceGlobal, p.Exits.StopLossSource)

	assert.Equal(t, common.Amount{Kind: common.AmountQuoteNotional, Value: 25}, p.Request.Amount)
	assert.Equal(t, []freshness.Feed{freshness.FeedBalance}, f.feeds.ensured)
	assert.Empty(t, f.feeds.invalidated, "preview sends nothing")
	assert.Empty(t, f.venue.Holding("ETHUSDT"))
}

func TestPreviewEquitiesTooSmall(t *testing.T) {
	f := newFixture(t, common.VenueEquities)
	_, err := f.svc.Preview(context.Background(), Intent{Signal: buySignal("aapl", 100), Sizing: percent(2.5)})
	assert.ErrorIs(t, err, tradeerr.ErrInvalidSize)
}

func TestPreviewQuoteOnlySymbol(t *testing.T) {
	f := newFixture(t, common.VenueSpot)
	_, err := f.svc.Preview(context.Background(), Intent{Signal: buySignal("USDT", 1), Sizing: percent(2.5)})
	assert.ErrorIs(t, err, tradeerr.ErrInvalidSymbol)
}

func TestEntryPricePrecedence(t *testing.T) {
	rt := 102.0
	sig := buySignal("ETHUSDT", 100)
	sig.RealtimePrice = &rt

	tests := []struct {
		name     string
		cached   float64
		override float64
		params   order.Params
		want     float64
		origin   PriceOrigin
	}{
		{"limit price wins", 104, 103, order.Params{Type: common.OrderTypeLimit, LimitPrice: 99}, 99, PriceLimit},
		{"override", 104, 103, order.Params{}, 103, PriceOverride},
		{"fresh cache", 104, 0, order.Params{}, 104, PriceCache},
		{"signal realtime", 0, 0, order.Params{}, 102, PriceRealtime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, common.VenueSpot)
			f.prices.Set("ETHUSDT", tt.cached)
			got, origin := f.svc.entryPrice("ETHUSDT", Intent{Signal: sig, EntryPrice: tt.override, Params: tt.params})
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.origin, origin)
		})
	}

	f := newFixture(t, common.VenueSpot)
	got, origin := f.svc.entryPrice("ETHUSDT", Intent{Signal: buySignal("ETHUSDT", 100)})
	assert.Equal(t, 100.0, got)
	assert.Equal(t, PriceReference, origin)
}

func TestStrategyDefaultsFeedLevels(t *testing.T) {
	f := newFixture(t, common.VenueSpot)
	sl, tp := 2.0, 6.0
	require.NoError(t, f.svc.Risk.SetStrategy(context.Background(), risk.StrategyDefaults{StrategyID: "swing", StopLossPct: &sl, TakeProfitPct: &tp}))

	sig := buySignal("BTC", 100)
	sig.StrategyID = "swing"
	p, err := f.svc.Preview(context.Background(), Intent{Signal: sig, Sizing: percent(10)})
	require.NoError(t, err)
	assert.Equal(t, risk.SourceStrategy, p.Exits.StopLossSource)
	assert.InDelta(t, 98, p.Levels.StopLoss, 1e-9)
	assert.InDelta(t, 106, p.Levels.TakeProfit, 1e-9)
}

func TestExecuteFillsAndInvalidates(t *testing.T) {
	f := newFixture(t, common.VenueSpot)
	f.prices.Set("ETHUSDT", 100)

	ex, err := f.svc.Execute(context.Background(), Intent{
		Signal: buySignal("ETH", 100),
		Sizing: percent(2.5),
		Params: order.Params{Type: common.OrderTypeMarket, Bracket: true, TimeInForce: common.TIFDay},
	})
	require.NoError(t, err)
	assert.Equal(t, common.StatusFilled, ex.Result.Status)
	assert.Equal(t, common.TIFGTC, ex.Request.TimeInForce, "bracket forces GTC")
	require.NotNil(t, ex.Request.Bracket)
	assert.InDelta(t, 110, ex.Request.Bracket.TakeProfitLimit, 1e-9)

	assert.ElementsMatch(t, []freshness.Feed{freshness.FeedBalance, freshness.FeedOpenOrders, freshness.FeedOrderHistory}, f.feeds.invalidated)
	assert.InDelta(t, 0.25, f.venue.Holding("ETHUSDT"), 1e-12)
	assert.Zero(t, f.svc.Balance.GetBalance().Locked)
}

func TestExecuteRejectionLeavesStateAlone(t *testing.T) {
	f := newFixture(t, common.VenueSpot)
	// no cached price: the paper venue cannot fill the market order

	_, err := f.svc.Execute(context.Background(), Intent{Signal: buySignal("DOGE", 0.1), Sizing: percent(10)})
	_, isRejection := tradeerr.AsRejection(err)
	assert.True(t, isRejection)
	assert.Empty(t, f.feeds.invalidated)
	assert.Equal(t, 1000.0, f.svc.Balance.GetAvailable())
}

func TestCloseAndReducingSell(t *testing.T) {
	f := newFixture(t, common.VenueSpot)
	f.prices.Set("ETHUSDT", 100)
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, Intent{Signal: buySignal("ETH", 100), Sizing: Sizing{Mode: risk.SizeFixedAmount, Amount: 50}})
	require.NoError(t, err)
	_, _, err = f.svc.Ledger.Recompute(ctx)
	require.NoError(t, err)

	// half of the held value, sized against the position rather than cash
	sell := buySignal("ETH", 100)
	sell.Side = common.SideSell
	p, err := f.svc.Preview(ctx, Intent{Signal: sell, Sizing: percent(50)})
	require.NoError(t, err)
	assert.True(t, p.Reducing)
	assert.Equal(t, common.AmountBaseQty, p.Request.Amount.Kind)
	assert.InDelta(t, 0.25, p.Request.Amount.Value, 1e-12)

	ex, err := f.svc.ClosePosition(ctx, "eth")
	require.NoError(t, err)
	assert.Equal(t, common.SideSell, ex.Request.Side)
	assert.InDelta(t, 0.5, ex.Request.Amount.Value, 1e-12)
	assert.Zero(t, f.venue.Holding("ETHUSDT"))
	assert.Contains(t, f.feeds.ensured, freshness.FeedOrderHistory)

	_, _, err = f.svc.Ledger.Recompute(ctx)
	require.NoError(t, err)
	_, err = f.svc.ClosePosition(ctx, "ETH")
	assert.ErrorIs(t, err, ErrNoPosition)
}

type validationCounter struct{ codes []string }

func (v *validationCounter) ObserveValidation(_, code string) { v.codes = append(v.codes, code) }

func TestExecuteCountsValidationFailures(t *testing.T) {
	f := newFixture(t, common.VenueSpot)
	counter := &validationCounter{}
	f.svc.Metrics = counter

	_, err := f.svc.Execute(context.Background(), Intent{Signal: buySignal("ETH", 100), Sizing: Sizing{Mode: risk.SizeFixedAmount, Amount: 5000}})
	assert.ErrorIs(t, err, tradeerr.ErrInsufficientBalance)
	assert.Equal(t, []string{"INSUFFICIENT_BALANCE"}, counter.codes)
	assert.Empty(t, f.feeds.invalidated)
}
