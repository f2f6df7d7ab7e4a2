package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/balance"
	"execution-core/internal/events"
	"execution-core/internal/freshness"
	"execution-core/internal/ledger"
	"execution-core/internal/monitor"
	"execution-core/internal/openorders"
	"execution-core/internal/order"
	"execution-core/internal/pipeline"
	"execution-core/internal/risk"
	"execution-core/internal/symbol"
	"execution-core/pkg/cache"
	"execution-core/pkg/db"
	"execution-core/pkg/exchanges/common"
	"execution-core/pkg/exchanges/paper"
)

type testEnv struct {
	server *Server
	prices *cache.ShardedPriceCache
	venue  *paper.Exchange
	sched  *freshness.Scheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))
	t.Cleanup(func() { database.Close() })

	prices := cache.NewShardedPriceCache()
	venue := paper.New(paper.Config{
		Name:           "paper-spot",
		Venue:          common.VenueSpot,
		InitialBalance: 1000,
		Capabilities:   common.Capabilities{Bracket: true},
		Sim:            paper.SimConfig{Seed: 3},
	}, prices)

	funds := balance.NewManager(venue)
	require.NoError(t, funds.Sync(context.Background()))
	book := ledger.New(venue)
	resting := openorders.New(venue)

	sched := freshness.New(freshness.DefaultConfig(), map[freshness.Feed]freshness.Fetcher{
		freshness.FeedBalance:    funds.Sync,
		freshness.FeedOpenOrders: resting.Refresh,
		freshness.FeedOrderHistory: func(ctx context.Context) error {
			_, _, err := book.Recompute(ctx)
			return err
		},
	}, freshness.Hooks{})
	t.Cleanup(sched.Stop)

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics(nil)
	exec := order.NewExecutor(venue, database, bus)
	exec.Funds = funds
	exec.Metrics = metrics

	svc := &pipeline.Service{
		Adapter:        venue,
		Normalizer:     symbol.New(nil, "USDT"),
		Risk:           risk.NewInMemory(risk.DefaultConfig()),
		Builder:        order.NewBuilder(venue),
		Executor:       exec,
		Balance:        funds,
		Ledger:         book,
		Prices:         prices,
		Feeds:          sched,
		PriceMaxAge:    time.Minute,
		DefaultRiskPct: 2,
	}

	s := NewServer(&Server{
		Bus:        bus,
		DB:         database,
		Pipeline:   svc,
		Ledger:     book,
		OpenOrders: resting,
		BalanceMgr: funds,
		Scheduler:  sched,
		Prices:     prices,
		Metrics:    metrics,
		Gatherer:   prometheus.NewRegistry(),
		Meta:       SystemMeta{DryRun: true, Venue: "paper-spot", Market: "spot", Version: "test"},
	}, Options{RateLimit: 1000, RateBurst: 1000})

	return &testEnv{server: s, prices: prices, venue: venue, sched: sched}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

const ethSignal = `{"signal": {"symbol": "ETH / USDT", "side": "BUY", "confidence": 0.8, "reference_price": 100},
	"sizing": {"mode": "percent_of_balance", "risk_pct": 2.5}}`

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"venue":"paper-spot"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestPreviewOrder(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodPost, "/api/orders/preview", ethSignal)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	p := decode[pipeline.Preview](t, w)
	assert.Equal(t, "ETHUSDT", p.Symbol)
	assert.InDelta(t, 0.25, p.Sized.Quantity, 1e-12)
	assert.InDelta(t, 95, p.Levels.StopLoss, 1e-9)
	assert.Zero(t, e.venue.Holding("ETHUSDT"), "preview submits nothing")
}

func TestPreviewErrors(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"signal":`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"no symbol", `{"signal": {"side": "BUY", "price": 1}}`, http.StatusBadRequest, "INVALID_SIGNAL"},
		{"infinite stop loss", `{"signal": {"symbol": "ETH", "side": "BUY", "price": 100, "sl": "Inf"}}`, http.StatusBadRequest, "INVALID_SIGNAL"},
		{"quote asset only", `{"signal": {"symbol": "USDT", "side": "BUY", "price": 1}, "sizing": {"mode": "percent_of_balance", "risk_pct": 2}}`, http.StatusUnprocessableEntity, "INVALID_SYMBOL"},
		{"oversized", `{"signal": {"symbol": "ETH", "side": "BUY", "price": 100}, "sizing": {"mode": "fixed_amount", "amount": 5000}}`, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/api/orders/preview", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			body := decode[map[string]any](t, w)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestCreateOrderJournalsAndUpdatesPositions(t *testing.T) {
	e := newTestEnv(t)
	e.prices.Set("ETHUSDT", 100)

	w := e.do(t, http.MethodPost, "/api/orders", ethSignal)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ex := decode[pipeline.Execution](t, w)
	assert.Equal(t, common.StatusFilled, ex.Result.Status)

	w = e.do(t, http.MethodGet, "/api/orders?symbol=ETHUSDT&limit=9999", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "500", w.Header().Get("X-Result-Limit"))
	rows := decode[[]db.JournalEntry](t, w)
	require.Len(t, rows, 1)
	assert.Equal(t, string(common.StatusFilled), rows[0].Status)

	// the submission invalidated history; refresh=true rebuilds it
	assert.Equal(t, freshness.StateStale, e.sched.State(freshness.FeedOrderHistory))
	w = e.do(t, http.MethodGet, "/api/positions?refresh=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Positions []ledger.Position `json:"positions"`
		State     freshness.State   `json:"state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Positions, 1)
	assert.Equal(t, "ETHUSDT", resp.Positions[0].Symbol)
	assert.InDelta(t, 0.25, resp.Positions[0].Quantity, 1e-12)
	assert.Equal(t, freshness.StateFresh, resp.State)
	require.NotNil(t, resp.Reserved)
	assert.Zero(t, *resp.Reserved, "a resting buy reserves nothing to sell")
}

func TestOpenOrdersAfterLimitEntry(t *testing.T) {
	e := newTestEnv(t)
	body := `{"signal": {"symbol": "ETHUSDT", "side": "BUY", "reference_price": 100},
		"params": {"order_type": "limit", "limit_price": 95, "time_in_force": "GTC"},
		"sizing": {"mode": "percent_of_balance", "risk_pct": 2.5}}`
	w := e.do(t, http.MethodPost, "/api/orders", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	assert.Equal(t, freshness.StateStale, e.sched.State(freshness.FeedOpenOrders))
	w = e.do(t, http.MethodGet, "/api/orders/open?refresh=true&symbol=ETHUSDT", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Orders   []common.OpenOrder `json:"orders"`
		State    freshness.State    `json:"state"`
		Reserved *float64           `json:"reserved_sell_qty"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Orders, 1)
	assert.Equal(t, common.OrderTypeLimit, resp.Orders[0].Type)
	assert.Equal(t, 95.0, resp.Orders[0].LimitPrice)
	assert.Equal(t, freshness.StateFresh, resp.State)
}

func TestCreateOrderRejectedByVenue(t *testing.T) {
	e := newTestEnv(t)
	// no cached price, the paper venue refuses the market order
	w := e.do(t, http.MethodPost, "/api/orders", ethSignal)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	body := decode[map[string]any](t, w)
	assert.Equal(t, "INVALID_SYMBOL_AT_VENUE", body["code"])
	assert.Equal(t, "paper-spot", body["venue"])
}

func TestClosePosition(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodPost, "/api/positions/ETH/close", "")
	assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())

	e.prices.Set("ETHUSDT", 100)
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/orders", ethSignal).Code)

	w = e.do(t, http.MethodPost, "/api/positions/eth/close", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ex := decode[pipeline.Execution](t, w)
	assert.Equal(t, common.SideSell, ex.Request.Side)
	assert.Zero(t, e.venue.Holding("ETHUSDT"))
}

func TestFreshnessEndpoints(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/freshness/bogus/refresh", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/api/freshness/balance/refresh", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, freshness.StateFresh, e.sched.State(freshness.FeedBalance))

	w = e.do(t, http.MethodPost, "/api/view", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/view", `{"visible": true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, e.sched.Visible())

	w = e.do(t, http.MethodGet, "/api/freshness", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Visible bool                   `json:"visible"`
		Feeds   []freshness.FeedStatus `json:"feeds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Visible)
	assert.Len(t, status.Feeds, 3)
}

func TestBalanceAndStatus(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/balance", "")
	require.Equal(t, http.StatusOK, w.Code)
	var bal struct {
		Balance balance.Balance `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bal))
	assert.Equal(t, 1000.0, bal.Balance.Available)

	w = e.do(t, http.MethodGet, "/api/system/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"dry_run":true`)

	w = e.do(t, http.MethodGet, "/api/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)

	e.prices.Set("ETHUSDT", 2500)
	w = e.do(t, http.MethodGet, "/api/prices", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]float64{"ETHUSDT": 2500}, decode[map[string]float64](t, w))
	w = e.do(t, http.MethodGet, "/api/prices?symbol=ethusdt", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"price":2500`)
	w = e.do(t, http.MethodGet, "/api/prices?symbol=DOGEUSDT", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebsocketStreamsBusEvents(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.server.Router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// keep publishing until the server has subscribed
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				e.server.Bus.Publish(events.EventFeedRefreshed, events.FeedRefreshed{Feed: "balance"})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(events.EventFeedRefreshed), msg.Event)
	assert.Equal(t, "balance", msg.Data["feed"])
}
