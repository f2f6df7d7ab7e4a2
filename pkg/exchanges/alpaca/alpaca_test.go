package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/pkg/exchanges/common"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{KeyID: "id", SecretKey: "secret", BaseURL: srv.URL})
}

func TestSubmitBracketBody(t *testing.T) {
	var (
		mu   sync.Mutex
		got  map[string]any
		keys []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		keys = []string{r.Header.Get("APCA-API-KEY-ID"), r.Header.Get("APCA-API-SECRET-KEY")}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"ord-1","client_order_id":"c-1","status":"accepted"}`)
	})

	res, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		ClientID:    "c-1",
		Symbol:      "AAPL",
		Side:        common.SideBuy,
		Type:        common.OrderTypeMarket,
		Amount:      common.Amount{Kind: common.AmountShares, Value: 10},
		TimeInForce: common.TIFGTC,
		Bracket:     &common.Bracket{TakeProfitLimit: 110, StopLossStop: 95},
	})
	require.NoError(t, err)
	assert.Equal(t, common.OrderResult{OrderID: "ord-1", ClientID: "c-1", Status: common.StatusNew}, res)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"id", "secret"}, keys)
	assert.Equal(t, "10", got["qty"])
	assert.Equal(t, "buy", got["side"])
	assert.Equal(t, "gtc", got["time_in_force"])
	assert.Equal(t, "bracket", got["order_class"])
	assert.Equal(t, map[string]any{"limit_price": "110"}, got["take_profit"])
	assert.Equal(t, map[string]any{"stop_price": "95"}, got["stop_loss"])
	assert.NotContains(t, got, "extended_hours")
}

func TestBuildBodyVariants(t *testing.T) {
	b, err := buildBody(common.OrderRequest{Symbol: "TSLA", Side: common.SideSell, Type: common.OrderTypeTrailingStop,
		TrailPercent: 2.5, Amount: common.Amount{Kind: common.AmountShares, Value: 4}})
	require.NoError(t, err)
	assert.Equal(t, "trailing_stop", b.Type)
	assert.Equal(t, "2.5", b.TrailPercent)
	assert.Equal(t, "day", b.TimeInForce)

	b, err = buildBody(common.OrderRequest{Symbol: "TSLA", Side: common.SideBuy, Type: common.OrderTypeLimit,
		LimitPrice: 180.25, ExtendedHours: true, TimeInForce: common.TIFDay, Amount: common.Amount{Kind: common.AmountShares, Value: 1}})
	require.NoError(t, err)
	assert.Equal(t, "180.25", b.LimitPrice)
	assert.True(t, b.ExtendedHours)

	_, err = buildBody(common.OrderRequest{Amount: common.Amount{Kind: common.AmountQuoteNotional, Value: 100}})
	assert.Error(t, err)
}

func TestSubmitErrorDecoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"code":40310000,"message":"insufficient buying power"}`)
	})
	_, err := c.SubmitOrder(context.Background(), common.OrderRequest{Symbol: "AAPL", Side: common.SideBuy,
		Type: common.OrderTypeMarket, Amount: common.Amount{Kind: common.AmountShares, Value: 1000}})
	var ve *common.VenueError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, http.StatusForbidden, ve.StatusCode)
	assert.Equal(t, 40310000, ve.Code)
	assert.Equal(t, "insufficient buying power", ve.Message)
}

func TestListOpenOrdersIncludesWorkingLegs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/orders", r.URL.Path)
		assert.Equal(t, "open", r.URL.Query().Get("status"))
		assert.Equal(t, "true", r.URL.Query().Get("nested"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":"1","client_order_id":"c1","symbol":"AAPL","side":"buy","type":"limit","status":"partially_filled",
			"qty":"10","filled_qty":"4","limit_price":"150","stop_price":null,"submitted_at":"2024-03-01T14:29:59Z",
			"legs":[{"id":"2","symbol":"AAPL","side":"sell","type":"stop","status":"held","qty":"10","filled_qty":"0",
			"limit_price":null,"stop_price":"140","submitted_at":"2024-03-01T14:29:59Z"}]}]`)
	})

	open, err := c.ListOpenOrders(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "c1", open[0].ClientID)
	assert.Equal(t, common.StatusPartial, open[0].Status)
	assert.Equal(t, 4.0, open[0].Filled)
	assert.Equal(t, 150.0, open[0].LimitPrice)
	assert.Zero(t, open[0].StopPrice)
	assert.Equal(t, common.OrderTypeStop, open[1].Type)
	assert.Equal(t, 140.0, open[1].StopPrice)
}

func TestListFilledOrdersFlattensLegs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v2/orders":
			assert.Equal(t, "closed", r.URL.Query().Get("status"))
			assert.Equal(t, "AAPL", r.URL.Query().Get("symbols"))
			fmt.Fprint(w, `[{"id":"1","symbol":"AAPL","side":"buy","status":"filled","filled_qty":"10","filled_avg_price":"100.5",
				"filled_at":"2024-03-01T14:30:00Z","submitted_at":"2024-03-01T14:29:59Z",
				"legs":[{"id":"2","symbol":"AAPL","side":"sell","status":"filled","filled_qty":"10","filled_avg_price":"110",
				"filled_at":"2024-03-02T15:00:00Z","submitted_at":"2024-03-01T14:29:59Z"},
				{"id":"3","symbol":"AAPL","side":"sell","status":"canceled","filled_qty":"0","filled_avg_price":null,
				"submitted_at":"2024-03-01T14:29:59Z"}]}]`)
		case "/v2/account":
			fmt.Fprint(w, `{"cash":"2500.75","buying_power":"5000"}`)
		}
	})

	orders, err := c.ListFilledOrders(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "1", orders[0].OrderID)
	assert.Equal(t, 100.5, orders[0].Price)
	assert.Equal(t, common.SideSell, orders[1].Side)
	assert.Equal(t, common.StatusFilled, orders[1].Status)
	assert.Equal(t, 2024, orders[1].FilledAt.Year())

	cash, err := c.GetAccountBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2500.75, cash)
}

func TestListFilledOrdersPagesAcrossSharedTimestamps(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)
	var history []orderResponse
	for i := 0; i < pageSize+2; i++ {
		// the last three orders are submitted in the same instant
		at := base.Add(time.Duration(min(i, pageSize-1)) * time.Second)
		avg := "100"
		history = append(history, orderResponse{
			ID:             "o-" + strconv.Itoa(i),
			Symbol:         "AAPL",
			Side:           "buy",
			Status:         "filled",
			FilledQty:      "1",
			FilledAvgPrice: &avg,
			SubmittedAt:    at,
		})
	}

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		var after time.Time
		if v := q.Get("after"); v != "" {
			var err error
			after, err = time.Parse(time.RFC3339Nano, v)
			assert.NoError(t, err)
		}
		page := []orderResponse{}
		for _, o := range history {
			// after is exclusive at the venue
			if !after.IsZero() && !o.SubmittedAt.After(after) {
				continue
			}
			if len(page) == limit {
				break
			}
			page = append(page, o)
		}
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(page))
	})

	orders, err := c.ListFilledOrders(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, orders, pageSize+2, "fills sharing the page boundary timestamp are kept")

	ids := make(map[string]bool, len(orders))
	for _, o := range orders {
		assert.False(t, ids[o.OrderID], "duplicate %s", o.OrderID)
		ids[o.OrderID] = true
	}
	assert.True(t, ids["o-"+strconv.Itoa(pageSize+1)])
}
