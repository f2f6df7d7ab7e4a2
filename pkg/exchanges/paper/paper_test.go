package paper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/pkg/exchanges/common"
)

type prices map[string]float64

func (p prices) Get(s string) (float64, bool) {
	v, ok := p[s]
	return v, ok
}

func TestSpotMarketRoundTrip(t *testing.T) {
	ex := New(Config{InitialBalance: 1000, Sim: SimConfig{Seed: 1}}, prices{"ETHUSDT": 2000})
	ctx := context.Background()

	res, err := ex.SubmitOrder(ctx, common.OrderRequest{
		ClientID: "c1", Symbol: "ETHUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket,
		Amount: ex.EncodeAmount(common.SideBuy, common.OrderTypeMarket, 0.25, 500),
	})
	require.NoError(t, err)
	assert.Equal(t, common.StatusFilled, res.Status)
	assert.Equal(t, "c1", res.ClientID)
	assert.Equal(t, 0.25, ex.Holding("ETHUSDT"))

	bal, _ := ex.GetAccountBalance(ctx)
	assert.InDelta(t, 500, bal, 1e-9)

	_, err = ex.SubmitOrder(ctx, common.OrderRequest{
		Symbol: "ETHUSDT", Side: common.SideSell, Type: common.OrderTypeMarket,
		Amount: ex.EncodeAmount(common.SideSell, common.OrderTypeMarket, 0.1, 0),
	})
	require.NoError(t, err)

	hist, err := ex.ListFilledOrders(ctx, "")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, common.SideSell, hist[1].Side)
	assert.InDelta(t, 0.15, ex.Holding("ETHUSDT"), 1e-12)
}

func TestRejectionsLookLikeVenueErrors(t *testing.T) {
	ex := New(Config{Venue: common.VenueEquities, InitialBalance: 100}, prices{"AAPL": 190})
	ctx := context.Background()

	_, err := ex.SubmitOrder(ctx, common.OrderRequest{Symbol: "AAPL", Side: common.SideBuy, Type: common.OrderTypeMarket,
		Amount: common.Amount{Kind: common.AmountShares, Value: 1}})
	var ve *common.VenueError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Message, "insufficient")

	_, err = ex.SubmitOrder(ctx, common.OrderRequest{Symbol: "MSFT", Side: common.SideBuy, Type: common.OrderTypeMarket,
		Amount: common.Amount{Kind: common.AmountShares, Value: 1}})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, 404, ve.StatusCode)

	_, err = ex.SubmitOrder(ctx, common.OrderRequest{Symbol: "AAPL", Side: common.SideSell, Type: common.OrderTypeMarket,
		Amount: common.Amount{Kind: common.AmountShares, Value: 1}})
	assert.Error(t, err, "cannot sell what is not held")
}

func TestNonMarketOrdersRest(t *testing.T) {
	ex := New(Config{Venue: common.VenueEquities, InitialBalance: 10000}, prices{})
	res, err := ex.SubmitOrder(context.Background(), common.OrderRequest{Symbol: "AAPL", Side: common.SideBuy,
		Type: common.OrderTypeLimit, LimitPrice: 150, Amount: common.Amount{Kind: common.AmountShares, Value: 3}})
	require.NoError(t, err)
	assert.Equal(t, common.StatusNew, res.Status)

	hist, _ := ex.ListFilledOrders(context.Background(), "AAPL")
	assert.Empty(t, hist)

	open, err := ex.ListOpenOrders(context.Background(), "aapl")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, res.OrderID, open[0].OrderID)
	assert.Equal(t, 150.0, open[0].LimitPrice)
	assert.Equal(t, 3.0, open[0].Quantity)

	open, _ = ex.ListOpenOrders(context.Background(), "MSFT")
	assert.Empty(t, open)
	assert.Equal(t, common.DefaultEquityRules(), ex.StepRules(context.Background(), "AAPL"))
	assert.Equal(t, common.AmountShares, ex.EncodeAmount(common.SideBuy, common.OrderTypeMarket, 3, 570).Kind)
}

func TestSlippageMovesAgainstTaker(t *testing.T) {
	ex := New(Config{InitialBalance: 1e6, Sim: SimConfig{SlippageBps: 50, Seed: 7}}, prices{"BTCUSDT": 60000})
	_, err := ex.SubmitOrder(context.Background(), common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy,
		Type: common.OrderTypeMarket, Amount: common.Amount{Kind: common.AmountBaseQty, Value: 1}})
	require.NoError(t, err)
	hist, _ := ex.ListFilledOrders(context.Background(), "BTCUSDT")
	require.Len(t, hist, 1)
	assert.GreaterOrEqual(t, hist[0].Price, 60000.0)
	assert.LessOrEqual(t, hist[0].Price, 60300.0)
}
