// Package paper is an in-memory venue for dry runs. Market orders fill at
// the last known price with simulated slippage, fee and latency; every
// other order rests as NEW.
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"execution-core/pkg/exchanges/common"
)

// PriceSource supplies the price market orders fill at.
type PriceSource interface {
	Get(symbol string) (float64, bool)
}

// SimConfig shapes the simulated fills.
type SimConfig struct {
	FeeRate      float64 // decimal, e.g. 0.001 = 10 bps
	SlippageBps  float64 // worst-case slippage applied against the taker
	LatencyMinMs int
	LatencyMaxMs int
	Seed         int64 // 0 seeds from the clock
}

// Config describes the venue being imitated.
type Config struct {
	Name           string
	Venue          common.Venue
	Quote          string
	InitialBalance float64
	Rules          common.StepRules // zero value uses the venue default
	Capabilities   common.Capabilities
	Sim            SimConfig
}

// Exchange is a paper trading venue implementing common.Adapter.
type Exchange struct {
	cfg    Config
	prices PriceSource

	mu       sync.Mutex
	rng      *rand.Rand
	balance  decimal.Decimal
	holdings map[string]decimal.Decimal
	orders   []common.FilledOrder
	resting  []common.OpenOrder
	now      func() time.Time
}

var _ common.Adapter = (*Exchange)(nil)

// New creates a paper venue.
func New(cfg Config, prices PriceSource) *Exchange {
	if cfg.Venue == "" {
		cfg.Venue = common.VenueSpot
	}
	if cfg.Name == "" {
		cfg.Name = "paper"
	}
	if cfg.Quote == "" && cfg.Venue == common.VenueSpot {
		cfg.Quote = "USDT"
	}
	if cfg.Rules.StepSize <= 0 {
		if cfg.Venue == common.VenueEquities {
			cfg.Rules = common.DefaultEquityRules()
		} else {
			cfg.Rules = common.DefaultSpotRules()
		}
	}
	seed := cfg.Sim.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Exchange{
		cfg:      cfg,
		prices:   prices,
		rng:      rand.New(rand.NewSource(seed)),
		balance:  decimal.NewFromFloat(cfg.InitialBalance),
		holdings: make(map[string]decimal.Decimal),
		now:      time.Now,
	}
}

func (e *Exchange) Name() string                      { return e.cfg.Name }
func (e *Exchange) Venue() common.Venue               { return e.cfg.Venue }
func (e *Exchange) Capabilities() common.Capabilities { return e.cfg.Capabilities }

func (e *Exchange) StepRules(context.Context, string) common.StepRules { return e.cfg.Rules }

func (e *Exchange) EncodeAmount(side common.Side, typ common.OrderType, qty, notional float64) common.Amount {
	if e.cfg.Venue == common.VenueEquities {
		return common.ShareAmount(side, typ, qty, notional)
	}
	return common.SpotAmount(side, typ, qty, notional)
}

func (e *Exchange) reject(status int, msg string) error {
	return &common.VenueError{Venue: e.cfg.Name, StatusCode: status, Message: msg}
}

// SubmitOrder fills market orders immediately and records other types as
// resting NEW orders.
func (e *Exchange) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := e.sleep(ctx); err != nil {
		return common.OrderResult{}, err
	}
	id := uuid.NewString()
	if req.Type != common.OrderTypeMarket {
		e.mu.Lock()
		e.resting = append(e.resting, common.OpenOrder{
			OrderID:    id,
			ClientID:   req.ClientID,
			Symbol:     req.Symbol,
			Side:       req.Side,
			Type:       req.Type,
			Quantity:   req.Amount.Value,
			LimitPrice: req.LimitPrice,
			StopPrice:  req.StopPrice,
			Status:     common.StatusNew,
			CreatedAt:  e.now().UTC(),
		})
		e.mu.Unlock()
		log.Info().Str("venue", e.cfg.Name).Str("symbol", req.Symbol).Str("type", string(req.Type)).
			Msg("paper: order resting")
		return common.OrderResult{OrderID: id, ClientID: req.ClientID, Status: common.StatusNew}, nil
	}

	ref, ok := e.prices.Get(req.Symbol)
	if !ok || ref <= 0 {
		return common.OrderResult{}, e.reject(http.StatusNotFound, "asset not found: no price for "+req.Symbol)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	price := decimal.NewFromFloat(e.slip(req.Side, ref))
	fee := decimal.NewFromFloat(e.cfg.Sim.FeeRate)

	var qty decimal.Decimal
	switch req.Amount.Kind {
	case common.AmountQuoteNotional:
		step := decimal.NewFromFloat(e.cfg.Rules.StepSize)
		qty = decimal.NewFromFloat(req.Amount.Value).Div(price).Div(step).Floor().Mul(step)
	default:
		qty = decimal.NewFromFloat(req.Amount.Value)
	}
	if qty.LessThan(decimal.NewFromFloat(e.cfg.Rules.MinQty)) || qty.Sign() <= 0 {
		return common.OrderResult{}, e.reject(http.StatusBadRequest, "Filter failure: LOT_SIZE")
	}
	notional := qty.Mul(price)
	if mn := e.cfg.Rules.MinNotional; mn > 0 && notional.LessThan(decimal.NewFromFloat(mn)) {
		return common.OrderResult{}, e.reject(http.StatusBadRequest, "Filter failure: MIN_NOTIONAL")
	}

	held := e.holdings[req.Symbol]
	switch req.Side {
	case common.SideBuy:
		cost := notional.Add(notional.Mul(fee))
		if cost.GreaterThan(e.balance) {
			return common.OrderResult{}, e.reject(http.StatusForbidden, "insufficient balance for requested action")
		}
		e.balance = e.balance.Sub(cost)
		e.holdings[req.Symbol] = held.Add(qty)
	case common.SideSell:
		if qty.GreaterThan(held) {
			return common.OrderResult{}, e.reject(http.StatusForbidden, "insufficient balance: sell exceeds holding")
		}
		e.balance = e.balance.Add(notional.Sub(notional.Mul(fee)))
		e.holdings[req.Symbol] = held.Sub(qty)
	default:
		return common.OrderResult{}, e.reject(http.StatusBadRequest, "invalid side "+string(req.Side))
	}

	e.orders = append(e.orders, common.FilledOrder{
		OrderID:  id,
		ClientID: req.ClientID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: qty.InexactFloat64(),
		Price:    price.InexactFloat64(),
		FilledAt: e.now().UTC(),
		Status:   common.StatusFilled,
	})
	log.Info().Str("venue", e.cfg.Name).Str("symbol", req.Symbol).Str("side", string(req.Side)).
		Str("qty", qty.String()).Str("price", price.String()).Str("balance", e.balance.StringFixed(2)).
		Msg("paper: filled")

	return common.OrderResult{OrderID: id, ClientID: req.ClientID, Status: common.StatusFilled}, nil
}

// slip moves ref against the taker by up to SlippageBps. Callers hold e.mu.
func (e *Exchange) slip(side common.Side, ref float64) float64 {
	frac := e.cfg.Sim.SlippageBps / 10000
	if frac <= 0 {
		return ref
	}
	noise := e.rng.Float64() * frac
	if side == common.SideBuy {
		return ref * (1 + noise)
	}
	return ref * (1 - noise)
}

func (e *Exchange) sleep(ctx context.Context) error {
	lo, hi := e.cfg.Sim.LatencyMinMs, e.cfg.Sim.LatencyMaxMs
	if hi <= 0 {
		return nil
	}
	if lo < 0 {
		lo = 0
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	e.mu.Lock()
	ms := lo + e.rng.Intn(hi-lo+1)
	e.mu.Unlock()

	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ListFilledOrders returns the simulated fills, optionally for one symbol.
func (e *Exchange) ListFilledOrders(_ context.Context, symbol string) ([]common.FilledOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]common.FilledOrder, 0, len(e.orders))
	for _, o := range e.orders {
		if symbol == "" || strings.EqualFold(o.Symbol, symbol) {
			out = append(out, o)
		}
	}
	return out, nil
}

// ListOpenOrders returns orders that rested instead of filling. Paper
// orders never cross, so they stay open until the process exits.
func (e *Exchange) ListOpenOrders(_ context.Context, symbol string) ([]common.OpenOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]common.OpenOrder, 0, len(e.resting))
	for _, o := range e.resting {
		if symbol == "" || strings.EqualFold(o.Symbol, symbol) {
			out = append(out, o)
		}
	}
	return out, nil
}

// GetAccountBalance returns the simulated cash balance.
func (e *Exchange) GetAccountBalance(context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance.InexactFloat64(), nil
}

// Holding returns the simulated quantity held for symbol.
func (e *Exchange) Holding(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.holdings[symbol].InexactFloat64()
}

// String is used in logs.
func (e *Exchange) String() string {
	return fmt.Sprintf("paper(%s, %s)", e.cfg.Name, e.cfg.Venue)
}
