// Package pipeline runs a signal through symbol resolution, exit levels,
// sizing and order building, and submits the result.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"execution-core/internal/balance"
	"execution-core/internal/freshness"
	"execution-core/internal/ledger"
	"execution-core/internal/order"
	"execution-core/internal/risk"
	"execution-core/internal/symbol"
	"execution-core/internal/tradeerr"
	"execution-core/pkg/exchanges/common"
	"execution-core/pkg/trace"
)

// Service wires the pipeline stages to one venue.
type Service struct {
	Adapter    common.Adapter
	Normalizer *symbol.Normalizer
	Risk       *risk.Manager
	Builder    *order.Builder
	Executor   *order.Executor
	Balance    *balance.Manager
	Ledger     *ledger.Ledger
	Prices     PriceSource        // optional
	Feeds      Feeds              // optional
	Metrics    ValidationObserver // optional

	PriceMaxAge    time.Duration
	DefaultRiskPct float64
}

// Preview runs every stage up to a built request. Nothing is sent.
func (s *Service) Preview(ctx context.Context, in Intent) (Preview, error) {
	ctx, span := trace.StartSpan(ctx, "pipeline.Preview")
	defer span.End()

	p, err := s.preview(ctx, in)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return p, err
}

func (s *Service) preview(ctx context.Context, in Intent) (Preview, error) {
	sig := in.Signal
	venue := s.Adapter.Venue()

	sym, err := s.Normalizer.Normalize(sig.SymbolDisplay, venue)
	if err != nil {
		return Preview{}, err
	}
	if !sig.Side.Valid() {
		return Preview{}, fmt.Errorf("%w: side %q", tradeerr.ErrInvalidOrder, sig.Side)
	}

	entry, origin := s.entryPrice(sym, in)
	if entry <= 0 {
		return Preview{}, fmt.Errorf("%w: no usable price for %s", tradeerr.ErrInvalidPrice, sym)
	}

	exits := s.Risk.Resolve(sig.StopLossPct, sig.TakeProfitPct, sig.StrategyID)
	rules := s.Adapter.StepRules(ctx, sym)

	if s.Feeds != nil {
		if err := s.Feeds.EnsureFresh(ctx, freshness.FeedBalance); err != nil {
			log.Warn().Err(err).Msg("pipeline: balance refresh failed, using last known balance")
		}
	}
	available := s.Balance.GetAvailable()

	// A sell against a held position is sized against that position's value
	// and skips the quote balance check.
	sizeBalance := available
	reducing := false
	if sig.Side == common.SideSell && s.Ledger != nil {
		if pos, ok := s.Ledger.Position(sym); ok {
			reducing = true
			sizeBalance = pos.Quantity * entry
		}
	}

	sizing := in.Sizing
	if sizing.Mode == "" {
		sizing.Mode = risk.SizePercentOfBalance
	}
	if sizing.Mode == risk.SizePercentOfBalance && sizing.RiskPct <= 0 {
		sizing.RiskPct = s.Risk.RiskPct(sig.StrategyID, s.DefaultRiskPct)
	}
	sized, err := risk.Size(risk.SizeInput{
		Mode:    sizing.Mode,
		Balance: sizeBalance,
		RiskPct: sizing.RiskPct,
		Amount:  sizing.Amount,
		Shares:  sizing.Shares,
		Price:   entry,
		Rules:   rules,
	})
	if err != nil {
		return Preview{}, err
	}

	levels, err := risk.CalculateLevels(risk.LevelInput{
		Entry:         entry,
		StopLossPct:   exits.StopLossPct,
		TakeProfitPct: exits.TakeProfitPct,
		Side:          sig.Side,
		PositionCost:  sized.TotalCost,
	})
	if err != nil {
		return Preview{}, err
	}

	clientID := in.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	req, err := s.Builder.Build(order.BuildInput{
		ClientID: clientID,
		Symbol:   sym,
		Side:     sig.Side,
		Params:   in.Params,
		Sized:    sized,
		Levels:   levels,
		Rules:    rules,
		Balance:  sizeBalance,
		Reducing: reducing,
	})
	if err != nil {
		return Preview{}, err
	}

	return Preview{
		Symbol:      sym,
		Venue:       venue,
		Entry:       entry,
		PriceOrigin: origin,
		Exits:       exits,
		Levels:      levels,
		Sized:       sized,
		Rules:       rules,
		Balance:     available,
		Reducing:    reducing,
		Request:     req,
	}, nil
}

// entryPrice picks the price orders are sized and levelled at. Limit
// orders use their own limit price.
func (s *Service) entryPrice(sym string, in Intent) (float64, PriceOrigin) {
	if in.Params.Type.NeedsLimitPrice() && in.Params.LimitPrice > 0 {
		return in.Params.LimitPrice, PriceLimit
	}
	if in.EntryPrice > 0 {
		return in.EntryPrice, PriceOverride
	}
	if s.Prices != nil {
		if p, ok := s.Prices.Fresh(sym, s.PriceMaxAge); ok {
			return p, PriceCache
		}
	}
	if rt := in.Signal.RealtimePrice; rt != nil && *rt > 0 {
		return *rt, PriceRealtime
	}
	return in.Signal.ReferencePrice, PriceReference
}

// Execute previews the intent and submits the request once.
func (s *Service) Execute(ctx context.Context, in Intent) (Execution, error) {
	ctx, span := trace.StartSpan(ctx, "pipeline.Execute")
	defer span.End()

	p, err := s.preview(ctx, in)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if s.Metrics != nil && tradeerr.IsValidation(err) {
			s.Metrics.ObserveValidation(s.Adapter.Name(), tradeerr.Code(err))
		}
		return Execution{}, err
	}
	span.SetAttributes(attribute.String("symbol", p.Symbol), attribute.String("client_id", p.Request.ClientID))

	res, err := s.submit(ctx, p, in.Signal.StrategyID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Execution{Preview: p}, err
	}
	return Execution{Preview: p, Result: res}, nil
}

// ClosePosition market-sells the full ledger quantity of symbol.
func (s *Service) ClosePosition(ctx context.Context, raw string) (Execution, error) {
	ctx, span := trace.StartSpan(ctx, "pipeline.ClosePosition")
	defer span.End()

	venue := s.Adapter.Venue()
	sym, err := s.Normalizer.Normalize(raw, venue)
	if err != nil {
		return Execution{}, err
	}
	if s.Feeds != nil {
		if err := s.Feeds.EnsureFresh(ctx, freshness.FeedOrderHistory); err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("pipeline: history refresh failed, closing from last ledger")
		}
	}
	pos, ok := s.Ledger.Position(sym)
	if !ok {
		return Execution{}, fmt.Errorf("%w in %s", ErrNoPosition, sym)
	}

	rules := s.Adapter.StepRules(ctx, sym)
	req, err := s.Builder.BuildClose(uuid.NewString(), sym, pos.Quantity, rules)
	if err != nil {
		return Execution{}, err
	}
	p := Preview{
		Symbol:   sym,
		Venue:    venue,
		Entry:    pos.AvgEntryPrice,
		Sized:    risk.SizedPosition{Quantity: req.Amount.Value, TotalCost: pos.TotalCost, Unit: rules.Unit},
		Rules:    rules,
		Balance:  s.Balance.GetAvailable(),
		Reducing: true,
		Request:  req,
	}
	res, err := s.submit(ctx, p, "")
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Execution{Preview: p}, err
	}
	return Execution{Preview: p, Result: res}, nil
}

func (s *Service) submit(ctx context.Context, p Preview, strategyID string) (common.OrderResult, error) {
	reserve := 0.0
	if !p.Reducing && p.Request.Side == common.SideBuy {
		reserve = p.Sized.TotalCost
		if p.Request.Amount.Kind == common.AmountQuoteNotional {
			reserve = p.Request.Amount.Value
		}
	}
	res, err := s.Executor.Submit(ctx, order.Submission{Request: p.Request, StrategyID: strategyID, Reserve: reserve})
	if err != nil {
		// a rejection leaves balance and ledger untouched
		return res, err
	}
	s.invalidate()
	return res, nil
}

// invalidate marks every account feed stale after a placement. While the
// view is visible the scheduler refetches them and the ledger is rebuilt.
func (s *Service) invalidate() {
	if s.Feeds == nil {
		return
	}
	s.Feeds.Invalidate(freshness.FeedBalance)
	s.Feeds.Invalidate(freshness.FeedOpenOrders)
	s.Feeds.Invalidate(freshness.FeedOrderHistory)
}
