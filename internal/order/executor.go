package order

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"execution-core/internal/events"
	"execution-core/internal/tradeerr"
	"execution-core/pkg/db"
	"execution-core/pkg/exchanges/common"
)

// Journal records every submission attempt and its outcome.
type Journal interface {
	RecordSubmission(ctx context.Context, e db.JournalEntry) error
	RecordOutcome(ctx context.Context, clientID, status, venueOrderID, errCode, errMsg string, latency time.Duration) error
}

// Reserver holds funds while an order is in flight.
type Reserver interface {
	Lock(amount float64) error
	Unlock(amount float64)
}

// SubmitObserver receives submission metrics.
type SubmitObserver interface {
	ObserveSubmit(venue, code string, took time.Duration)
}

// Submission is one built request plus what the executor needs around it.
type Submission struct {
	Request    common.OrderRequest
	StrategyID string
	// Reserve is the quote amount held back from the balance until the
	// venue answers. Zero for orders that reduce a position.
	Reserve float64
}

// Executor journals orders, sends them to the venue, and emits updates.
// All collaborators except Gateway are optional.
type Executor struct {
	Gateway common.Adapter
	Journal Journal
	Bus     *events.Bus
	Funds   Reserver
	Metrics SubmitObserver
}

// NewExecutor creates an executor for one venue.
func NewExecutor(gw common.Adapter, journal Journal, bus *events.Bus) *Executor {
	return &Executor{Gateway: gw, Journal: journal, Bus: bus}
}

// Submit sends s.Request exactly once. Venue refusals come back as a
// *tradeerr.BrokerRejection and are never retried here.
func (e *Executor) Submit(ctx context.Context, s Submission) (common.OrderResult, error) {
	if e.Gateway == nil {
		return common.OrderResult{}, fmt.Errorf("executor: no gateway configured")
	}
	req := s.Request
	venue := e.Gateway.Name()

	if e.Funds != nil && s.Reserve > 0 {
		if err := e.Funds.Lock(s.Reserve); err != nil {
			return common.OrderResult{}, err
		}
		defer e.Funds.Unlock(s.Reserve)
	}

	e.journalSubmission(ctx, venue, s)
	e.Bus.Publish(events.EventOrderSubmitted, events.OrderEvent{Venue: venue, Request: req, Time: time.Now()})

	start := time.Now()
	res, err := e.Gateway.SubmitOrder(ctx, req)
	took := time.Since(start)

	if err != nil {
		err = tradeerr.Classify(venue, err)
		code := tradeerr.Code(err)
		log.Warn().Err(err).Str("venue", venue).Str("symbol", req.Symbol).Str("client_id", req.ClientID).
			Str("code", code).Dur("latency", took).Msg("order rejected")
		e.journalOutcome(ctx, req.ClientID, string(common.StatusRejected), "", code, err.Error(), took)
		if e.Metrics != nil {
			e.Metrics.ObserveSubmit(venue, code, took)
		}
		e.Bus.Publish(events.EventOrderRejected, events.OrderEvent{
			Venue:   venue,
			Request: req,
			Code:    code,
			Message: err.Error(),
			Latency: took,
			Time:    time.Now(),
		})
		return common.OrderResult{}, err
	}

	if res.ClientID == "" {
		res.ClientID = req.ClientID
	}
	if res.Warning != "" {
		log.Warn().Str("venue", venue).Str("order_id", res.OrderID).Str("warning", res.Warning).Msg("order accepted with warning")
	}
	log.Info().Str("venue", venue).Str("symbol", req.Symbol).Str("side", string(req.Side)).
		Str("type", string(req.Type)).Str("amount_kind", string(req.Amount.Kind)).Float64("amount", req.Amount.Value).
		Str("order_id", res.OrderID).Str("status", string(res.Status)).Dur("latency", took).Msg("order accepted")

	e.journalOutcome(ctx, req.ClientID, string(res.Status), res.OrderID, "", res.Warning, took)
	if e.Metrics != nil {
		e.Metrics.ObserveSubmit(venue, "", took)
	}
	ev := events.OrderEvent{Venue: venue, Request: req, Result: &res, Latency: took, Time: time.Now()}
	e.Bus.Publish(events.EventOrderAccepted, ev)
	if res.Status == common.StatusFilled {
		e.Bus.Publish(events.EventOrderFilled, ev)
	}
	return res, nil
}

func (e *Executor) journalSubmission(ctx context.Context, venue string, s Submission) {
	if e.Journal == nil {
		return
	}
	req := s.Request
	entry := db.JournalEntry{
		ClientID:      req.ClientID,
		Venue:         venue,
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		OrderType:     string(req.Type),
		AmountKind:    string(req.Amount.Kind),
		Amount:        req.Amount.Value,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		TrailPercent:  req.TrailPercent,
		TimeInForce:   string(req.TimeInForce),
		ExtendedHours: req.ExtendedHours,
		StrategyID:    s.StrategyID,
		Status:        db.StatusPending,
	}
	if req.Bracket != nil {
		tp, sl := req.Bracket.TakeProfitLimit, req.Bracket.StopLossStop
		entry.TakeProfitPrice = &tp
		entry.StopLossPrice = &sl
	}
	// the journal is a record of attempts, not a gate on them
	if err := e.Journal.RecordSubmission(ctx, entry); err != nil {
		log.Error().Err(err).Str("client_id", req.ClientID).Msg("journal submission")
	}
}

func (e *Executor) journalOutcome(ctx context.Context, clientID, status, venueOrderID, code, msg string, took time.Duration) {
	if e.Journal == nil {
		return
	}
	// record the outcome even if the caller gave up waiting
	ctx = context.WithoutCancel(ctx)
	if err := e.Journal.RecordOutcome(ctx, clientID, status, venueOrderID, code, msg, took); err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("journal outcome")
	}
}
