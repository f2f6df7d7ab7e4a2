// Package observe wraps a venue adapter with tracing and logging.
package observe

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"execution-core/pkg/exchanges/common"
	"execution-core/pkg/trace"
)

type observableAdapter struct {
	common.Adapter
}

var _ common.Adapter = (*observableAdapter)(nil)

// Wrap returns a with spans around every venue round trip.
func Wrap(a common.Adapter) common.Adapter {
	return &observableAdapter{Adapter: a}
}

// Unwrap returns the adapter underneath.
func Unwrap(a common.Adapter) common.Adapter {
	if o, ok := a.(*observableAdapter); ok {
		return o.Adapter
	}
	return a
}

func (o *observableAdapter) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	ctx, span := trace.StartSpan(ctx, "venue.SubmitOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("venue", o.Name()),
		attribute.String("client_id", req.ClientID),
		attribute.String("symbol", req.Symbol),
		attribute.String("side", string(req.Side)),
		attribute.String("order_type", string(req.Type)),
		attribute.String("amount_kind", string(req.Amount.Kind)),
		attribute.Float64("amount", req.Amount.Value),
		attribute.Bool("bracket", req.Bracket != nil),
	)

	res, err := o.Adapter.SubmitOrder(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Str("venue", o.Name()).Str("client_id", req.ClientID).Str("symbol", req.Symbol).
			Msg("venue rejected order")
		return res, err
	}
	span.SetAttributes(attribute.String("order_id", res.OrderID), attribute.String("status", string(res.Status)))
	log.Info().Str("venue", o.Name()).Str("client_id", req.ClientID).Str("order_id", res.OrderID).
		Str("status", string(res.Status)).Msg("venue accepted order")
	return res, nil
}

func (o *observableAdapter) ListFilledOrders(ctx context.Context, symbol string) ([]common.FilledOrder, error) {
	ctx, span := trace.StartSpan(ctx, "venue.ListFilledOrders")
	defer span.End()
	span.SetAttributes(attribute.String("venue", o.Name()), attribute.String("symbol", symbol))

	orders, err := o.Adapter.ListFilledOrders(ctx, symbol)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("orders", len(orders)))
	return orders, nil
}

func (o *observableAdapter) ListOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	ctx, span := trace.StartSpan(ctx, "venue.ListOpenOrders")
	defer span.End()
	span.SetAttributes(attribute.String("venue", o.Name()), attribute.String("symbol", symbol))

	orders, err := o.Adapter.ListOpenOrders(ctx, symbol)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("orders", len(orders)))
	return orders, nil
}

func (o *observableAdapter) GetAccountBalance(ctx context.Context) (float64, error) {
	ctx, span := trace.StartSpan(ctx, "venue.GetAccountBalance")
	defer span.End()
	span.SetAttributes(attribute.String("venue", o.Name()))

	bal, err := o.Adapter.GetAccountBalance(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return bal, err
}
