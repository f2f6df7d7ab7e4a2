package order

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"execution-core/internal/risk"
	"execution-core/internal/tradeerr"
	"execution-core/pkg/exchanges/common"
)

// Builder assembles venue-correct order requests. It never talks to the
// network; amount encoding and optional features come from the venue.
type Builder struct {
	Venue VenueRules
}

// NewBuilder creates a builder for one venue.
func NewBuilder(v VenueRules) *Builder {
	return &Builder{Venue: v}
}

// Build validates in and returns the request to submit. Checks run in a
// fixed order and the first failure is returned.
func (b *Builder) Build(in BuildInput) (common.OrderRequest, error) {
	p := in.Params
	if p.Type == "" {
		p.Type = common.OrderTypeMarket
	}

	// 1. symbol
	if strings.TrimSpace(in.Symbol) == "" {
		return common.OrderRequest{}, fmt.Errorf("%w: empty symbol", tradeerr.ErrInvalidSymbol)
	}
	if !in.Side.Valid() {
		return common.OrderRequest{}, fmt.Errorf("%w: side %q", tradeerr.ErrInvalidOrder, in.Side)
	}
	if !p.Type.Valid() {
		return common.OrderRequest{}, fmt.Errorf("%w: order type %q", tradeerr.ErrInvalidOrder, p.Type)
	}

	// 2. quantity against venue minimum
	if !risk.Finite(in.Sized.Quantity, in.Sized.TotalCost, in.Rules.MinQty, in.Rules.MinNotional) {
		return common.OrderRequest{}, fmt.Errorf("%w: quantity %v, cost %v", tradeerr.ErrInvalidSize, in.Sized.Quantity, in.Sized.TotalCost)
	}
	minQty := in.Rules.MinQty
	if in.Sized.Quantity <= 0 || in.Sized.Quantity < minQty {
		return common.OrderRequest{}, fmt.Errorf("%w: quantity %v below venue minimum %v",
			tradeerr.ErrInvalidSize, in.Sized.Quantity, minQty)
	}
	// a close carries no cost, the venue checks its notional
	if mn := in.Rules.MinNotional; mn > 0 && in.Sized.TotalCost > 0 && in.Sized.TotalCost < mn {
		return common.OrderRequest{}, fmt.Errorf("%w: order value %v below venue minimum notional %v",
			tradeerr.ErrInvalidSize, in.Sized.TotalCost, mn)
	}

	amount := b.Venue.EncodeAmount(in.Side, p.Type, in.Sized.Quantity, in.Sized.TotalCost)

	// 3. balance
	if !in.Reducing {
		if !risk.Finite(in.Balance) {
			return common.OrderRequest{}, fmt.Errorf("%w: available balance %v", tradeerr.ErrInsufficientBalance, in.Balance)
		}
		spend := in.Sized.TotalCost
		if amount.Kind == common.AmountQuoteNotional && amount.Value > spend {
			spend = amount.Value
		}
		if decimal.NewFromFloat(spend).GreaterThan(decimal.NewFromFloat(in.Balance)) {
			return common.OrderRequest{}, fmt.Errorf("%w: order needs %.2f, available %.2f",
				tradeerr.ErrInsufficientBalance, spend, in.Balance)
		}
	}

	// 4. reference prices
	if !risk.Finite(p.LimitPrice, p.StopPrice, p.TrailPercent, in.Levels.TakeProfit, in.Levels.StopLoss) {
		return common.OrderRequest{}, fmt.Errorf("%w: prices must be finite", tradeerr.ErrInvalidPrice)
	}
	if p.Type.NeedsLimitPrice() && p.LimitPrice <= 0 {
		return common.OrderRequest{}, fmt.Errorf("%w: %s order needs a positive limit price", tradeerr.ErrInvalidPrice, p.Type)
	}
	if p.Type.NeedsStopPrice() && p.StopPrice <= 0 {
		return common.OrderRequest{}, fmt.Errorf("%w: %s order needs a positive stop price", tradeerr.ErrInvalidPrice, p.Type)
	}
	if p.Type == common.OrderTypeTrailingStop && p.TrailPercent <= 0 {
		return common.OrderRequest{}, fmt.Errorf("%w: trailing stop needs a positive trail percent", tradeerr.ErrInvalidPrice)
	}

	caps := b.Venue.Capabilities()
	if p.Type == common.OrderTypeTrailingStop && !caps.TrailingStop {
		return common.OrderRequest{}, fmt.Errorf("%w: venue has no trailing stops", tradeerr.ErrInvalidOrder)
	}

	req := common.OrderRequest{
		ClientID:    in.ClientID,
		Symbol:      in.Symbol,
		Side:        in.Side,
		Type:        p.Type,
		Amount:      amount,
		TimeInForce: b.timeInForce(p.TimeInForce),
	}
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	if p.Type.NeedsLimitPrice() {
		req.LimitPrice = p.LimitPrice
	}
	if p.Type.NeedsStopPrice() {
		req.StopPrice = p.StopPrice
	}
	if p.Type == common.OrderTypeTrailingStop {
		req.TrailPercent = p.TrailPercent
	}

	if p.Bracket {
		if p.Type != common.OrderTypeMarket || !caps.Bracket {
			return common.OrderRequest{}, fmt.Errorf("%w: %s on %s", tradeerr.ErrBracketNotOffered, p.Type, b.Venue.Venue())
		}
		if in.Levels.TakeProfit <= 0 || in.Levels.StopLoss <= 0 {
			return common.OrderRequest{}, fmt.Errorf("%w: bracket legs need positive prices", tradeerr.ErrInvalidPrice)
		}
		req.Bracket = &common.Bracket{
			TakeProfitLimit: in.Levels.TakeProfit,
			StopLossStop:    in.Levels.StopLoss,
		}
		// the parent must live as long as its children
		req.TimeInForce = common.TIFGTC
	}

	req.ExtendedHours = p.ExtendedHours &&
		b.Venue.Venue() == common.VenueEquities &&
		caps.ExtendedHours &&
		req.Type == common.OrderTypeLimit &&
		req.TimeInForce == common.TIFDay

	return req, nil
}

// BuildClose builds the market order that flattens a held quantity.
func (b *Builder) BuildClose(clientID, symbol string, heldQty float64, rules common.StepRules) (common.OrderRequest, error) {
	if !risk.Finite(heldQty, rules.StepSize) {
		return common.OrderRequest{}, fmt.Errorf("%w: held quantity %v", tradeerr.ErrInvalidSize, heldQty)
	}
	qty := risk.FloorToStep(decimal.NewFromFloat(heldQty), decimal.NewFromFloat(rules.StepSize)).InexactFloat64()
	return b.Build(BuildInput{
		ClientID: clientID,
		Symbol:   symbol,
		Side:     common.SideSell,
		Params:   Params{Type: common.OrderTypeMarket},
		Sized:    risk.SizedPosition{Quantity: qty, Unit: rules.Unit},
		Rules:    rules,
		Reducing: true,
	})
}

func (b *Builder) timeInForce(requested common.TimeInForce) common.TimeInForce {
	if requested != "" {
		return requested
	}
	if b.Venue.Venue() == common.VenueEquities {
		return common.TIFDay
	}
	return common.TIFGTC
}
