package risk

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"execution-core/internal/tradeerr"
	"execution-core/pkg/exchanges/common"
)

// Size converts money into a tradable quantity floored to the venue step.
// It never returns a passing result whose cost exceeds the balance.
func Size(in SizeInput) (SizedPosition, error) {
	if !Finite(in.Price) || in.Price <= 0 {
		return SizedPosition{}, fmt.Errorf("%w: price %v", tradeerr.ErrInvalidPrice, in.Price)
	}
	if !Finite(in.Balance, in.RiskPct, in.Amount, in.Shares) {
		return SizedPosition{}, fmt.Errorf("%w: sizing inputs must be finite", tradeerr.ErrInvalidSize)
	}
	if !Finite(in.Rules.MinQty, in.Rules.StepSize, in.Rules.MinNotional) {
		return SizedPosition{}, fmt.Errorf("%w: venue rules must be finite", tradeerr.ErrInvalidSize)
	}
	rules := in.Rules
	if rules.Unit == "" {
		rules.Unit = common.UnitBaseAsset
	}
	if rules.StepSize <= 0 {
		if rules.Unit == common.UnitShares {
			rules = common.DefaultEquityRules()
		} else {
			rules = common.DefaultSpotRules()
		}
	}

	price := decimal.NewFromFloat(in.Price)
	balance := decimal.NewFromFloat(in.Balance)

	var qty, notional decimal.Decimal
	switch in.Mode {
	case SizePercentOfBalance:
		if in.RiskPct <= 0 {
			return SizedPosition{}, fmt.Errorf("%w: risk percent %v", tradeerr.ErrInvalidSize, in.RiskPct)
		}
		notional = balance.Mul(decimal.NewFromFloat(in.RiskPct)).Div(hundred)
		qty = notional.Div(price)
	case SizeFixedAmount:
		if in.Amount <= 0 {
			return SizedPosition{}, fmt.Errorf("%w: amount %v", tradeerr.ErrInvalidSize, in.Amount)
		}
		notional = decimal.NewFromFloat(in.Amount)
		qty = notional.Div(price)
	case SizeFixedShares:
		if rules.Unit != common.UnitShares {
			return SizedPosition{}, fmt.Errorf("%w: fixed share count needs a share-denominated venue", tradeerr.ErrInvalidSize)
		}
		qty = decimal.NewFromFloat(in.Shares)
		notional = qty.Mul(price)
	default:
		return SizedPosition{}, fmt.Errorf("%w: unknown sizing mode %q", tradeerr.ErrInvalidSize, in.Mode)
	}

	qty = FloorToStep(qty, decimal.NewFromFloat(rules.StepSize))
	if qty.Sign() <= 0 || qty.LessThan(decimal.NewFromFloat(rules.MinQty)) {
		return SizedPosition{}, fmt.Errorf("%w: quantity %s below venue minimum %v",
			tradeerr.ErrInvalidSize, qty.String(), rules.MinQty)
	}

	cost := qty.Mul(price)
	if mn := rules.MinNotional; mn > 0 && cost.LessThan(decimal.NewFromFloat(mn)) {
		return SizedPosition{}, fmt.Errorf("%w: order value %s below venue minimum notional %v",
			tradeerr.ErrInvalidSize, cost.String(), mn)
	}
	if cost.GreaterThan(balance) {
		return SizedPosition{}, fmt.Errorf("%w: cost %s exceeds balance %s",
			tradeerr.ErrInsufficientBalance, cost.StringFixed(2), balance.StringFixed(2))
	}

	return SizedPosition{
		Quantity:  qty.InexactFloat64(),
		TotalCost: cost.InexactFloat64(),
		Unit:      rules.Unit,
		Notional:  notional.InexactFloat64(),
	}, nil
}

// Finite reports whether every value is a real number.
func Finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// FloorToStep rounds v down to a whole multiple of step.
func FloorToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}
