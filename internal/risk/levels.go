package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"execution-core/internal/tradeerr"
	"execution-core/pkg/exchanges/common"
)

var hundred = decimal.NewFromInt(100)

// CalculateLevels derives stop-loss and take-profit prices from an entry.
// For BUY the stop sits below entry and the target above; SELL inverts both.
func CalculateLevels(in LevelInput) (PriceLevels, error) {
	if !Finite(in.Entry) || in.Entry <= 0 {
		return PriceLevels{}, fmt.Errorf("%w: entry %v", tradeerr.ErrInvalidPrice, in.Entry)
	}
	if !Finite(in.StopLossPct, in.TakeProfitPct) {
		return PriceLevels{}, fmt.Errorf("%w: exit percentages %v/%v", tradeerr.ErrInvalidPrice, in.StopLossPct, in.TakeProfitPct)
	}
	if !Finite(in.PositionCost) {
		return PriceLevels{}, fmt.Errorf("%w: position cost %v", tradeerr.ErrInvalidSize, in.PositionCost)
	}
	if !in.Side.Valid() {
		return PriceLevels{}, fmt.Errorf("%w: side %q", tradeerr.ErrInvalidOrder, in.Side)
	}

	entry := decimal.NewFromFloat(in.Entry)
	sl := decimal.NewFromFloat(in.StopLossPct).Div(hundred)
	tp := decimal.NewFromFloat(in.TakeProfitPct).Div(hundred)
	one := decimal.NewFromInt(1)

	var stop, target decimal.Decimal
	if in.Side == common.SideBuy {
		stop = entry.Mul(one.Sub(sl))
		target = entry.Mul(one.Add(tp))
	} else {
		stop = entry.Mul(one.Add(sl))
		target = entry.Mul(one.Sub(tp))
	}

	cost := decimal.NewFromFloat(in.PositionCost)
	maxLoss := cost.Mul(sl)
	gain := cost.Mul(tp)

	lv := PriceLevels{
		Entry:               in.Entry,
		StopLoss:            stop.InexactFloat64(),
		TakeProfit:          target.InexactFloat64(),
		MaxLossAmount:       maxLoss.InexactFloat64(),
		PotentialGainAmount: gain.InexactFloat64(),
	}
	if !maxLoss.IsZero() {
		lv.RiskRewardRatio = RiskReward{Value: gain.Div(maxLoss).InexactFloat64(), Valid: true}
	}
	return lv, nil
}
