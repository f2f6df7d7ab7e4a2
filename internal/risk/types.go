package risk

import (
	"encoding/json"
	"strconv"
	"time"

	"execution-core/pkg/exchanges/common"
)

// Global fallbacks for exit percentages.
const (
	DefaultStopLossPct   = 5.0
	DefaultTakeProfitPct = 10.0
)

// Config holds the global exit defaults in percent (5 means 5%).
type Config struct {
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
}

// DefaultConfig returns the hard-coded global defaults.
func DefaultConfig() Config {
	return Config{
		StopLossPct:   DefaultStopLossPct,
		TakeProfitPct: DefaultTakeProfitPct,
	}
}

// StrategyDefaults are per-strategy overrides. Nil means use global default.
type StrategyDefaults struct {
	StrategyID    string    `json:"strategy_id" yaml:"id"`
	Name          string    `json:"name" yaml:"name"`
	StopLossPct   *float64  `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct *float64  `json:"take_profit_pct" yaml:"take_profit_pct"`
	RiskPct       *float64  `json:"risk_pct" yaml:"risk_pct"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"-"`
}

// Source names where a resolved percentage came from.
type Source string

const (
	SourceSignal   Source = "signal"
	SourceStrategy Source = "strategy"
	SourceGlobal   Source = "global"
)

// ExitPercents are the resolved stop-loss and take-profit percentages.
type ExitPercents struct {
	StopLossPct      float64 `json:"stop_loss_pct"`
	TakeProfitPct    float64 `json:"take_profit_pct"`
	StopLossSource   Source  `json:"stop_loss_source"`
	TakeProfitSource Source  `json:"take_profit_source"`
}

// LevelInput feeds CalculateLevels.
type LevelInput struct {
	Entry         float64
	StopLossPct   float64
	TakeProfitPct float64
	Side          common.Side
	PositionCost  float64
}

// RiskReward is a gain/loss ratio that is undefined when there is no loss
// at risk. It marshals to a number or "N/A".
type RiskReward struct {
	Value float64
	Valid bool
}

func (r RiskReward) String() string {
	if !r.Valid {
		return "N/A"
	}
	return strconv.FormatFloat(r.Value, 'f', -1, 64)
}

func (r RiskReward) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte(`"N/A"`), nil
	}
	return json.Marshal(r.Value)
}

func (r *RiskReward) UnmarshalJSON(b []byte) error {
	if string(b) == `"N/A"` || string(b) == "null" {
		*r = RiskReward{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = RiskReward{Value: v, Valid: true}
	return nil
}

// PriceLevels are the absolute exit prices and money at risk for an entry.
type PriceLevels struct {
	Entry               float64    `json:"entry"`
	StopLoss            float64    `json:"stop_loss"`
	TakeProfit          float64    `json:"take_profit"`
	MaxLossAmount       float64    `json:"max_loss_amount"`
	PotentialGainAmount float64    `json:"potential_gain_amount"`
	RiskRewardRatio     RiskReward `json:"risk_reward_ratio"`
}

// SizeMode selects how PositionSizer turns money into quantity.
type SizeMode string

const (
	SizeFixedAmount      SizeMode = "fixed_amount"
	SizePercentOfBalance SizeMode = "percent_of_balance"
	SizeFixedShares      SizeMode = "fixed_shares"
)

// SizeInput feeds Size.
type SizeInput struct {
	Mode    SizeMode
	Balance float64
	RiskPct float64 // percent_of_balance
	Amount  float64 // fixed_amount notional
	Shares  float64 // fixed_shares
	Price   float64
	Rules   common.StepRules
}

// SizedPosition is a tradable quantity and what it costs.
type SizedPosition struct {
	Quantity  float64     `json:"quantity"`
	TotalCost float64     `json:"total_cost"`
	Unit      common.Unit `json:"unit"`
	Notional  float64     `json:"notional"` // money the caller intended to deploy
}
