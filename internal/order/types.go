package order

import (
	"execution-core/internal/risk"
	"execution-core/pkg/exchanges/common"
)

// Params are the order parameters the user picks on top of a signal.
type Params struct {
	Type          common.OrderType   `json:"order_type"`
	TimeInForce   common.TimeInForce `json:"time_in_force,omitempty"`
	ExtendedHours bool               `json:"extended_hours"`
	Bracket       bool               `json:"bracket"`
	LimitPrice    float64            `json:"limit_price,omitempty"`
	StopPrice     float64            `json:"stop_price,omitempty"`
	TrailPercent  float64            `json:"trail_percent,omitempty"`
}

// BuildInput is everything Build needs to assemble one request.
type BuildInput struct {
	ClientID string
	Symbol   string
	Side     common.Side
	Params   Params
	Sized    risk.SizedPosition
	Levels   risk.PriceLevels
	Rules    common.StepRules
	Balance  float64
	// Reducing marks an order that sells down a held position, so it is
	// not checked against the quote balance.
	Reducing bool
}

// VenueRules is the part of a venue adapter the builder needs.
type VenueRules interface {
	Venue() common.Venue
	Capabilities() common.Capabilities
	EncodeAmount(side common.Side, typ common.OrderType, qty, notional float64) common.Amount
}
