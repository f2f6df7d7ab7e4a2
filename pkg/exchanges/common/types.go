package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the exit side for a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType denotes the venue-neutral order types the pipeline can build.
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// NeedsLimitPrice reports whether the type carries a limit price.
func (t OrderType) NeedsLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// NeedsStopPrice reports whether the type carries a stop trigger.
func (t OrderType) NeedsStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

// Valid reports whether t is one of the known order types.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit, OrderTypeTrailingStop:
		return true
	}
	return false
}

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY" // expires at session close
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIALLY_FILLED"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Venue distinguishes the two brokerage back ends.
type Venue string

const (
	VenueSpot     Venue = "SPOT"     // quote-denominated crypto venue
	VenueEquities Venue = "EQUITIES" // share-denominated equities venue
)

// AmountKind says how an order's size is expressed on the wire.
type AmountKind string

const (
	AmountBaseQty       AmountKind = "base_qty"
	AmountQuoteNotional AmountKind = "quote_notional"
	AmountShares        AmountKind = "shares"
)

// Amount is the quantity-or-notional of an order.
type Amount struct {
	Kind  AmountKind `json:"kind"`
	Value float64    `json:"value"`
}

// Bracket holds the protective legs attached to a market entry.
type Bracket struct {
	TakeProfitLimit float64 `json:"take_profit_limit_price"`
	StopLossStop    float64 `json:"stop_loss_stop_price"`
}

// OrderRequest captures an order intent to be sent to a venue.
// It is passed by value and never modified once submitted.
type OrderRequest struct {
	ClientID      string      `json:"client_id"`
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Type          OrderType   `json:"order_type"`
	Amount        Amount      `json:"quantity_or_notional"`
	LimitPrice    float64     `json:"limit_price,omitempty"`
	StopPrice     float64     `json:"stop_price,omitempty"`
	TrailPercent  float64     `json:"trail_percent,omitempty"`
	TimeInForce   TimeInForce `json:"time_in_force"`
	ExtendedHours bool        `json:"extended_hours"`
	Bracket       *Bracket    `json:"bracket"`
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	OrderID  string      `json:"order_id"`
	ClientID string      `json:"client_id,omitempty"`
	Status   OrderStatus `json:"status"`
	Warning  string      `json:"warning,omitempty"` // entry accepted but a follow-up leg failed
}

// FilledOrder is one historical order record from a venue's history feed.
type FilledOrder struct {
	OrderID  string      `json:"order_id"`
	ClientID string      `json:"client_id,omitempty"` // as the venue reports it, possibly shortened
	Symbol   string      `json:"symbol"`
	Side     Side        `json:"side"`
	Quantity float64     `json:"quantity"`
	Price    float64     `json:"price"`
	FilledAt time.Time   `json:"filled_at"`
	Status   OrderStatus `json:"status"`
}

// OpenOrder is a resting order still working at the venue.
type OpenOrder struct {
	OrderID    string      `json:"order_id"`
	ClientID   string      `json:"client_id,omitempty"`
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	Type       OrderType   `json:"order_type"`
	Quantity   float64     `json:"quantity"`
	Filled     float64     `json:"filled"`
	LimitPrice float64     `json:"limit_price,omitempty"`
	StopPrice  float64     `json:"stop_price,omitempty"`
	Status     OrderStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Unit says what a sized quantity counts.
type Unit string

const (
	UnitBaseAsset Unit = "base_asset"
	UnitShares    Unit = "shares"
)

// StepRules are the venue granularity constraints for a symbol.
type StepRules struct {
	Unit        Unit    `json:"unit"`
	MinQty      float64 `json:"min_qty"`
	StepSize    float64 `json:"step_size"`
	MinNotional float64 `json:"min_notional"`
}

// DefaultSpotRules apply when a venue does not publish its own filters.
func DefaultSpotRules() StepRules {
	return StepRules{Unit: UnitBaseAsset, MinQty: 0.00001, StepSize: 0.00001}
}

// DefaultEquityRules trade whole shares only.
func DefaultEquityRules() StepRules {
	return StepRules{Unit: UnitShares, MinQty: 1, StepSize: 1}
}

// Capabilities describes optional venue features.
type Capabilities struct {
	Bracket       bool
	ExtendedHours bool
	TrailingStop  bool
}
