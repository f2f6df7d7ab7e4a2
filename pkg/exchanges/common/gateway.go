package common

import "context"

// Gateway abstracts a trading venue.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	ListFilledOrders(ctx context.Context, symbol string) ([]FilledOrder, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	GetAccountBalance(ctx context.Context) (float64, error)
}

// Adapter is a Gateway that also knows its venue rules, so order building
// stays venue-agnostic.
type Adapter interface {
	Gateway
	Venue() Venue
	Name() string
	StepRules(ctx context.Context, symbol string) StepRules
	Capabilities() Capabilities
	// EncodeAmount decides how a sized order is expressed for this venue.
	EncodeAmount(side Side, typ OrderType, qty, notional float64) Amount
}

// SpotAmount encodes amounts the way quote-denominated spot venues expect:
// market buys spend a quote notional, everything else is base quantity.
func SpotAmount(side Side, typ OrderType, qty, notional float64) Amount {
	if side == SideBuy && typ == OrderTypeMarket {
		return Amount{Kind: AmountQuoteNotional, Value: notional}
	}
	return Amount{Kind: AmountBaseQty, Value: qty}
}

// ShareAmount encodes every order as whole shares.
func ShareAmount(_ Side, _ OrderType, qty, _ float64) Amount {
	return Amount{Kind: AmountShares, Value: qty}
}
