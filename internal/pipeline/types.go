package pipeline

import (
	"context"
	"errors"
	"time"

	"execution-core/internal/freshness"
	"execution-core/internal/order"
	"execution-core/internal/risk"
	"execution-core/internal/signal"
	"execution-core/pkg/exchanges/common"
)

// ErrNoPosition is returned when closing a symbol the ledger does not hold.
var ErrNoPosition = errors.New("no open position")

// PriceSource is the last-seen price cache.
type PriceSource interface {
	Fresh(symbol string, maxAge time.Duration) (float64, bool)
}

// Feeds is the part of the freshness scheduler the pipeline drives.
type Feeds interface {
	Invalidate(feed freshness.Feed)
	EnsureFresh(ctx context.Context, feed freshness.Feed) error
}

// ValidationObserver counts orders refused before reaching the venue.
type ValidationObserver interface {
	ObserveValidation(venue, code string)
}

// Sizing selects how the order is sized. A zero RiskPct in
// percent_of_balance mode uses the strategy or service default.
type Sizing struct {
	Mode    risk.SizeMode `json:"mode"`
	RiskPct float64       `json:"risk_pct,omitempty"`
	Amount  float64       `json:"amount,omitempty"`
	Shares  float64       `json:"shares,omitempty"`
}

// Intent is a signal plus the user's order choices.
type Intent struct {
	Signal signal.Signal `json:"signal"`
	Params order.Params  `json:"params"`
	Sizing Sizing        `json:"sizing"`
	// EntryPrice overrides every other price source when positive.
	EntryPrice float64 `json:"entry_price,omitempty"`
	ClientID   string  `json:"client_id,omitempty"`
}

// PriceOrigin says where the entry price came from.
type PriceOrigin string

const (
	PriceOverride  PriceOrigin = "override"
	PriceCache     PriceOrigin = "cache"
	PriceRealtime  PriceOrigin = "signal_realtime"
	PriceReference PriceOrigin = "signal_reference"
	PriceLimit     PriceOrigin = "limit"
)

// Preview is everything the pipeline derived for an intent, without
// having sent anything.
type Preview struct {
	Symbol      string              `json:"symbol"`
	Venue       common.Venue        `json:"venue"`
	Entry       float64             `json:"entry"`
	PriceOrigin PriceOrigin         `json:"price_origin"`
	Exits       risk.ExitPercents   `json:"exits"`
	Levels      risk.PriceLevels    `json:"levels"`
	Sized       risk.SizedPosition  `json:"sized"`
	Rules       common.StepRules    `json:"rules"`
	Balance     float64             `json:"available_balance"`
	Reducing    bool                `json:"reducing"`
	Request     common.OrderRequest `json:"request"`
}

// Execution is a submitted preview and the venue's answer.
type Execution struct {
	Preview
	Result common.OrderResult `json:"result"`
}
