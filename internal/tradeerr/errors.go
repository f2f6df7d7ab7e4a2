// Package tradeerr holds the error taxonomy of the order pipeline.
//
// Validation errors are raised before any network call and are always
// recoverable by correcting input. Broker rejections only happen after a
// submission attempt and are never retried automatically.
package tradeerr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSymbol       = errors.New("invalid symbol")
	ErrInvalidSize         = errors.New("invalid size")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrBracketNotOffered   = errors.New("bracket not offered for this order")
	ErrInvalidOrder        = errors.New("invalid order parameters")
)

// Category is a machine-readable broker rejection reason.
type Category string

const (
	CategoryMinNotional          Category = "MIN_NOTIONAL"
	CategoryLotSize              Category = "LOT_SIZE"
	CategoryInsufficientFunds    Category = "INSUFFICIENT_FUNDS"
	CategoryMarketClosed         Category = "MARKET_CLOSED"
	CategoryInvalidSymbolAtVenue Category = "INVALID_SYMBOL_AT_VENUE"
	CategoryUnknown              Category = "UNKNOWN"
)

// BrokerRejection is a venue refusing a submitted order.
type BrokerRejection struct {
	Category Category
	Venue    string
	Message  string // raw venue text
	Err      error
}

func (e *BrokerRejection) Error() string {
	return fmt.Sprintf("%s rejected order (%s): %s", e.Venue, e.Category, e.Message)
}

func (e *BrokerRejection) Unwrap() error { return e.Err }

// IsValidation reports whether err is a pre-submission validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidSymbol) ||
		errors.Is(err, ErrInvalidSize) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrBracketNotOffered) ||
		errors.Is(err, ErrInvalidOrder)
}

// AsRejection extracts a BrokerRejection from err.
func AsRejection(err error) (*BrokerRejection, bool) {
	var rej *BrokerRejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Code returns a stable identifier for err suitable for API payloads and
// journal rows.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidSymbol):
		return "INVALID_SYMBOL"
	case errors.Is(err, ErrInvalidSize):
		return "INVALID_SIZE"
	case errors.Is(err, ErrInsufficientBalance):
		return "INSUFFICIENT_BALANCE"
	case errors.Is(err, ErrInvalidPrice):
		return "INVALID_PRICE"
	case errors.Is(err, ErrBracketNotOffered):
		return "BRACKET_NOT_OFFERED"
	case errors.Is(err, ErrInvalidOrder):
		return "INVALID_ORDER"
	}
	if rej, ok := AsRejection(err); ok {
		return string(rej.Category)
	}
	return "INTERNAL"
}
