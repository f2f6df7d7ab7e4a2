package tradeerr

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"execution-core/pkg/exchanges/common"
)

// Binance error codes that carry a definite meaning.
const (
	binanceFilterFailure      = -1013
	binanceNewOrderRejected   = -2010
	binanceBadSymbol          = -1121
	binanceInvalidQuantity    = -1111 // precision over maximum for this asset
	binanceMarketClosedCancel = -2011
)

var messageRules = []struct {
	needle   string
	category Category
}{
	{"min_notional", CategoryMinNotional},
	{"notional", CategoryMinNotional},
	{"lot_size", CategoryLotSize},
	{"lot size", CategoryLotSize},
	{"qty must be", CategoryLotSize},
	{"fractional", CategoryLotSize},
	{"quantity", CategoryLotSize},
	{"insufficient", CategoryInsufficientFunds},
	{"buying power", CategoryInsufficientFunds},
	{"margin", CategoryInsufficientFunds},
	{"market is closed", CategoryMarketClosed},
	{"market closed", CategoryMarketClosed},
	{"markets are closed", CategoryMarketClosed},
	{"outside market hours", CategoryMarketClosed},
	{"trading is halted", CategoryMarketClosed},
	{"invalid symbol", CategoryInvalidSymbolAtVenue},
	{"asset not found", CategoryInvalidSymbolAtVenue},
	{"not tradable", CategoryInvalidSymbolAtVenue},
	{"could not find asset", CategoryInvalidSymbolAtVenue},
	{"invalid tradingsymbol", CategoryInvalidSymbolAtVenue},
	{"instrument", CategoryInvalidSymbolAtVenue},
}

// Classify turns a raw submission error into a BrokerRejection.
//
// Validation errors, context cancellation and existing rejections pass
// through unchanged. Transport failures that never produced a venue
// response are not rejections either and are returned as-is.
func Classify(venue string, err error) error {
	if err == nil {
		return nil
	}
	if IsValidation(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if _, ok := AsRejection(err); ok {
		return err
	}
	var ve *common.VenueError
	if !errors.As(err, &ve) {
		return err
	}
	return &BrokerRejection{
		Category: categorize(ve),
		Venue:    venue,
		Message:  ve.Message,
		Err:      err,
	}
}

func categorize(ve *common.VenueError) Category {
	msg := strings.ToLower(ve.Message)

	switch ve.Code {
	case binanceBadSymbol:
		return CategoryInvalidSymbolAtVenue
	case binanceInvalidQuantity:
		return CategoryLotSize
	case binanceFilterFailure:
		// "Filter failure: NOTIONAL" / "Filter failure: LOT_SIZE"
		if strings.Contains(msg, "lot_size") || strings.Contains(msg, "market_lot_size") {
			return CategoryLotSize
		}
		if strings.Contains(msg, "notional") {
			return CategoryMinNotional
		}
	case binanceNewOrderRejected, binanceMarketClosedCancel:
		if strings.Contains(msg, "insufficient balance") {
			return CategoryInsufficientFunds
		}
	}

	for _, r := range messageRules {
		if strings.Contains(msg, r.needle) {
			return r.category
		}
	}

	// Alpaca answers 403 for buying power and 404/422 for unknown assets
	// when the message itself is not conclusive.
	switch ve.StatusCode {
	case http.StatusForbidden:
		return CategoryInsufficientFunds
	case http.StatusNotFound:
		return CategoryInvalidSymbolAtVenue
	}
	return CategoryUnknown
}
