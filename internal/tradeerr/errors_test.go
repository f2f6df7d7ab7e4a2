package tradeerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/pkg/exchanges/common"
)

func TestClassifyVenueErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *common.VenueError
		want Category
	}{
		{"binance notional", &common.VenueError{Venue: "binance", StatusCode: 400, Code: -1013, Message: "Filter failure: NOTIONAL"}, CategoryMinNotional},
		{"binance min notional", &common.VenueError{Venue: "binance", StatusCode: 400, Code: -1013, Message: "Filter failure: MIN_NOTIONAL"}, CategoryMinNotional},
		{"binance lot size", &common.VenueError{Venue: "binance", StatusCode: 400, Code: -1013, Message: "Filter failure: LOT_SIZE"}, CategoryLotSize},
		{"binance balance", &common.VenueError{Venue: "binance", StatusCode: 400, Code: -2010, Message: "Account has insufficient balance for requested action."}, CategoryInsufficientFunds},
		{"binance symbol", &common.VenueError{Venue: "binance", StatusCode: 400, Code: -1121, Message: "Invalid symbol."}, CategoryInvalidSymbolAtVenue},
		{"binance market closed", &common.VenueError{Venue: "binance", StatusCode: 400, Code: -2010, Message: "Market is closed."}, CategoryMarketClosed},
		{"alpaca buying power", &common.VenueError{Venue: "alpaca", StatusCode: 403, Message: "insufficient buying power"}, CategoryInsufficientFunds},
		{"alpaca forbidden", &common.VenueError{Venue: "alpaca", StatusCode: 403, Message: "forbidden"}, CategoryInsufficientFunds},
		{"alpaca unknown route", &common.VenueError{Venue: "alpaca", StatusCode: 404, Message: "not found"}, CategoryInvalidSymbolAtVenue},
		{"alpaca asset not found", &common.VenueError{Venue: "alpaca", StatusCode: 422, Message: "could not find asset \"ZZZZ\""}, CategoryInvalidSymbolAtVenue},
		{"alpaca fractional", &common.VenueError{Venue: "alpaca", StatusCode: 422, Message: "fractional orders must be DAY orders"}, CategoryLotSize},
		{"kite instrument", &common.VenueError{Venue: "kite", StatusCode: 400, Message: "The instrument you are placing an order for has either expired or does not exist."}, CategoryInvalidSymbolAtVenue},
		{"kite margin", &common.VenueError{Venue: "kite", StatusCode: 400, Message: "Insufficient funds. Required margin is 95.00"}, CategoryInsufficientFunds},
		{"kite closed", &common.VenueError{Venue: "kite", Message: "Markets are closed right now. Use GTT for placing long standing orders instead."}, CategoryMarketClosed},
		{"unrecognised", &common.VenueError{Venue: "alpaca", StatusCode: 500, Message: "internal error"}, CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err.Venue, fmt.Errorf("submit: %w", tt.err))
			rej, ok := AsRejection(got)
			require.True(t, ok, "expected a BrokerRejection, got %v", got)
			assert.Equal(t, tt.want, rej.Category)
			assert.Equal(t, tt.err.Message, rej.Message)
			assert.Equal(t, tt.err.Venue, rej.Venue)
		})
	}
}

func TestClassifyPassThrough(t *testing.T) {
	assert.Nil(t, Classify("binance", nil))

	validation := fmt.Errorf("build: %w", ErrInvalidSize)
	assert.Same(t, validation, Classify("binance", validation))

	canceled := fmt.Errorf("submit: %w", context.Canceled)
	assert.Same(t, canceled, Classify("binance", canceled))

	transport := errors.New("dial tcp: connection refused")
	assert.Same(t, transport, Classify("binance", transport))

	rej := &BrokerRejection{Category: CategoryLotSize, Venue: "kite", Message: "x"}
	assert.Same(t, error(rej), Classify("kite", rej))
}

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "INVALID_SYMBOL", Code(fmt.Errorf("x: %w", ErrInvalidSymbol)))
	assert.Equal(t, "INSUFFICIENT_BALANCE", Code(ErrInsufficientBalance))
	assert.Equal(t, "BRACKET_NOT_OFFERED", Code(ErrBracketNotOffered))
	assert.Equal(t, "MARKET_CLOSED", Code(&BrokerRejection{Category: CategoryMarketClosed}))
	assert.Equal(t, "INTERNAL", Code(errors.New("boom")))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(fmt.Errorf("wrap: %w", ErrInvalidPrice)))
	assert.False(t, IsValidation(&BrokerRejection{Category: CategoryUnknown}))
	assert.False(t, IsValidation(errors.New("other")))
}
