package market

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// PriceSink receives last prices.
type PriceSink interface {
	Set(symbol string, price float64)
}

// PriceFeed keeps a PriceSink current from the public ticker stream,
// seeding it over REST first and reconnecting when the stream drops.
type PriceFeed struct {
	REST    *Client
	Stream  *StreamClient
	Sink    PriceSink
	Symbols []string // empty means every symbol

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Run blocks until ctx is done.
func (f *PriceFeed) Run(ctx context.Context) error {
	if f.Stream == nil || f.Sink == nil {
		return errors.New("price feed: stream and sink are required")
	}
	minBackoff, maxBackoff := f.MinBackoff, f.MaxBackoff
	if minBackoff <= 0 {
		minBackoff = time.Second
	}
	if maxBackoff < minBackoff {
		maxBackoff = time.Minute
	}

	f.seed(ctx)
	backoff := minBackoff
	for {
		n, err := f.stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if n > 0 {
			backoff = minBackoff
		}
		log.Warn().Err(err).Int("updates", n).Dur("retry_in", backoff).Msg("price feed: stream ended, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (f *PriceFeed) seed(ctx context.Context) {
	if f.REST == nil {
		return
	}
	prices, err := f.REST.TickerPrices(ctx, f.Symbols...)
	if err != nil {
		log.Warn().Err(err).Msg("price feed: seeding from REST failed")
		return
	}
	for sym, p := range prices {
		f.Sink.Set(sym, p)
	}
	log.Info().Int("symbols", len(prices)).Msg("price feed: seeded")
}

// stream consumes one connection and returns how many updates it applied.
func (f *PriceFeed) stream(ctx context.Context) (int, error) {
	ticks, stop, err := f.Stream.SubscribeMiniTickers(ctx, f.Symbols)
	if err != nil {
		return 0, err
	}
	defer stop()

	n := 0
	for t := range ticks {
		f.Sink.Set(t.Symbol, t.Price)
		n++
	}
	return n, errors.New("connection closed")
}
