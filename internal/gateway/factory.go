// Package gateway builds the venue adapter selected by configuration.
package gateway

import (
	"fmt"
	"strings"

	"execution-core/pkg/config"
	"execution-core/pkg/exchanges/alpaca"
	"execution-core/pkg/exchanges/binance/spot"
	"execution-core/pkg/exchanges/common"
	"execution-core/pkg/exchanges/kite"
	"execution-core/pkg/exchanges/observe"
	"execution-core/pkg/exchanges/paper"
)

// Venue is a built adapter plus the concrete clients some wiring needs.
type Venue struct {
	Adapter common.Adapter  // traced adapter used by the pipeline
	Spot    *spot.Client    // live Binance spot, which also streams account pushes
	Paper   *paper.Exchange // dry-run venue
}

// Market reports "spot" or "equities".
func (v Venue) Market() string {
	if v.Adapter.Venue() == common.VenueEquities {
		return "equities"
	}
	return "spot"
}

// New creates the adapter for cfg. DRY_RUN always selects the paper venue,
// imitating DRY_RUN_VENUE.
func New(cfg *config.Config, prices paper.PriceSource) (Venue, error) {
	if cfg.DryRun || cfg.Venue == config.VenuePaper {
		return newPaper(cfg, prices), nil
	}

	switch cfg.Venue {
	case config.VenueBinanceSpot:
		c := spot.New(spot.Config{
			APIKey:    cfg.BinanceAPIKey,
			APISecret: cfg.BinanceAPISecret,
			Testnet:   cfg.BinanceTestnet,
			Quote:     cfg.Quote,
		})
		for _, sym := range cfg.BinanceSymbols {
			c.Track(sym)
		}
		return Venue{Adapter: observe.Wrap(c), Spot: c}, nil

	case config.VenueAlpaca:
		c := alpaca.New(alpaca.Config{
			KeyID:     cfg.AlpacaKeyID,
			SecretKey: cfg.AlpacaSecret,
			BaseURL:   cfg.AlpacaBaseURL,
		})
		return Venue{Adapter: observe.Wrap(c)}, nil

	case config.VenueKite:
		c := kite.New(kite.Config{
			APIKey:      cfg.KiteAPIKey,
			AccessToken: cfg.KiteAccessToken,
			Exchange:    cfg.KiteExchange,
			Product:     cfg.KiteProduct,
		})
		return Venue{Adapter: observe.Wrap(c)}, nil

	default:
		return Venue{}, fmt.Errorf("unsupported venue: %s", cfg.Venue)
	}
}

func newPaper(cfg *config.Config, prices paper.PriceSource) Venue {
	market, quote := common.VenueSpot, cfg.Quote
	caps := common.Capabilities{Bracket: true}
	if strings.EqualFold(cfg.DryRunVenue, "EQUITIES") {
		market, quote = common.VenueEquities, ""
		caps = common.Capabilities{Bracket: true, ExtendedHours: true, TrailingStop: true}
	}
	p := paper.New(paper.Config{
		Name:           "paper-" + strings.ToLower(string(market)),
		Venue:          market,
		Quote:          quote,
		InitialBalance: cfg.DryRunInitialBalance,
		Capabilities:   caps,
		Sim: paper.SimConfig{
			FeeRate:      cfg.DryRunFeeRate,
			SlippageBps:  cfg.DryRunSlippageBps,
			LatencyMinMs: cfg.DryRunGwLatencyMinMs,
			LatencyMaxMs: cfg.DryRunGwLatencyMaxMs,
		},
	}, prices)
	return Venue{Adapter: observe.Wrap(p), Paper: p}
}
