package spot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"execution-core/pkg/exchanges/common"
)

// Balance represents an asset balance.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

func (c *Client) balances(ctx context.Context) ([]Balance, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{"omitZeroBalances": {"true"}})
	if err != nil {
		return nil, err
	}
	var info struct {
		Balances []Balance `json:"balances"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}
	return info.Balances, nil
}

// GetAccountBalance returns the free balance of the quote asset.
func (c *Client) GetAccountBalance(ctx context.Context) (float64, error) {
	balances, err := c.balances(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Asset == c.cfg.Quote {
			return parseNumber(b.Free), nil
		}
	}
	return 0, nil
}

type symbolFilter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"minNotional"`
}

// StepRules returns the LOT_SIZE and notional filters for symbol. They are
// cached per symbol; when exchangeInfo cannot be read the default spot
// rules are used and nothing is cached.
func (c *Client) StepRules(ctx context.Context, symbol string) common.StepRules {
	c.mu.RLock()
	r, ok := c.rules[symbol]
	c.mu.RUnlock()
	if ok {
		return r
	}

	r, err := c.fetchRules(ctx, symbol)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("binance: exchangeInfo unavailable, using default step rules")
		return common.DefaultSpotRules()
	}
	c.mu.Lock()
	c.rules[symbol] = r
	c.mu.Unlock()
	return r
}

func (c *Client) fetchRules(ctx context.Context, symbol string) (common.StepRules, error) {
	body, err := c.doPublic(ctx, "/api/v3/exchangeInfo", url.Values{"symbol": {symbol}})
	if err != nil {
		return common.StepRules{}, err
	}
	var info struct {
		Symbols []struct {
			Symbol  string         `json:"symbol"`
			Filters []symbolFilter `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return common.StepRules{}, fmt.Errorf("decode exchange info: %w", err)
	}
	if len(info.Symbols) == 0 {
		return common.StepRules{}, fmt.Errorf("symbol %s not listed", symbol)
	}

	r := common.DefaultSpotRules()
	for _, f := range info.Symbols[0].Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			if v := parseNumber(f.MinQty); v > 0 {
				r.MinQty = v
			}
			if v := parseNumber(f.StepSize); v > 0 {
				r.StepSize = v
			}
		case "NOTIONAL", "MIN_NOTIONAL":
			r.MinNotional = parseNumber(f.MinNotional)
		}
	}
	return r, nil
}
