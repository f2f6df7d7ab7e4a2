package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client reads public Binance spot market data.
type Client struct {
	client *resty.Client
}

// NewClient builds a REST client; testnet switches the host. A non-empty
// baseURL overrides both.
func NewClient(testnet bool, baseURL string) *Client {
	base := "https://api.binance.com"
	if testnet {
		base = "https://testnet.binance.vision"
	}
	if baseURL != "" {
		base = strings.TrimRight(baseURL, "/")
	}
	client := resty.New()
	client.SetBaseURL(base)
	client.SetTimeout(10 * time.Second)
	return &Client{client: client}
}

// TickerPrices returns the last price of each symbol, or of every listed
// symbol when none are given.
func (c *Client) TickerPrices(ctx context.Context, symbols ...string) (map[string]float64, error) {
	req := c.client.R().SetContext(ctx)
	switch len(symbols) {
	case 0:
	case 1:
		req.SetQueryParam("symbol", strings.ToUpper(symbols[0]))
	default:
		quoted := make([]string, len(symbols))
		for i, s := range symbols {
			quoted[i] = `"` + strings.ToUpper(s) + `"`
		}
		req.SetQueryParam("symbols", "["+strings.Join(quoted, ",")+"]")
	}

	resp, err := req.Get("/api/v3/ticker/price")
	if err != nil {
		return nil, fmt.Errorf("ticker price: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ticker price: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	type row struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	var rows []row
	body := resp.Body()
	if len(symbols) == 1 {
		var one row
		if err := json.Unmarshal(body, &one); err != nil {
			return nil, fmt.Errorf("decode ticker price: %w", err)
		}
		rows = []row{one}
	} else if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode ticker price: %w", err)
	}

	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		if p := toFloat(r.Price); p > 0 {
			out[r.Symbol] = p
		}
	}
	return out, nil
}
