package spot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// CreateListenKey creates a new user data stream listen key.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	if c.cfg.APIKey == "" {
		return "", errors.New("binance: API key required")
	}
	body, err := c.do(ctx, http.MethodPost, "/api/v3/userDataStream", url.Values{}, true)
	if err != nil {
		return "", err
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	return resp.ListenKey, nil
}

// KeepAliveListenKey extends the validity of a listen key.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	_, err := c.do(ctx, http.MethodPut, "/api/v3/userDataStream", url.Values{"listenKey": {listenKey}}, true)
	return err
}

// CloseListenKey closes a user data stream.
func (c *Client) CloseListenKey(ctx context.Context, listenKey string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/v3/userDataStream", url.Values{"listenKey": {listenKey}}, true)
	return err
}

// StreamURL returns the websocket endpoint for listenKey.
func (c *Client) StreamURL(listenKey string) string {
	base := "wss://stream.binance.com:9443/ws/"
	switch {
	case c.cfg.BaseURL != "":
		base = "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws/"
	case c.cfg.Testnet:
		base = "wss://stream.testnet.binance.vision/ws/"
	}
	return base + listenKey
}

// Quote returns the quote asset balances are reported in.
func (c *Client) Quote() string {
	return c.cfg.Quote
}
