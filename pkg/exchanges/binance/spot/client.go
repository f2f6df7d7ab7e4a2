// Package spot is a signed REST client for the Binance spot venue. It
// implements common.Adapter.
package spot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"execution-core/pkg/exchanges/common"
)

const venueName = "binance-spot"

// Config holds Binance credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64  // ms
	BaseURL    string // overrides the REST endpoint, e.g. in tests
	Quote      string // quote asset used for balances, default USDT
}

// Client is a Binance spot trading client.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter

	mu      sync.RWMutex
	rules   map[string]common.StepRules
	tracked map[string]struct{} // symbols traded through this client
}

var _ common.Adapter = (*Client)(nil)

var errNoCredentials = errors.New("binance: API key/secret required")

func New(cfg Config) *Client {
	base := "https://api.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binance.vision"
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.Quote == "" {
		cfg.Quote = "USDT"
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		rules:      make(map[string]common.StepRules),
		tracked:    make(map[string]struct{}),
	}
	c.timeSync = common.NewTimeSync(c.ServerTime)
	// 6000 request weight per minute on spot
	c.rateLimiter = common.NewRateLimiter(6000, time.Minute)
	return c
}

func (c *Client) Name() string        { return venueName }
func (c *Client) Venue() common.Venue { return common.VenueSpot }

// Capabilities reports OCO-backed brackets and trailing stops. Spot has no
// extended session.
func (c *Client) Capabilities() common.Capabilities {
	return common.Capabilities{Bracket: true, TrailingStop: true}
}

// EncodeAmount sends market buys as a quote amount and everything else as
// base quantity.
func (c *Client) EncodeAmount(side common.Side, typ common.OrderType, qty, notional float64) common.Amount {
	return common.SpotAmount(side, typ, qty, notional)
}

// Track adds symbol to the set whose history is fetched for the ledger.
func (c *Client) Track(symbol string) {
	c.mu.Lock()
	c.tracked[symbol] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) signedParams(ctx context.Context, params url.Values) url.Values {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.timeSync.Timestamp(ctx), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	return params
}

// doSigned signs the query and performs the HTTP request.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errNoCredentials
	}
	params = c.signedParams(ctx, params)
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))
	return c.do(ctx, method, path, params, true)
}

// doPublic performs an unsigned request.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, params, false)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, withKey bool) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var (
		req *http.Request
		err error
	)
	encoded := params.Encode()
	endpoint := c.baseURL + path
	switch method {
	case http.MethodPost:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		// GET/PUT/DELETE carry their parameters in the query string
		if encoded != "" {
			endpoint += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
	}
	if err != nil {
		return nil, err
	}
	if withKey {
		req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		return nil, parseError(res.StatusCode, body)
	}
	return body, nil
}

func parseError(status int, body []byte) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Msg == "" {
		return &common.VenueError{Venue: venueName, StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	return &common.VenueError{Venue: venueName, StatusCode: status, Code: apiErr.Code, Message: apiErr.Msg}
}

// ServerTime fetches server time (ms).
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/api/v3/time", nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode server time: %w", err)
	}
	return res.ServerTime, nil
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// formatNumber renders v without exponent or float noise.
func formatNumber(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func parseNumber(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
