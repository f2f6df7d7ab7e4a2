// Package alpaca is a REST client for the Alpaca equities venue.
package alpaca

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"execution-core/pkg/exchanges/common"
)

const (
	venueName = "alpaca"
	pageSize  = 500
	maxPages  = 20
)

// Config holds Alpaca credentials.
type Config struct {
	KeyID     string
	SecretKey string
	Paper     bool
	BaseURL   string // overrides the trading endpoint, e.g. in tests
}

// Client is an Alpaca trading client.
type Client struct {
	cfg    Config
	client *resty.Client
}

var _ common.Adapter = (*Client)(nil)

// New creates an Alpaca client.
func New(cfg Config) *Client {
	base := "https://api.alpaca.markets"
	if cfg.Paper {
		base = "https://paper-api.alpaca.markets"
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}

	client := resty.New()
	client.SetBaseURL(base)
	client.SetTimeout(10 * time.Second)
	client.SetHeader("APCA-API-KEY-ID", cfg.KeyID)
	client.SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey)
	client.SetHeader("Content-Type", "application/json")

	return &Client{cfg: cfg, client: client}
}

func (c *Client) Name() string        { return venueName }
func (c *Client) Venue() common.Venue { return common.VenueEquities }

// Capabilities reports bracket orders, the extended session for DAY limit
// orders and trailing stops.
func (c *Client) Capabilities() common.Capabilities {
	return common.Capabilities{Bracket: true, ExtendedHours: true, TrailingStop: true}
}

func (c *Client) StepRules(context.Context, string) common.StepRules {
	return common.DefaultEquityRules()
}

func (c *Client) EncodeAmount(side common.Side, typ common.OrderType, qty, notional float64) common.Amount {
	return common.ShareAmount(side, typ, qty, notional)
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		var ae apiError
		if e, ok := resp.Error().(*apiError); ok && e != nil {
			ae = *e
		}
		if ae.Message == "" {
			ae.Message = strings.TrimSpace(resp.String())
		}
		return &common.VenueError{Venue: venueName, StatusCode: resp.StatusCode(), Code: ae.Code, Message: ae.Message}
	}
	return nil
}

type orderLeg struct {
	LimitPrice string `json:"limit_price,omitempty"`
	StopPrice  string `json:"stop_price,omitempty"`
}

type orderBody struct {
	Symbol        string    `json:"symbol"`
	Qty           string    `json:"qty"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	TimeInForce   string    `json:"time_in_force"`
	LimitPrice    string    `json:"limit_price,omitempty"`
	StopPrice     string    `json:"stop_price,omitempty"`
	TrailPercent  string    `json:"trail_percent,omitempty"`
	ExtendedHours bool      `json:"extended_hours,omitempty"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	OrderClass    string    `json:"order_class,omitempty"`
	TakeProfit    *orderLeg `json:"take_profit,omitempty"`
	StopLoss      *orderLeg `json:"stop_loss,omitempty"`
}

type orderResponse struct {
	ID             string          `json:"id"`
	ClientOrderID  string          `json:"client_order_id"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	Status         string          `json:"status"`
	Type           string          `json:"type"`
	Qty            string          `json:"qty"`
	FilledQty      string          `json:"filled_qty"`
	LimitPrice     *string         `json:"limit_price"`
	StopPrice      *string         `json:"stop_price"`
	FilledAvgPrice *string         `json:"filled_avg_price"`
	FilledAt       *time.Time      `json:"filled_at"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	Legs           []orderResponse `json:"legs"`
}

func price(v float64) string {
	if v <= 0 {
		return ""
	}
	return decimal.NewFromFloat(v).String()
}

func buildBody(req common.OrderRequest) (orderBody, error) {
	if req.Amount.Kind != common.AmountShares {
		return orderBody{}, fmt.Errorf("alpaca: orders are sized in shares, got %s", req.Amount.Kind)
	}
	tif := req.TimeInForce
	if tif == "" {
		tif = common.TIFDay
	}
	b := orderBody{
		Symbol:        req.Symbol,
		Qty:           decimal.NewFromFloat(req.Amount.Value).String(),
		Side:          strings.ToLower(string(req.Side)),
		Type:          string(req.Type),
		TimeInForce:   strings.ToLower(string(tif)),
		LimitPrice:    price(req.LimitPrice),
		StopPrice:     price(req.StopPrice),
		ExtendedHours: req.ExtendedHours,
		ClientOrderID: req.ClientID,
	}
	if req.Type == common.OrderTypeTrailingStop {
		b.TrailPercent = price(req.TrailPercent)
	}
	if req.Bracket != nil {
		b.OrderClass = "bracket"
		b.TakeProfit = &orderLeg{LimitPrice: price(req.Bracket.TakeProfitLimit)}
		b.StopLoss = &orderLeg{StopPrice: price(req.Bracket.StopLossStop)}
	}
	return b, nil
}

// SubmitOrder posts req to /v2/orders.
func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	body, err := buildBody(req)
	if err != nil {
		return common.OrderResult{}, err
	}
	var out orderResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/v2/orders")
	if err := c.check(resp, err); err != nil {
		return common.OrderResult{}, err
	}
	return common.OrderResult{OrderID: out.ID, ClientID: out.ClientOrderID, Status: mapStatus(out.Status)}, nil
}

// ListFilledOrders pages through closed orders oldest first. Bracket legs
// are flattened so exits count as fills of their own.
// Pages overlap by one timestamp because Alpaca's after filter is exclusive
// and several orders can share a submission time; repeats are dropped by id.
func (c *Client) ListFilledOrders(ctx context.Context, symbol string) ([]common.FilledOrder, error) {
	var (
		out   []common.FilledOrder
		after string
		seen  = make(map[string]bool)
	)
	for page := 0; page < maxPages; page++ {
		params := map[string]string{
			"status":    "closed",
			"limit":     strconv.Itoa(pageSize),
			"direction": "asc",
			"nested":    "true",
		}
		if symbol != "" {
			params["symbols"] = symbol
		}
		if after != "" {
			params["after"] = after
		}

		var batch []orderResponse
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&batch).
			SetError(&apiError{}).
			Get("/v2/orders")
		if err := c.check(resp, err); err != nil {
			return nil, err
		}
		fresh := 0
		for _, o := range batch {
			if seen[o.ID] {
				continue
			}
			seen[o.ID] = true
			fresh++
			out = appendFills(out, o)
		}
		if len(batch) < pageSize {
			return out, nil
		}
		if fresh == 0 {
			return out, fmt.Errorf("alpaca: more than %d orders share submission time %s", pageSize, after)
		}
		after = batch[len(batch)-1].SubmittedAt.Add(-time.Nanosecond).Format(time.RFC3339Nano)
	}
	return out, errors.New("alpaca: order history exceeds page limit")
}

// ListOpenOrders returns working orders, bracket legs included.
func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	params := map[string]string{"status": "open", "limit": strconv.Itoa(pageSize), "nested": "true"}
	if symbol != "" {
		params["symbols"] = symbol
	}
	var batch []orderResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&batch).
		SetError(&apiError{}).
		Get("/v2/orders")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	var out []common.OpenOrder
	for _, o := range batch {
		out = appendOpen(out, o)
	}
	return out, nil
}

func appendOpen(out []common.OpenOrder, o orderResponse) []common.OpenOrder {
	switch st := mapStatus(o.Status); st {
	case common.StatusNew, common.StatusPartial:
		qty, _ := strconv.ParseFloat(o.Qty, 64)
		filled, _ := strconv.ParseFloat(o.FilledQty, 64)
		out = append(out, common.OpenOrder{
			OrderID:    o.ID,
			ClientID:   o.ClientOrderID,
			Symbol:     o.Symbol,
			Side:       common.Side(strings.ToUpper(o.Side)),
			Type:       common.OrderType(o.Type),
			Quantity:   qty,
			Filled:     filled,
			LimitPrice: parsePrice(o.LimitPrice),
			StopPrice:  parsePrice(o.StopPrice),
			Status:     st,
			CreatedAt:  o.SubmittedAt.UTC(),
		})
	}
	for _, leg := range o.Legs {
		out = appendOpen(out, leg)
	}
	return out
}

func parsePrice(p *string) float64 {
	if p == nil {
		return 0
	}
	v, _ := strconv.ParseFloat(*p, 64)
	return v
}

func appendFills(out []common.FilledOrder, o orderResponse) []common.FilledOrder {
	qty, _ := decimal.NewFromString(o.FilledQty)
	if qty.Sign() > 0 {
		var px float64
		if o.FilledAvgPrice != nil {
			px, _ = strconv.ParseFloat(*o.FilledAvgPrice, 64)
		}
		at := o.SubmittedAt
		if o.FilledAt != nil {
			at = *o.FilledAt
		}
		out = append(out, common.FilledOrder{
			OrderID:  o.ID,
			ClientID: o.ClientOrderID,
			Symbol:   o.Symbol,
			Side:     common.Side(strings.ToUpper(o.Side)),
			Quantity: qty.InexactFloat64(),
			Price:    px,
			FilledAt: at.UTC(),
			Status:   mapStatus(o.Status),
		})
	}
	for _, leg := range o.Legs {
		out = appendFills(out, leg)
	}
	return out
}

// GetAccountBalance returns settled cash.
func (c *Client) GetAccountBalance(ctx context.Context) (float64, error) {
	var acct struct {
		Cash string `json:"cash"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&acct).
		SetError(&apiError{}).
		Get("/v2/account")
	if err := c.check(resp, err); err != nil {
		return 0, err
	}
	cash, err := strconv.ParseFloat(acct.Cash, 64)
	if err != nil {
		return 0, fmt.Errorf("alpaca: parse cash %q: %w", acct.Cash, err)
	}
	return cash, nil
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToLower(s) {
	case "new", "accepted", "pending_new", "accepted_for_bidding", "held", "calculated":
		return common.StatusNew
	case "partially_filled":
		return common.StatusPartial
	case "filled":
		return common.StatusFilled
	case "canceled", "pending_cancel", "replaced", "done_for_day":
		return common.StatusCanceled
	case "rejected", "stopped", "suspended":
		return common.StatusRejected
	case "expired":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}
