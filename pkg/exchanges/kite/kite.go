// Package kite adapts the Zerodha Kite Connect API to common.Adapter.
//
// Kite offers plain orders only: no bracket legs and no trailing stops.
// Orders outside market hours go out as after-market orders (AMO).
package kite

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"execution-core/pkg/exchanges/common"
)

const venueName = "kite"

// Config holds Kite credentials and order defaults.
type Config struct {
	APIKey      string
	AccessToken string
	Exchange    string // default NSE
	Product     string // default CNC (delivery)
	BaseURI     string // overrides the API root, e.g. in tests
}

// Client is a Kite Connect equities venue.
type Client struct {
	cfg Config
	kc  *kiteconnect.Client
}

var _ common.Adapter = (*Client)(nil)

// New creates a Kite client.
func New(cfg Config) *Client {
	if cfg.Exchange == "" {
		cfg.Exchange = kiteconnect.ExchangeNSE
	}
	if cfg.Product == "" {
		cfg.Product = kiteconnect.ProductCNC
	}
	kc := kiteconnect.New(cfg.APIKey)
	kc.SetAccessToken(cfg.AccessToken)
	kc.SetHTTPClient(&http.Client{Timeout: 10 * time.Second})
	if cfg.BaseURI != "" {
		kc.SetBaseURI(cfg.BaseURI)
	}
	return &Client{cfg: cfg, kc: kc}
}

func (c *Client) Name() string                      { return venueName }
func (c *Client) Venue() common.Venue               { return common.VenueEquities }
func (c *Client) Capabilities() common.Capabilities { return common.Capabilities{ExtendedHours: true} }

func (c *Client) StepRules(context.Context, string) common.StepRules {
	return common.DefaultEquityRules()
}

func (c *Client) EncodeAmount(side common.Side, typ common.OrderType, qty, notional float64) common.Amount {
	return common.ShareAmount(side, typ, qty, notional)
}

// SubmitOrder places a regular order, or an AMO when extended hours are
// requested.
func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return common.OrderResult{}, err
	}
	if req.Bracket != nil {
		return common.OrderResult{}, errors.New("kite: bracket orders are not offered")
	}
	params, err := c.orderParams(req)
	if err != nil {
		return common.OrderResult{}, err
	}
	variety := kiteconnect.VarietyRegular
	if req.ExtendedHours {
		variety = kiteconnect.VarietyAMO
	}

	resp, err := c.kc.PlaceOrder(variety, params)
	if err != nil {
		return common.OrderResult{}, venueError(err)
	}
	return common.OrderResult{OrderID: resp.OrderID, ClientID: req.ClientID, Status: common.StatusNew}, nil
}

func (c *Client) orderParams(req common.OrderRequest) (kiteconnect.OrderParams, error) {
	qty := int(math.Floor(req.Amount.Value))
	if req.Amount.Kind != common.AmountShares || qty <= 0 {
		return kiteconnect.OrderParams{}, fmt.Errorf("kite: orders are sized in whole shares, got %v %s", req.Amount.Value, req.Amount.Kind)
	}
	p := kiteconnect.OrderParams{
		Exchange:        c.cfg.Exchange,
		Tradingsymbol:   req.Symbol,
		TransactionType: string(req.Side),
		Product:         c.cfg.Product,
		Quantity:        qty,
		Validity:        kiteconnect.ValidityDay,
		Tag:             tag(req.ClientID),
	}
	if req.TimeInForce == common.TIFIOC {
		p.Validity = kiteconnect.ValidityIOC
	}
	switch req.Type {
	case common.OrderTypeMarket:
		p.OrderType = kiteconnect.OrderTypeMarket
	case common.OrderTypeLimit:
		p.OrderType = kiteconnect.OrderTypeLimit
		p.Price = req.LimitPrice
	case common.OrderTypeStop:
		p.OrderType = kiteconnect.OrderTypeSLM
		p.TriggerPrice = req.StopPrice
	case common.OrderTypeStopLimit:
		p.OrderType = kiteconnect.OrderTypeSL
		p.Price = req.LimitPrice
		p.TriggerPrice = req.StopPrice
	default:
		return kiteconnect.OrderParams{}, fmt.Errorf("kite: unsupported order type %q", req.Type)
	}
	return p, nil
}

// tag keeps the client id within Kite's 20 character tag limit.
func tag(clientID string) string {
	id := strings.ReplaceAll(clientID, "-", "")
	if len(id) > 20 {
		id = id[:20]
	}
	return id
}

// ListFilledOrders returns the order book. Kite only reports the current
// trading day.
func (c *Client) ListFilledOrders(ctx context.Context, symbol string) ([]common.FilledOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	orders, err := c.kc.GetOrders()
	if err != nil {
		return nil, venueError(err)
	}
	out := make([]common.FilledOrder, 0, len(orders))
	for _, o := range orders {
		if symbol != "" && !strings.EqualFold(o.TradingSymbol, symbol) {
			continue
		}
		at := o.ExchangeTimestamp.Time
		if at.IsZero() {
			at = o.OrderTimestamp.Time
		}
		out = append(out, common.FilledOrder{
			OrderID:  o.OrderID,
			ClientID: o.Tag,
			Symbol:   o.TradingSymbol,
			Side:     common.Side(strings.ToUpper(o.TransactionType)),
			Quantity: o.FilledQuantity,
			Price:    o.AveragePrice,
			FilledAt: at,
			Status:   mapStatus(o.Status),
		})
	}
	return out, nil
}

// ListOpenOrders returns today's orders that are still working.
func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	orders, err := c.kc.GetOrders()
	if err != nil {
		return nil, venueError(err)
	}
	var out []common.OpenOrder
	for _, o := range orders {
		if symbol != "" && !strings.EqualFold(o.TradingSymbol, symbol) {
			continue
		}
		if mapStatus(o.Status) != common.StatusNew {
			continue
		}
		out = append(out, common.OpenOrder{
			OrderID:    o.OrderID,
			ClientID:   o.Tag,
			Symbol:     o.TradingSymbol,
			Side:       common.Side(strings.ToUpper(o.TransactionType)),
			Type:       fromKiteType(o.OrderType),
			Quantity:   o.Quantity,
			Filled:     o.FilledQuantity,
			LimitPrice: o.Price,
			StopPrice:  o.TriggerPrice,
			Status:     common.StatusNew,
			CreatedAt:  o.OrderTimestamp.Time,
		})
	}
	return out, nil
}

func fromKiteType(t string) common.OrderType {
	switch t {
	case kiteconnect.OrderTypeMarket:
		return common.OrderTypeMarket
	case kiteconnect.OrderTypeSL:
		return common.OrderTypeStopLimit
	case kiteconnect.OrderTypeSLM:
		return common.OrderTypeStop
	default:
		return common.OrderTypeLimit
	}
}

// GetAccountBalance returns the net equity margin.
func (c *Client) GetAccountBalance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m, err := c.kc.GetUserMargins()
	if err != nil {
		return 0, venueError(err)
	}
	return m.Equity.Net, nil
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "COMPLETE":
		return common.StatusFilled
	case "OPEN", "TRIGGER PENDING", "AMO REQ RECEIVED", "PUT ORDER REQ RECEIVED", "VALIDATION PENDING", "OPEN PENDING":
		return common.StatusNew
	case "CANCELLED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	default:
		return common.StatusUnknown
	}
}

// venueError keeps the broker's wording so it can be classified.
func venueError(err error) error {
	return &common.VenueError{Venue: venueName, Message: err.Error()}
}
