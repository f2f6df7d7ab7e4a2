package spot

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"execution-core/pkg/exchanges/common"
)

type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

// SubmitOrder places req. A bracket is placed as the market entry followed
// by an OCO exit for the executed quantity.
func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	params, err := orderParams(req)
	if err != nil {
		return common.OrderResult{}, err
	}
	c.Track(req.Symbol)

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order response: %w", err)
	}
	res := common.OrderResult{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		ClientID: resp.ClientOrderID,
		Status:   mapStatus(resp.Status),
	}

	if req.Bracket != nil {
		qty := parseNumber(resp.ExecutedQty)
		if err := c.placeExit(ctx, req, qty); err != nil {
			log.Error().Err(err).Str("symbol", req.Symbol).Str("order_id", res.OrderID).
				Msg("binance: entry filled but OCO exit was not placed")
			res.Warning = "exit legs not placed: " + err.Error()
		}
	}
	return res, nil
}

func orderParams(req common.OrderRequest) (url.Values, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	params.Set("newOrderRespType", "RESULT")

	switch req.Amount.Kind {
	case common.AmountQuoteNotional:
		if req.Type != common.OrderTypeMarket {
			return nil, fmt.Errorf("binance: quote amount only allowed on market orders")
		}
		params.Set("quoteOrderQty", formatNumber(req.Amount.Value))
	default:
		params.Set("quantity", formatNumber(req.Amount.Value))
	}

	switch req.Type {
	case common.OrderTypeMarket, "":
		params.Set("type", "MARKET")
	case common.OrderTypeLimit:
		params.Set("type", "LIMIT")
		params.Set("price", formatNumber(req.LimitPrice))
		params.Set("timeInForce", string(toBinanceTIF(req.TimeInForce)))
	case common.OrderTypeStop:
		params.Set("type", "STOP_LOSS")
		params.Set("stopPrice", formatNumber(req.StopPrice))
	case common.OrderTypeStopLimit:
		params.Set("type", "STOP_LOSS_LIMIT")
		params.Set("price", formatNumber(req.LimitPrice))
		params.Set("stopPrice", formatNumber(req.StopPrice))
		params.Set("timeInForce", string(toBinanceTIF(req.TimeInForce)))
	case common.OrderTypeTrailingStop:
		// trailing distance is given in basis points
		params.Set("type", "STOP_LOSS")
		params.Set("trailingDelta", strconv.Itoa(int(math.Round(req.TrailPercent*100))))
	default:
		return nil, fmt.Errorf("binance: unsupported order type %q", req.Type)
	}
	return params, nil
}

// placeExit submits the take-profit/stop-loss OCO pair closing qty.
func (c *Client) placeExit(ctx context.Context, req common.OrderRequest, qty float64) error {
	if qty <= 0 {
		return fmt.Errorf("entry reported no executed quantity")
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side.Opposite()))
	params.Set("quantity", formatNumber(qty))
	params.Set("price", formatNumber(req.Bracket.TakeProfitLimit))
	params.Set("stopPrice", formatNumber(req.Bracket.StopLossStop))
	params.Set("stopLimitPrice", formatNumber(req.Bracket.StopLossStop))
	params.Set("stopLimitTimeInForce", string(common.TIFGTC))
	if req.ClientID != "" {
		params.Set("listClientOrderId", req.ClientID+"-x")
	}
	_, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order/oco", params)
	return err
}

// historyOrder is one entry of /api/v3/allOrders.
type historyOrder struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Side                string `json:"side"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Price               string `json:"price"`
	UpdateTime          int64  `json:"updateTime"`
}

// ListFilledOrders returns order history for symbol. An empty symbol means
// every tracked symbol plus every asset currently held.
func (c *Client) ListFilledOrders(ctx context.Context, symbol string) ([]common.FilledOrder, error) {
	symbols := []string{symbol}
	if symbol == "" {
		var err error
		if symbols, err = c.historySymbols(ctx); err != nil {
			return nil, err
		}
	}

	var out []common.FilledOrder
	for _, sym := range symbols {
		orders, err := c.allOrders(ctx, sym)
		if err != nil {
			return nil, fmt.Errorf("orders for %s: %w", sym, err)
		}
		out = append(out, orders...)
	}
	return out, nil
}

func (c *Client) allOrders(ctx context.Context, symbol string) ([]common.FilledOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", "1000")
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/allOrders", params)
	if err != nil {
		return nil, err
	}
	var orders []historyOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("decode all orders: %w", err)
	}

	out := make([]common.FilledOrder, 0, len(orders))
	for _, o := range orders {
		qty, _ := decimal.NewFromString(o.ExecutedQty)
		if qty.IsZero() {
			continue
		}
		// market orders report price 0; the average comes from the quote total
		quote, _ := decimal.NewFromString(o.CummulativeQuoteQty)
		out = append(out, common.FilledOrder{
			OrderID:  strconv.FormatInt(o.OrderID, 10),
			ClientID: o.ClientOrderID,
			Symbol:   o.Symbol,
			Side:     common.Side(strings.ToUpper(o.Side)),
			Quantity: qty.InexactFloat64(),
			Price:    quote.Div(qty).InexactFloat64(),
			FilledAt: time.UnixMilli(o.UpdateTime).UTC(),
			Status:   mapStatus(o.Status),
		})
	}
	return out, nil
}

type openOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	Time          int64  `json:"time"`
}

// ListOpenOrders returns resting orders. An empty symbol lists every symbol.
func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/openOrders", params)
	if err != nil {
		return nil, err
	}
	var orders []openOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	out := make([]common.OpenOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, common.OpenOrder{
			OrderID:    strconv.FormatInt(o.OrderID, 10),
			ClientID:   o.ClientOrderID,
			Symbol:     o.Symbol,
			Side:       common.Side(strings.ToUpper(o.Side)),
			Type:       fromBinanceType(o.Type),
			Quantity:   parseNumber(o.OrigQty),
			Filled:     parseNumber(o.ExecutedQty),
			LimitPrice: parseNumber(o.Price),
			StopPrice:  parseNumber(o.StopPrice),
			Status:     mapStatus(o.Status),
			CreatedAt:  time.UnixMilli(o.Time).UTC(),
		})
	}
	return out, nil
}

func fromBinanceType(t string) common.OrderType {
	switch strings.ToUpper(t) {
	case "MARKET":
		return common.OrderTypeMarket
	case "STOP_LOSS":
		return common.OrderTypeStop
	case "STOP_LOSS_LIMIT", "TAKE_PROFIT_LIMIT":
		return common.OrderTypeStopLimit
	default:
		return common.OrderTypeLimit
	}
}

func (c *Client) historySymbols(ctx context.Context) ([]string, error) {
	balances, err := c.balances(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, b := range balances {
		if b.Asset == c.cfg.Quote {
			continue
		}
		if parseNumber(b.Free)+parseNumber(b.Locked) > 0 {
			set[b.Asset+c.cfg.Quote] = struct{}{}
		}
	}
	c.mu.RLock()
	for s := range c.tracked {
		set[s] = struct{}{}
	}
	c.mu.RUnlock()

	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW", "PENDING_NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

// toBinanceTIF maps DAY, which spot does not know, to GTC.
func toBinanceTIF(tif common.TimeInForce) common.TimeInForce {
	switch tif {
	case common.TIFIOC, common.TIFFOK:
		return tif
	default:
		return common.TIFGTC
	}
}
