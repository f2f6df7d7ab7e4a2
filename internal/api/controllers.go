package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"execution-core/internal/freshness"
	"execution-core/internal/order"
	"execution-core/internal/pipeline"
	"execution-core/internal/signal"
	"execution-core/internal/tradeerr"
	"execution-core/pkg/i18n"
)

type orderIntentRequest struct {
	Signal     map[string]any  `json:"signal" binding:"required"`
	Params     order.Params    `json:"params"`
	Sizing     pipeline.Sizing `json:"sizing"`
	EntryPrice float64         `json:"entry_price"`
	ClientID   string          `json:"client_id"`
}

type listOrdersQuery struct {
	Symbol string `form:"symbol"`
	Limit  int    `form:"limit"`
}

type setViewRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

func (q *listOrdersQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondPipelineError maps pipeline failures to a status and friendly text.
// Validation failures happen before anything is sent; rejections come from
// the venue and carry their category.
func respondPipelineError(c *gin.Context, err error) {
	code := tradeerr.Code(err)
	body := gin.H{"code": code, "error": i18n.ForCode(code), "detail": err.Error()}

	status := http.StatusBadGateway
	switch {
	case errors.Is(err, pipeline.ErrNoPosition):
		status = http.StatusNotFound
		body["code"] = "NO_POSITION"
		body["error"] = err.Error()
	case errors.Is(err, signal.ErrMissingSymbol), errors.Is(err, signal.ErrMissingSide), errors.Is(err, signal.ErrMissingPrice),
		errors.Is(err, signal.ErrNotFinite):
		status = http.StatusBadRequest
		body["code"] = "INVALID_SIGNAL"
		body["error"] = err.Error()
	case tradeerr.IsValidation(err):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	default:
		if rej, ok := tradeerr.AsRejection(err); ok {
			status = http.StatusConflict
			body["category"] = rej.Category
			body["venue"] = rej.Venue
		}
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", c.GetString("RequestID")).Msg("pipeline failed")
	}
	c.JSON(status, body)
}

func (s *Server) bindIntent(c *gin.Context) (pipeline.Intent, bool) {
	var req orderIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return pipeline.Intent{}, false
	}
	sig, err := signal.Parse(req.Signal)
	if err != nil {
		respondPipelineError(c, err)
		return pipeline.Intent{}, false
	}
	return pipeline.Intent{
		Signal:     sig,
		Params:     req.Params,
		Sizing:     req.Sizing,
		EntryPrice: req.EntryPrice,
		ClientID:   req.ClientID,
	}, true
}

// previewOrder runs the pipeline without submitting.
func (s *Server) previewOrder(c *gin.Context) {
	in, ok := s.bindIntent(c)
	if !ok {
		return
	}
	p, err := s.Pipeline.Preview(c.Request.Context(), in)
	if err != nil {
		respondPipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// createOrder submits a signal-derived order once.
func (s *Server) createOrder(c *gin.Context) {
	in, ok := s.bindIntent(c)
	if !ok {
		return
	}
	ex, err := s.Pipeline.Execute(c.Request.Context(), in)
	if err != nil {
		respondPipelineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ex)
}

// getOrders returns recent journal entries.
func (s *Server) getOrders(c *gin.Context) {
	if s.DB == nil {
		respondError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "order journal not available")
		return
	}
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	orders, err := s.DB.ListJournal(c.Request.Context(), q.Symbol, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, orders)
}

// getOpenOrders returns the resting orders from the last fetch. With
// refresh=true the venue is asked again if the feed is stale.
func (s *Server) getOpenOrders(c *gin.Context) {
	if s.OpenOrders == nil {
		respondError(c, http.StatusServiceUnavailable, "OPEN_ORDERS_UNAVAILABLE", "open orders not tracked")
		return
	}
	if c.Query("refresh") == "true" && s.Scheduler != nil {
		if err := s.Scheduler.EnsureFresh(c.Request.Context(), freshness.FeedOpenOrders); err != nil {
			log.Warn().Err(err).Msg("open orders: refresh failed, serving last fetch")
		}
	}
	sym := c.Query("symbol")
	orders, fetchedAt := s.OpenOrders.List(sym)
	resp := gin.H{
		"orders":     orders,
		"fetched_at": fetchedAt,
		"state":      s.feedState(freshness.FeedOpenOrders),
	}
	if sym != "" {
		resp["reserved_sell_qty"] = s.OpenOrders.Reserved(sym)
	}
	c.JSON(http.StatusOK, resp)
}

// getPositions returns the last committed ledger snapshot. With
// refresh=true the order history is fetched first if it is stale.
func (s *Server) getPositions(c *gin.Context) {
	if c.Query("refresh") == "true" && s.Scheduler != nil {
		if err := s.Scheduler.EnsureFresh(c.Request.Context(), freshness.FeedOrderHistory); err != nil {
			log.Warn().Err(err).Msg("positions: history refresh failed, serving last snapshot")
		}
	}
	snap := s.Ledger.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"positions": snap.Positions,
		"anomalies": snap.Anomalies,
		"seq":       snap.Seq,
		"built_at":  snap.BuiltAt,
		"state":     s.feedState(freshness.FeedOrderHistory),
	})
}

// closePosition market-sells the full ledger quantity of a symbol.
func (s *Server) closePosition(c *gin.Context) {
	ex, err := s.Pipeline.ClosePosition(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		respondPipelineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ex)
}

func (s *Server) getBalance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"balance": s.BalanceMgr.GetBalance(),
		"state":   s.feedState(freshness.FeedBalance),
	})
}

func (s *Server) getFreshness(c *gin.Context) {
	if s.Scheduler == nil {
		respondError(c, http.StatusServiceUnavailable, "SCHEDULER_UNAVAILABLE", "freshness scheduler not running")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"visible": s.Scheduler.Visible(),
		"feeds":   s.Scheduler.Status(),
	})
}

// refreshFeed forces one feed to be fetched now.
func (s *Server) refreshFeed(c *gin.Context) {
	if s.Scheduler == nil {
		respondError(c, http.StatusServiceUnavailable, "SCHEDULER_UNAVAILABLE", "freshness scheduler not running")
		return
	}
	feed := freshness.Feed(c.Param("feed"))
	if s.Scheduler.State(feed) == "" {
		respondError(c, http.StatusNotFound, "UNKNOWN_FEED", "unknown feed "+string(feed))
		return
	}
	start := time.Now()
	if err := s.Scheduler.Refresh(c.Request.Context(), feed); err != nil {
		respondError(c, http.StatusBadGateway, "REFRESH_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"feed": feed, "state": s.Scheduler.State(feed), "took_ms": time.Since(start).Milliseconds()})
}

// setView tells the scheduler whether anyone is looking. Hidden views stop
// all polling.
func (s *Server) setView(c *gin.Context) {
	if s.Scheduler == nil {
		respondError(c, http.StatusServiceUnavailable, "SCHEDULER_UNAVAILABLE", "freshness scheduler not running")
		return
	}
	var req setViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", `body must be {"visible": bool}`)
		return
	}
	s.Scheduler.SetVisible(*req.Visible)
	c.JSON(http.StatusOK, gin.H{"visible": s.Scheduler.Visible()})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	resp := gin.H{
		"meta":      s.Meta,
		"positions": len(s.Ledger.Snapshot().Positions),
	}
	if s.Scheduler != nil {
		resp["visible"] = s.Scheduler.Visible()
	}
	if s.Bus != nil {
		resp["dropped_events"] = s.Bus.Dropped()
	}
	if s.Prices != nil {
		resp["cached_prices"] = s.Prices.Len()
	}
	c.JSON(http.StatusOK, resp)
}

// getPrices returns the last cached price per symbol.
func (s *Server) getPrices(c *gin.Context) {
	if s.Prices == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	if sym := c.Query("symbol"); sym != "" {
		p, age, ok := s.Prices.GetWithAge(strings.ToUpper(sym))
		if !ok {
			respondError(c, http.StatusNotFound, "NO_PRICE", "no cached price for "+sym)
			return
		}
		c.JSON(http.StatusOK, gin.H{"symbol": strings.ToUpper(sym), "price": p, "age_ms": age.Milliseconds()})
		return
	}
	c.JSON(http.StatusOK, s.Prices.GetAll())
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not configured")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) feedState(feed freshness.Feed) freshness.State {
	if s.Scheduler == nil {
		return ""
	}
	return s.Scheduler.State(feed)
}
