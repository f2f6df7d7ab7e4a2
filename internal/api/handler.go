package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"execution-core/internal/balance"
	"execution-core/internal/events"
	"execution-core/internal/freshness"
	"execution-core/internal/ledger"
	"execution-core/internal/monitor"
	"execution-core/internal/openorders"
	"execution-core/internal/pipeline"
	"execution-core/pkg/cache"
	"execution-core/pkg/db"
)

// Server wires HTTP endpoints around the execution pipeline.
type Server struct {
	Router     *gin.Engine
	Bus        *events.Bus
	DB         *db.Database
	Pipeline   *pipeline.Service
	Ledger     *ledger.Ledger
	OpenOrders *openorders.Book
	BalanceMgr *balance.Manager
	Scheduler  *freshness.Scheduler
	Prices     *cache.ShardedPriceCache
	Metrics    *monitor.SystemMetrics
	Gatherer   prometheus.Gatherer
	Meta       SystemMeta
}

// SystemMeta describes runtime status exposed to callers.
type SystemMeta struct {
	DryRun  bool   `json:"dry_run"`
	Venue   string `json:"venue"`
	Market  string `json:"market"`
	Version string `json:"version"`
}

// Options tune the middleware stack.
type Options struct {
	RateLimit   float64 // requests per second per client IP
	RateBurst   int
	Timeout     time.Duration
	CORSOrigins []string
}

func NewServer(s *Server, opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 50
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	r := gin.New()
	limiter := NewIPRateLimiter(opts.RateLimit, opts.RateBurst)

	// Middleware stack (order matters!)
	r.Use(Recovery())                       // Panic recovery (first)
	r.Use(RequestIDMiddleware())            // Request ID tracking
	r.Use(RequestLogger())                  // Request logging (after ID is set)
	r.Use(limiter.Middleware())             // Rate limiting
	r.Use(TimeoutMiddleware(opts.Timeout))  // Venue calls inherit the deadline
	r.Use(CORSMiddleware(opts.CORSOrigins)) // CORS (last before routes)

	s.Router = r
	if s.Gatherer == nil {
		s.Gatherer = prometheus.DefaultGatherer
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		api.POST("/orders/preview", s.previewOrder)
		api.POST("/orders", s.createOrder)
		api.GET("/orders", s.getOrders)
		api.GET("/orders/open", s.getOpenOrders)

		api.GET("/positions", s.getPositions)
		api.POST("/positions/:symbol/close", s.closePosition)
		api.GET("/balance", s.getBalance)
		api.GET("/prices", s.getPrices)

		api.GET("/freshness", s.getFreshness)
		api.POST("/freshness/:feed/refresh", s.refreshFeed)
		api.POST("/view", s.setView)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "venue": s.Meta.Venue, "dry_run": s.Meta.DryRun})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
