// Package app assembles the execution core from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"execution-core/internal/api"
	"execution-core/internal/balance"
	"execution-core/internal/events"
	"execution-core/internal/freshness"
	"execution-core/internal/gateway"
	"execution-core/internal/ledger"
	"execution-core/internal/monitor"
	"execution-core/internal/openorders"
	"execution-core/internal/order"
	"execution-core/internal/pipeline"
	"execution-core/internal/reconciliation"
	"execution-core/internal/risk"
	"execution-core/internal/stream"
	"execution-core/internal/symbol"
	"execution-core/pkg/cache"
	"execution-core/pkg/config"
	"execution-core/pkg/db"
	"execution-core/pkg/i18n"
	market "execution-core/pkg/market/binance"
	"execution-core/pkg/trace"
)

// App holds every long-lived component.
type App struct {
	Config  *config.Config
	Version string

	DB         *db.Database
	Venue      gateway.Venue
	Prices     *cache.ShardedPriceCache
	Bus        *events.Bus
	Funds      *balance.Manager
	Ledger     *ledger.Ledger
	OpenOrders *openorders.Book
	Scheduler  *freshness.Scheduler
	Pipeline   *pipeline.Service
	Metrics    *monitor.SystemMetrics
	Reconciler *reconciliation.Service
}

// SetupLogging configures the global zerolog logger.
func SetupLogging(level, format string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// New builds the application. reg receives the Prometheus collectors and
// may be nil for one-shot commands.
func New(cfg *config.Config, version string, reg prometheus.Registerer) (*App, error) {
	i18n.SetLanguage(i18n.Language(cfg.Language))

	if dir := filepath.Dir(cfg.DBPath); cfg.DBPath != ":memory:" && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	log.Info().Msgf(i18n.Get("UsingDBPath"), cfg.DBPath)
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf(i18n.Get("DBInitFailed"), err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		database.Close()
		return nil, fmt.Errorf(i18n.Get("DBMigrationsFailed"), err)
	}

	riskMgr, err := risk.NewManager(database.DB, risk.Config{
		StopLossPct:   cfg.GlobalStopLossPct,
		TakeProfitPct: cfg.GlobalTakeProfitPct,
	})
	if err != nil {
		database.Close()
		return nil, err
	}
	loadStrategyDefaults(riskMgr, cfg.StrategyConfig)

	prices := cache.NewShardedPriceCache()
	venue, err := gateway.New(cfg, prices)
	if err != nil {
		database.Close()
		return nil, err
	}
	if cfg.DryRun {
		log.Warn().Msg(i18n.Get("DryRunMode"))
	}
	log.Info().Msgf(i18n.Get("VenueSelected"), venue.Adapter.Name(), venue.Market())

	a := &App{
		Config:     cfg,
		Version:    version,
		DB:         database,
		Venue:      venue,
		Prices:     prices,
		Bus:        events.NewBus(),
		Funds:      balance.NewManager(venue.Adapter),
		Ledger:     ledger.New(venue.Adapter),
		OpenOrders: openorders.New(venue.Adapter),
		Metrics:    monitor.NewSystemMetrics(reg),
	}
	a.Ledger.OnCommit = func(s ledger.Snapshot) { a.Bus.Publish(events.EventLedgerUpdated, s) }

	a.Scheduler = freshness.New(freshness.Config{
		StaleAfter:        cfg.BalanceStaleAfter,
		PushStaleAfter:    cfg.PushBalanceStaleAfter,
		HistoryStaleAfter: cfg.HistoryStaleAfter,
	}, map[freshness.Feed]freshness.Fetcher{
		freshness.FeedBalance:    a.Funds.Sync,
		freshness.FeedOpenOrders: a.OpenOrders.Refresh,
		freshness.FeedOrderHistory: func(ctx context.Context) error {
			_, _, err := a.Ledger.Recompute(ctx)
			return err
		},
	}, freshness.Hooks{
		OnRefresh: func(feed freshness.Feed, err error, took time.Duration) {
			a.Metrics.ObserveRefresh(string(feed), err, took)
			ev := events.FeedRefreshed{Feed: string(feed), Took: took, Time: time.Now().UTC()}
			if err != nil {
				ev.Err = err.Error()
			}
			a.Bus.Publish(events.EventFeedRefreshed, ev)
		},
		OnShared: func(feed freshness.Feed) { a.Metrics.ObserveCoalesced(string(feed)) },
	})

	quote := ""
	if venue.Market() == "spot" {
		quote = cfg.Quote
	}
	exec := order.NewExecutor(venue.Adapter, database, a.Bus)
	exec.Funds = a.Funds
	exec.Metrics = a.Metrics

	a.Pipeline = &pipeline.Service{
		Adapter:        venue.Adapter,
		Normalizer:     symbol.New(nil, quote),
		Risk:           riskMgr,
		Builder:        order.NewBuilder(venue.Adapter),
		Executor:       exec,
		Balance:        a.Funds,
		Ledger:         a.Ledger,
		Prices:         prices,
		Feeds:          a.Scheduler,
		Metrics:        a.Metrics,
		PriceMaxAge:    cfg.PriceMaxAge,
		DefaultRiskPct: cfg.DefaultRiskPct,
	}
	a.Reconciler = reconciliation.NewService(venue.Adapter, database, cfg.ReconcileInterval, 0)
	return a, nil
}

func loadStrategyDefaults(m *risk.Manager, path string) {
	if path == "" {
		return
	}
	defs, err := risk.LoadStrategyDefaults(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		log.Warn().Msgf(i18n.Get("StrategyDefaultsLoadFailed"), err)
		return
	}
	if err := m.Sync(context.Background(), defs); err != nil {
		log.Warn().Msgf(i18n.Get("StrategyDefaultsSyncFailed"), err)
		return
	}
	log.Info().Msgf(i18n.Get("StrategyDefaultsLoaded"), len(defs))
}

// Sync performs the initial balance and history fetches. Failures are
// logged and left to the scheduler.
func (a *App) Sync(ctx context.Context) {
	for _, feed := range []freshness.Feed{freshness.FeedBalance, freshness.FeedOpenOrders, freshness.FeedOrderHistory} {
		if err := a.Scheduler.Refresh(ctx, feed); err != nil {
			log.Warn().Msgf(i18n.Get("InitialSyncFailed"), feed, err)
		}
	}
}

// Start launches the background workers. They stop when ctx is done.
func (a *App) Start(ctx context.Context) {
	(&monitor.Monitor{Bus: a.Bus, Sink: monitor.LogSink{}, Metrics: a.Metrics}).Start(ctx)

	if a.Venue.Spot != nil && !a.Config.DryRun {
		us := &stream.BinanceUserStream{
			Source:    a.Venue.Spot,
			Feeds:     a.Scheduler,
			Bus:       a.Bus,
			Journal:   a.DB,
			OnBalance: a.Funds.Set,
		}
		go func() {
			if err := us.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("user stream stopped")
			}
		}()
		log.Info().Msg(i18n.Get("UserStreamStarted"))
	} else {
		log.Info().Msg(i18n.Get("UserStreamSkipped"))
	}

	if a.Config.PriceFeed && a.Venue.Market() == "spot" {
		feed := &market.PriceFeed{
			REST:    market.NewClient(a.Config.BinanceTestnet, ""),
			Stream:  market.NewStreamClient(a.Config.BinanceTestnet),
			Sink:    a.Prices,
			Symbols: a.Config.PriceSymbols,
		}
		go func() {
			if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("price feed stopped")
			}
		}()
	}

	go a.prunePrices(ctx, 5*time.Minute, time.Hour)

	if !a.Config.DryRun {
		a.Reconciler.Start(ctx)
	}
}

// prunePrices drops symbols that have not ticked for maxAge.
func (a *App) prunePrices(ctx context.Context, every, maxAge time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.Prices.Cleanup(maxAge); n > 0 {
				log.Debug().Int("removed", n).Msg("price cache pruned")
			}
		}
	}
}

// Server builds the HTTP API over the app.
func (a *App) Server(gatherer prometheus.Gatherer) *api.Server {
	cfg := a.Config
	return api.NewServer(&api.Server{
		Bus:        a.Bus,
		DB:         a.DB,
		Pipeline:   a.Pipeline,
		Ledger:     a.Ledger,
		OpenOrders: a.OpenOrders,
		BalanceMgr: a.Funds,
		Scheduler:  a.Scheduler,
		Prices:     a.Prices,
		Metrics:    a.Metrics,
		Gatherer:   gatherer,
		Meta: api.SystemMeta{
			DryRun:  cfg.DryRun,
			Venue:   a.Venue.Adapter.Name(),
			Market:  a.Venue.Market(),
			Version: a.Version,
		},
	}, api.Options{
		RateLimit:   cfg.APIRateLimit,
		RateBurst:   cfg.APIRateBurst,
		Timeout:     cfg.RequestTimeout,
		CORSOrigins: cfg.CORSOrigins,
	})
}

// Close stops the scheduler and closes the database.
func (a *App) Close() {
	a.Scheduler.Stop()
	if err := a.DB.Close(); err != nil {
		log.Warn().Err(err).Msg("close database")
	}
}

// Serve runs the HTTP API until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, cfg *config.Config, version string) error {
	if err := trace.Init(trace.Config{Enabled: cfg.TracingEnabled, ServiceName: cfg.ServiceName, Version: version}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	if cfg.TracingEnabled {
		log.Info().Msgf(i18n.Get("TracingEnabled"), cfg.ServiceName)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = trace.Shutdown(shutdownCtx)
	}()

	a, err := New(cfg, version, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.Sync(ctx)
	a.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Server(prometheus.DefaultGatherer).Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf(i18n.Get("ServerListening"), cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf(i18n.Get("APIServerError"), err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg(i18n.Get("ShuttingDown"))
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}
