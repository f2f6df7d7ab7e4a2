package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Venue names accepted by VENUE.
const (
	VenueBinanceSpot = "binance-spot"
	VenueAlpaca      = "alpaca"
	VenueKite        = "kite"
	VenuePaper       = "paper"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port string

	// Venue selection
	Venue string
	Quote string // quote asset for spot venues

	// Binance
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceSymbols   []string // tracked for history on top of held assets

	// Alpaca
	AlpacaKeyID   string
	AlpacaSecret  string
	AlpacaBaseURL string

	// Kite
	KiteAPIKey      string
	KiteAccessToken string
	KiteExchange    string
	KiteProduct     string

	// Execution
	DryRun bool

	// Dry-run simulation
	DryRunInitialBalance float64
	DryRunVenue          string  // SPOT or EQUITIES
	DryRunFeeRate        float64 // decimal (e.g. 0.0004 = 4 bps)
	DryRunSlippageBps    float64 // slippage applied on fills (bps)
	DryRunGwLatencyMinMs int     // simulated gateway latency lower bound
	DryRunGwLatencyMaxMs int     // simulated gateway latency upper bound

	// Database
	DBPath            string
	ReconcileInterval time.Duration // pending journal rows are settled this often

	// Freshness thresholds
	BalanceStaleAfter     time.Duration
	PushBalanceStaleAfter time.Duration
	HistoryStaleAfter     time.Duration

	// Risk defaults
	StrategyConfig      string
	GlobalStopLossPct   float64
	GlobalTakeProfitPct float64
	DefaultRiskPct      float64
	PriceMaxAge         time.Duration

	// Market data
	PriceFeed    bool     // stream Binance public tickers into the price cache
	PriceSymbols []string // empty streams every symbol

	// HTTP
	APIRateLimit   float64 // requests per second per client
	APIRateBurst   int
	RequestTimeout time.Duration
	CORSOrigins    []string

	// Observability
	LogLevel       string
	LogFormat      string // "json" or "console"
	TracingEnabled bool
	ServiceName    string

	// Localization
	Language string // "en" or "zh"
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		Venue:                 strings.ToLower(getEnv("VENUE", VenuePaper)),
		Quote:                 strings.ToUpper(getEnv("QUOTE_ASSET", "USDT")),
		BinanceTestnet:        getEnvBool("BINANCE_TESTNET", false),
		BinanceAPIKey:         os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:      os.Getenv("BINANCE_API_SECRET"),
		BinanceSymbols:        splitAndTrim(getEnv("BINANCE_SYMBOLS", "BTCUSDT,ETHUSDT")),
		AlpacaKeyID:           os.Getenv("ALPACA_API_KEY_ID"),
		AlpacaSecret:          os.Getenv("ALPACA_API_SECRET_KEY"),
		AlpacaBaseURL:         getEnv("ALPACA_BASE_URL", "https://paper-api.alpaca.markets"),
		KiteAPIKey:            os.Getenv("KITE_API_KEY"),
		KiteAccessToken:       os.Getenv("KITE_ACCESS_TOKEN"),
		KiteExchange:          getEnv("KITE_EXCHANGE", "NSE"),
		KiteProduct:           getEnv("KITE_PRODUCT", "CNC"),
		DryRun:                getEnvBool("DRY_RUN", false),
		DryRunInitialBalance:  getEnvFloat("DRY_RUN_INITIAL_BALANCE", 10000.0),
		DryRunVenue:           strings.ToUpper(getEnv("DRY_RUN_VENUE", "SPOT")),
		DryRunFeeRate:         getEnvFloat("DRY_RUN_FEE_RATE", 0.0004),
		DryRunSlippageBps:     getEnvFloat("DRY_RUN_SLIPPAGE_BPS", 2),
		DryRunGwLatencyMinMs:  getEnvInt("DRY_RUN_GATEWAY_LATENCY_MIN_MS", 0),
		DryRunGwLatencyMaxMs:  getEnvInt("DRY_RUN_GATEWAY_LATENCY_MAX_MS", 0),
		DBPath:                getEnv("DB_PATH", "./data/execution.db"),
		ReconcileInterval:     getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
		BalanceStaleAfter:     getEnvDuration("BALANCE_STALE_AFTER", 30*time.Second),
		PushBalanceStaleAfter: getEnvDuration("PUSH_BALANCE_STALE_AFTER", 60*time.Second),
		HistoryStaleAfter:     getEnvDuration("HISTORY_STALE_AFTER", 5*time.Minute),
		StrategyConfig:        getEnv("STRATEGY_CONFIG", "./strategies.yaml"),
		GlobalStopLossPct:     getEnvFloat("GLOBAL_STOP_LOSS_PCT", 5),
		GlobalTakeProfitPct:   getEnvFloat("GLOBAL_TAKE_PROFIT_PCT", 10),
		DefaultRiskPct:        getEnvFloat("DEFAULT_RISK_PCT", 2),
		PriceMaxAge:           getEnvDuration("PRICE_MAX_AGE", 10*time.Second),
		PriceFeed:             getEnvBool("PRICE_FEED", true),
		PriceSymbols:          splitAndTrim(getEnv("PRICE_SYMBOLS", "")),
		APIRateLimit:          getEnvFloat("API_RATE_LIMIT", 10),
		APIRateBurst:          getEnvInt("API_RATE_BURST", 20),
		RequestTimeout:        getEnvDuration("REQUEST_TIMEOUT", 15*time.Second),
		CORSOrigins:           splitAndTrim(getEnv("CORS_ORIGINS", "*")),
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:             strings.ToLower(getEnv("LOG_FORMAT", "json")),
		TracingEnabled:        getEnvBool("TRACING_ENABLED", false),
		ServiceName:           getEnv("SERVICE_NAME", "execution-core"),
		Language:              getEnv("LANGUAGE", "en"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Venue {
	case VenuePaper:
	case VenueBinanceSpot:
		if !c.DryRun && (c.BinanceAPIKey == "" || c.BinanceAPISecret == "") {
			return fmt.Errorf("config: %s needs BINANCE_API_KEY and BINANCE_API_SECRET", c.Venue)
		}
	case VenueAlpaca:
		if !c.DryRun && (c.AlpacaKeyID == "" || c.AlpacaSecret == "") {
			return fmt.Errorf("config: %s needs ALPACA_API_KEY_ID and ALPACA_API_SECRET_KEY", c.Venue)
		}
	case VenueKite:
		if !c.DryRun && (c.KiteAPIKey == "" || c.KiteAccessToken == "") {
			return fmt.Errorf("config: %s needs KITE_API_KEY and KITE_ACCESS_TOKEN", c.Venue)
		}
	default:
		return fmt.Errorf("config: unknown VENUE %q", c.Venue)
	}
	if c.GlobalStopLossPct < 0 || c.GlobalTakeProfitPct < 0 {
		return fmt.Errorf("config: global exit percentages must not be negative")
	}
	if c.DryRunVenue != "SPOT" && c.DryRunVenue != "EQUITIES" {
		return fmt.Errorf("config: DRY_RUN_VENUE must be SPOT or EQUITIES, got %q", c.DryRunVenue)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
