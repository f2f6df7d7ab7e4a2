package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	ShuttingDown       string
	DryRunMode         string
	VenueSelected      string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	APIServerError     string
	TracingEnabled     string

	// Strategy defaults
	StrategyDefaultsLoaded     string
	StrategyDefaultsLoadFailed string
	StrategyDefaultsSyncFailed string

	// Feeds
	UserStreamStarted string
	UserStreamSkipped string
	InitialSyncFailed string

	// Validation, shown to the user before anything is sent
	InvalidSymbol       string
	InvalidSize         string
	InsufficientBalance string
	InvalidPrice        string
	BracketNotOffered   string
	InvalidOrder        string

	// Broker rejections, shown after a submission attempt
	RejectMinNotional   string
	RejectLotSize       string
	RejectFunds         string
	RejectMarketClosed  string
	RejectUnknownSymbol string
	RejectUnknown       string
	VenueUnavailable    string

	// Positions
	NoPosition string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting execution core...",
	ConfigLoaded:       "Config loaded (Port: %s)",
	UsingDBPath:        "Using DB path: %s",
	ServerListening:    "Server listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	DryRunMode:         "Running in DRY-RUN mode (orders will NOT hit the venue)",
	VenueSelected:      "Trading venue: %s (%s)",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	APIServerError:     "API server error: %v",
	TracingEnabled:     "Tracing enabled for service %s",

	// Strategy defaults
	StrategyDefaultsLoaded:     "Loaded %d strategy defaults",
	StrategyDefaultsLoadFailed: "Failed to load strategy defaults: %v",
	StrategyDefaultsSyncFailed: "Failed to sync strategy defaults to DB: %v",

	// Feeds
	UserStreamStarted: "Account push stream started",
	UserStreamSkipped: "Venue has no account push stream, polling only",
	InitialSyncFailed: "Initial %s sync failed: %v",

	// Validation
	InvalidSymbol:       "This signal does not name a tradable asset.",
	InvalidSize:         "The order size is below the smallest amount this venue accepts.",
	InsufficientBalance: "Your available balance does not cover this order.",
	InvalidPrice:        "This order type needs a positive price.",
	BracketNotOffered:   "Take-profit and stop-loss legs are only offered on market entries at this venue.",
	InvalidOrder:        "The order parameters are not valid for this venue.",

	// Broker rejections
	RejectMinNotional:   "The venue rejected the order: its total value is below the venue minimum.",
	RejectLotSize:       "The venue rejected the order: the quantity does not match the allowed lot size.",
	RejectFunds:         "The venue rejected the order: insufficient funds or buying power.",
	RejectMarketClosed:  "The venue rejected the order: the market is closed.",
	RejectUnknownSymbol: "The venue does not recognise this symbol.",
	RejectUnknown:       "The venue rejected the order.",
	VenueUnavailable:    "The venue could not be reached. Nothing was placed; please try again.",

	// Positions
	NoPosition: "There is no open position in %s.",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:           "啟動下單執行核心...",
	ConfigLoaded:       "設定已載入（埠號：%s）",
	UsingDBPath:        "使用資料庫路徑：%s",
	ServerListening:    "服務監聽於 :%s",
	ShuttingDown:       "正在優雅關閉...",
	DryRunMode:         "DRY-RUN 模式（不會送出真實委託）",
	VenueSelected:      "交易通道：%s（%s）",
	ConfigLoadFailed:   "讀取設定失敗：%v",
	DBInitFailed:       "初始化資料庫失敗：%v",
	DBMigrationsFailed: "套用資料庫遷移失敗：%v",
	APIServerError:     "API 伺服器錯誤：%v",
	TracingEnabled:     "已啟用追蹤，服務名稱 %s",

	// Strategy defaults
	StrategyDefaultsLoaded:     "已載入 %d 筆策略預設值",
	StrategyDefaultsLoadFailed: "讀取策略預設值失敗：%v",
	StrategyDefaultsSyncFailed: "同步策略預設值到資料庫失敗：%v",

	// Feeds
	UserStreamStarted: "帳戶推播已啟動",
	UserStreamSkipped: "此通道沒有帳戶推播，僅使用輪詢",
	InitialSyncFailed: "首次同步 %s 失敗：%v",

	// Validation
	InvalidSymbol:       "此訊號沒有可交易的標的。",
	InvalidSize:         "委託數量低於此通道的最小單位。",
	InsufficientBalance: "可用餘額不足以支付此委託。",
	InvalidPrice:        "此委託類型需要正數價格。",
	BracketNotOffered:   "此通道僅在市價進場時提供停利與停損子單。",
	InvalidOrder:        "委託參數不適用於此通道。",

	// Broker rejections
	RejectMinNotional:   "交易所拒絕委託：委託金額低於最低限制。",
	RejectLotSize:       "交易所拒絕委託：數量不符合最小變動單位。",
	RejectFunds:         "交易所拒絕委託：資金或購買力不足。",
	RejectMarketClosed:  "交易所拒絕委託：目前非交易時段。",
	RejectUnknownSymbol: "交易所不認得此標的。",
	RejectUnknown:       "交易所拒絕委託。",
	VenueUnavailable:    "無法連線至交易所，委託未送出，請稍後再試。",

	// Positions
	NoPosition: "%s 目前沒有持倉。",
}

// codeKeys maps error codes to message fields.
var codeKeys = map[string]string{
	"INVALID_SYMBOL":          "InvalidSymbol",
	"INVALID_SIZE":            "InvalidSize",
	"INSUFFICIENT_BALANCE":    "InsufficientBalance",
	"INVALID_PRICE":           "InvalidPrice",
	"BRACKET_NOT_OFFERED":     "BracketNotOffered",
	"INVALID_ORDER":           "InvalidOrder",
	"MIN_NOTIONAL":            "RejectMinNotional",
	"LOT_SIZE":                "RejectLotSize",
	"INSUFFICIENT_FUNDS":      "RejectFunds",
	"MARKET_CLOSED":           "RejectMarketClosed",
	"INVALID_SYMBOL_AT_VENUE": "RejectUnknownSymbol",
	"UNKNOWN":                 "RejectUnknown",
	"INTERNAL":                "VenueUnavailable",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}

// ForCode returns the user-facing wording for an error code. Unknown codes
// fall back to the generic rejection text.
func ForCode(code string) string {
	if key, ok := codeKeys[code]; ok {
		return Get(key)
	}
	return M().RejectUnknown
}
