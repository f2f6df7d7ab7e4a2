// Package signal turns loosely shaped strategy payloads into a strict Signal
// at the pipeline boundary.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"execution-core/pkg/exchanges/common"
)

// Confidence buckets a numeric strategy score.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// ConfidenceFromScore maps a 0..1 (or 0..100) score to a bucket.
func ConfidenceFromScore(score float64) Confidence {
	if score > 1 {
		score /= 100
	}
	switch {
	case score >= 0.7:
		return ConfidenceHigh
	case score >= 0.4:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Signal is an immutable trade recommendation.
type Signal struct {
	SymbolDisplay  string      `json:"symbol_display"`
	Side           common.Side `json:"side"`
	Confidence     Confidence  `json:"confidence"`
	Score          float64     `json:"score"`
	StopLossPct    *float64    `json:"suggested_stop_loss_pct"`
	TakeProfitPct  *float64    `json:"suggested_take_profit_pct"`
	ReferencePrice float64     `json:"reference_price"`
	RealtimePrice  *float64    `json:"realtime_price"`
	StrategyID     string      `json:"strategy_id,omitempty"`
	ReceivedAt     time.Time   `json:"received_at"`
}

// Price returns the realtime price when present, else the reference price.
func (s Signal) Price() float64 {
	if s.RealtimePrice != nil && *s.RealtimePrice > 0 {
		return *s.RealtimePrice
	}
	return s.ReferencePrice
}

var (
	ErrMissingSymbol = errors.New("signal has no symbol")
	ErrMissingSide   = errors.New("signal has no BUY/SELL side")
	ErrMissingPrice  = errors.New("signal has no positive price")
	ErrNotFinite     = errors.New("signal has a non-finite number")
)

var (
	symbolKeys   = []string{"symbol", "symbol_display", "asset", "asset_id", "ticker"}
	sideKeys     = []string{"side", "action", "signal"}
	scoreKeys    = []string{"confidence", "score"}
	stopKeys     = []string{"stop_loss_pct", "stopLoss", "stop_loss", "sl"}
	targetKeys   = []string{"take_profit_pct", "takeProfit", "take_profit", "tp"}
	priceKeys    = []string{"reference_price", "price", "entry_price"}
	realtimeKeys = []string{"realtime_price", "current_price", "last_price"}
	strategyKeys = []string{"strategy_id", "strategy"}
)

// ParseJSON decodes a raw JSON payload and parses it.
func ParseJSON(b []byte) (Signal, error) {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return Signal{}, fmt.Errorf("decode signal: %w", err)
	}
	return Parse(raw)
}

// Parse resolves field aliases and produces a strict Signal.
func Parse(raw map[string]any) (Signal, error) {
	sig := Signal{ReceivedAt: time.Now().UTC()}

	sym, _ := firstString(raw, symbolKeys)
	if strings.TrimSpace(sym) == "" {
		return Signal{}, ErrMissingSymbol
	}
	sig.SymbolDisplay = sym

	side, _ := firstString(raw, sideKeys)
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case "BUY", "LONG":
		sig.Side = common.SideBuy
	case "SELL", "SHORT":
		sig.Side = common.SideSell
	default:
		return Signal{}, fmt.Errorf("%w: got %q", ErrMissingSide, side)
	}

	if c, ok := firstString(raw, []string{"confidence"}); ok {
		switch Confidence(strings.ToUpper(c)) {
		case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
			sig.Confidence = Confidence(strings.ToUpper(c))
		}
	}
	for _, keys := range [][]string{scoreKeys, stopKeys, targetKeys, realtimeKeys, priceKeys} {
		if v, ok := firstNumber(raw, keys); ok && (math.IsNaN(v) || math.IsInf(v, 0)) {
			return Signal{}, fmt.Errorf("%w: %s", ErrNotFinite, keys[0])
		}
	}

	if sig.Confidence == "" {
		if score, ok := firstNumber(raw, scoreKeys); ok {
			sig.Score = score
			sig.Confidence = ConfidenceFromScore(score)
		} else {
			sig.Confidence = ConfidenceLow
		}
	}

	if v, ok := firstNumber(raw, stopKeys); ok && v >= 0 {
		sig.StopLossPct = &v
	}
	if v, ok := firstNumber(raw, targetKeys); ok && v >= 0 {
		sig.TakeProfitPct = &v
	}
	if v, ok := firstNumber(raw, realtimeKeys); ok && v > 0 {
		sig.RealtimePrice = &v
	}
	if v, ok := firstNumber(raw, priceKeys); ok && v > 0 {
		sig.ReferencePrice = v
	} else if sig.RealtimePrice != nil {
		sig.ReferencePrice = *sig.RealtimePrice
	} else {
		return Signal{}, ErrMissingPrice
	}

	sig.StrategyID, _ = firstString(raw, strategyKeys)
	return sig, nil
}

func firstString(raw map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if v != "" {
				return v, true
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		}
	}
	return "", false
}

func firstNumber(raw map[string]any, keys []string) (float64, bool) {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
