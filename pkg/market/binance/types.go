package market

import (
	"strconv"
	"time"
)

// Ticker is the last trade price of one symbol.
type Ticker struct {
	Symbol string
	Price  float64
	Time   time.Time
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	}
	return 0
}
