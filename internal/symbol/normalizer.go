// Package symbol maps display-form asset identifiers to the canonical symbol
// a venue's API expects.
package symbol

import (
	"fmt"
	"strings"
	"unicode"

	"execution-core/internal/tradeerr"
	"execution-core/pkg/exchanges/common"
)

// DefaultQuotes are the quote currencies stripped from spot identifiers,
// longest first so "BUSD" wins over "USD".
var DefaultQuotes = []string{"USDT", "BUSD", "USDC", "USD"}

// Normalizer resolves raw signal identifiers for one quote convention.
type Normalizer struct {
	quotes     []string
	venueQuote string
}

// New creates a Normalizer. An empty quote list uses DefaultQuotes and an
// empty venueQuote uses USDT.
func New(quotes []string, venueQuote string) *Normalizer {
	if len(quotes) == 0 {
		quotes = DefaultQuotes
	}
	qs := make([]string, 0, len(quotes))
	for _, q := range quotes {
		if q = strings.ToUpper(strings.TrimSpace(q)); q != "" {
			qs = append(qs, q)
		}
	}
	// longest suffix first
	for i := 1; i < len(qs); i++ {
		for j := i; j > 0 && len(qs[j]) > len(qs[j-1]); j-- {
			qs[j], qs[j-1] = qs[j-1], qs[j]
		}
	}
	if venueQuote == "" {
		venueQuote = "USDT"
	}
	return &Normalizer{quotes: qs, venueQuote: strings.ToUpper(venueQuote)}
}

var defaultNormalizer = New(nil, "")

// Normalize resolves raw with the default quote list.
func Normalize(raw string, venue common.Venue) (string, error) {
	return defaultNormalizer.Normalize(raw, venue)
}

// Normalize returns the canonical venue symbol for raw.
func (n *Normalizer) Normalize(raw string, venue common.Venue) (string, error) {
	switch venue {
	case common.VenueEquities:
		s := strings.ToUpper(strings.TrimSpace(raw))
		if s == "" {
			return "", fmt.Errorf("%w: empty ticker", tradeerr.ErrInvalidSymbol)
		}
		return s, nil
	case common.VenueSpot:
		base := n.base(raw)
		if base == "" {
			return "", fmt.Errorf("%w: %q has no tradable base asset", tradeerr.ErrInvalidSymbol, raw)
		}
		return base + n.venueQuote, nil
	default:
		return "", fmt.Errorf("%w: unknown venue %q", tradeerr.ErrInvalidSymbol, venue)
	}
}

// BaseAsset returns the base asset of a canonical spot pair.
func (n *Normalizer) BaseAsset(symbol string) string {
	return n.base(symbol)
}

// BaseAsset returns the base asset of symbol using the default quotes.
func BaseAsset(symbol string) string {
	return defaultNormalizer.base(symbol)
}

// QuoteAsset is the quote currency the venue settles in.
func (n *Normalizer) QuoteAsset() string { return n.venueQuote }

func (n *Normalizer) base(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	s := b.String()
	for _, q := range n.quotes {
		if strings.HasSuffix(s, q) {
			return strings.TrimSuffix(s, q)
		}
	}
	return s
}
