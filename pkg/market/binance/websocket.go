package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// StreamClient manages lightweight streaming from Binance public websockets.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool) *StreamClient {
	host := "stream.binance.com:9443"
	if testnet {
		host = "testnet.binance.vision"
	}
	return &StreamClient{
		StreamURL: (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		dialer:    websocket.DefaultDialer,
	}
}

// SubscribeMiniTickers listens to the all-market mini ticker stream and
// emits one Ticker per symbol update. A non-empty symbols list filters the
// output. The channel closes when the connection ends or stop is called.
func (c *StreamClient) SubscribeMiniTickers(ctx context.Context, symbols []string) (<-chan Ticker, func(), error) {
	conn, _, err := c.dialer.DialContext(ctx, c.StreamURL+"/!miniTicker@arr", nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial binance ws mini tickers: %w", err)
	}

	var want map[string]bool
	if len(symbols) > 0 {
		want = make(map[string]bool, len(symbols))
		for _, s := range symbols {
			want[strings.ToUpper(s)] = true
		}
	}

	out := make(chan Ticker, 256)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		defer close(done)
		defer stop()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
					!strings.Contains(err.Error(), "use of closed network connection") {
					log.Warn().Err(err).Msg("binance ws mini ticker read error")
				}
				return
			}

			tickers, err := parseMiniTickers(msg)
			if err != nil {
				log.Debug().Err(err).Msg("binance ws mini ticker parse error")
				continue
			}
			for _, t := range tickers {
				if want != nil && !want[t.Symbol] {
					continue
				}
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, stop, nil
}

// parseMiniTickers decodes only the fields we need. The stream sends an
// array; a single object is accepted too.
func parseMiniTickers(msg []byte) ([]Ticker, error) {
	type raw struct {
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		Close     any    `json:"c"`
	}
	var rows []raw
	if err := json.Unmarshal(msg, &rows); err != nil {
		var one raw
		if err2 := json.Unmarshal(msg, &one); err2 != nil {
			return nil, err
		}
		rows = []raw{one}
	}

	out := make([]Ticker, 0, len(rows))
	for _, r := range rows {
		p := toFloat(r.Close)
		if r.Symbol == "" || p <= 0 {
			continue
		}
		out = append(out, Ticker{Symbol: r.Symbol, Price: p, Time: time.UnixMilli(r.EventTime).UTC()})
	}
	return out, nil
}
