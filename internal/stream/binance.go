// Package stream consumes a venue's account push channel and turns its
// events into freshness updates.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"execution-core/internal/events"
	"execution-core/internal/freshness"
)

// ListenKeySource manages the Binance user data stream listen key.
type ListenKeySource interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error
	StreamURL(listenKey string) string
	Quote() string
}

// Feeds receives per-feed updates. Push means the pushed payload has been
// applied locally; Invalidate means the local copy is out of date and must
// be fetched again.
type Feeds interface {
	Push(feed freshness.Feed)
	Invalidate(feed freshness.Feed)
}

// StatusRecorder stores order status changes, e.g. the order journal.
type StatusRecorder interface {
	UpdateStatus(ctx context.Context, clientID, status string) error
}

// BinanceUserStream listens to the spot user data stream. A quote balance
// carried by an account event is applied and pushed; events whose payload
// is not applied here invalidate the feeds they affect.
type BinanceUserStream struct {
	Source    ListenKeySource
	Feeds     Feeds
	Bus       *events.Bus
	Journal   StatusRecorder
	OnBalance func(free float64) // quote asset free balance from a push

	KeepAlive      time.Duration
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
}

// Run connects and reconnects until ctx is done.
func (s *BinanceUserStream) Run(ctx context.Context) error {
	if s.Source == nil || s.Feeds == nil {
		return errors.New("stream: source and feeds are required")
	}
	delay := s.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Dur("retry_in", delay).Msg("user stream disconnected")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// session runs one listen key and websocket connection until it fails.
func (s *BinanceUserStream) session(ctx context.Context) error {
	listenKey, err := s.Source.CreateListenKey(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Source.CloseListenKey(closeCtx, listenKey); err != nil {
			log.Debug().Err(err).Msg("user stream: close listen key")
		}
	}()

	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, s.Source.StreamURL(listenKey), nil)
	if err != nil {
		return err
	}
	log.Info().Msg("user stream connected")

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessCtx.Done()
		conn.Close()
	}()
	go s.keepAlive(sessCtx, listenKey)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(sessCtx, msg)
	}
}

func (s *BinanceUserStream) keepAlive(ctx context.Context, listenKey string) {
	every := s.KeepAlive
	if every <= 0 {
		every = 30 * time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.Source.KeepAliveListenKey(ctx, listenKey); err != nil {
				log.Warn().Err(err).Msg("user stream keepalive failed")
			}
		}
	}
}

type balanceEntry struct {
	Asset  string `json:"a"`
	Free   string `json:"f"`
	Locked string `json:"l"`
}

type executionReport struct {
	Symbol        string `json:"s"`
	Side          string `json:"S"`
	Status        string `json:"X"`
	ExecutionType string `json:"x"`
	OrderID       int64  `json:"i"`
	ClientOrderID string `json:"c"`
}

func (s *BinanceUserStream) handleMessage(ctx context.Context, msg []byte) {
	// "e" is not always a string on every stream message
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(msg, &raw); err != nil {
		log.Warn().Err(err).Msg("user stream: unparseable message")
		return
	}
	var eventType string
	if v, ok := raw["e"]; !ok || json.Unmarshal(v, &eventType) != nil {
		return
	}

	switch eventType {
	case "outboundAccountPosition":
		var ev struct {
			Balances []balanceEntry `json:"B"`
		}
		if err := json.Unmarshal(msg, &ev); err != nil {
			log.Warn().Err(err).Msg("user stream: account position")
			return
		}
		applied := false
		for _, b := range ev.Balances {
			if b.Asset != s.Source.Quote() || s.OnBalance == nil {
				continue
			}
			free, err := strconv.ParseFloat(b.Free, 64)
			if err != nil {
				log.Warn().Err(err).Str("asset", b.Asset).Msg("user stream: balance amount")
				continue
			}
			s.OnBalance(free)
			applied = true
		}
		if applied {
			s.Feeds.Push(freshness.FeedBalance)
		} else {
			s.Feeds.Invalidate(freshness.FeedBalance)
		}
		s.Bus.Publish(events.EventAccountPush, events.AccountPush{Kind: "balance", Time: time.Now()})

	case "balanceUpdate":
		// a deposit or withdrawal carries a delta only, so the balance is refetched
		s.Feeds.Invalidate(freshness.FeedBalance)
		s.Bus.Publish(events.EventAccountPush, events.AccountPush{Kind: "balance", Time: time.Now()})

	case "executionReport":
		var rep executionReport
		if err := json.Unmarshal(msg, &rep); err != nil {
			log.Warn().Err(err).Msg("user stream: execution report")
			return
		}
		status := strings.ToUpper(rep.Status)
		if s.Journal != nil && rep.ClientOrderID != "" {
			if err := s.Journal.UpdateStatus(ctx, rep.ClientOrderID, status); err != nil {
				log.Warn().Err(err).Str("client_id", rep.ClientOrderID).Msg("user stream: journal update")
			}
		}
		// the report is not applied to the open-orders book
		s.Feeds.Invalidate(freshness.FeedOpenOrders)
		if strings.EqualFold(rep.ExecutionType, "TRADE") {
			s.Feeds.Invalidate(freshness.FeedOrderHistory)
		}
		push := events.AccountPush{
			Kind:    "order",
			Symbol:  rep.Symbol,
			OrderID: strconv.FormatInt(rep.OrderID, 10),
			Status:  status,
			Time:    time.Now(),
		}
		s.Bus.Publish(events.EventAccountPush, push)
		if status == "FILLED" {
			s.Bus.Publish(events.EventOrderFilled, push)
		}
	}
}
