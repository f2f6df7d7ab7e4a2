package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"execution-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamedEvents are forwarded to /ws clients.
var streamedEvents = []events.Event{
	events.EventOrderAccepted,
	events.EventOrderRejected,
	events.EventOrderFilled,
	events.EventAccountPush,
	events.EventLedgerUpdated,
	events.EventFeedRefreshed,
}

type wsMessage struct {
	Event events.Event `json:"event"`
	Data  any          `json:"data"`
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade")
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	out := make(chan wsMessage, 64)
	for _, ev := range streamedEvents {
		ch, unsub := s.Bus.Subscribe(ev, 32)
		defer unsub()
		go func(ev events.Event, ch <-chan any) {
			for msg := range ch {
				select {
				case out <- wsMessage{Event: ev, Data: msg}:
				default:
				}
			}
		}(ev, ch)
	}

	// the reader only notices the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case msg := <-out:
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write")
				return
			}
		}
	}
}
