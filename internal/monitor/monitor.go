package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"execution-core/internal/events"
	"execution-core/internal/ledger"
)

// Monitor watches the bus for broker rejections and ledger anomalies and
// forwards them to a sink.
type Monitor struct {
	Bus     *events.Bus
	Sink    AlertSink
	Metrics *SystemMetrics
}

// Start subscribes and returns immediately. Work stops when ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		log.Warn().Msg("monitor not fully configured; skipping")
		return
	}
	rejected, unsubRejected := m.Bus.Subscribe(events.EventOrderRejected, 50)
	updated, unsubUpdated := m.Bus.Subscribe(events.EventLedgerUpdated, 8)
	go func() {
		defer unsubRejected()
		defer unsubUpdated()
		seen := make(map[string]struct{})
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-rejected:
				if !ok {
					return
				}
				if ev, ok := msg.(events.OrderEvent); ok {
					m.send(formatRejection(ev))
				}
			case msg, ok := <-updated:
				if !ok {
					return
				}
				snap, ok := msg.(ledger.Snapshot)
				if !ok {
					continue
				}
				fresh := 0
				for _, a := range snap.Anomalies {
					key := a.Symbol + "/" + a.OrderID
					if _, dup := seen[key]; dup {
						continue
					}
					seen[key] = struct{}{}
					fresh++
					m.send(formatAnomaly(a))
				}
				if m.Metrics != nil {
					m.Metrics.ObserveAnomalies(fresh)
				}
			}
		}
	}()
}

func (m *Monitor) send(msg string) {
	if err := m.Sink.Send(msg); err != nil {
		log.Error().Err(err).Msg("monitor: alert delivery failed")
	}
}

func formatRejection(ev events.OrderEvent) string {
	return fmt.Sprintf("[%s] %s %s %s rejected: %s %s",
		ev.Time.Format(time.RFC3339), ev.Venue, ev.Request.Side, ev.Request.Symbol, ev.Code, ev.Message)
}

func formatAnomaly(a ledger.Anomaly) string {
	return fmt.Sprintf("[%s] ledger: sell %s on %s exceeds tracked quantity by %g",
		a.At.Format(time.RFC3339), a.OrderID, a.Symbol, a.Excess)
}
