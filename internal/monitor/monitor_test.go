package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/events"
	"execution-core/internal/ledger"
	"execution-core/pkg/exchanges/common"
)

type memSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *memSink) Send(m string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *memSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func TestObserveSubmit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSystemMetrics(reg)

	m.ObserveSubmit("paper", "", 20*time.Millisecond)
	m.ObserveSubmit("paper", "MIN_NOTIONAL", 30*time.Millisecond)
	m.ObserveValidation("paper", "INVALID_SIZE")

	snap := m.GetSnapshot()
	assert.Equal(t, uint64(2), snap.OrdersSubmitted)
	assert.Equal(t, uint64(1), snap.OrdersAccepted)
	assert.Equal(t, uint64(2), snap.OrdersRejected)
	assert.Equal(t, 2, snap.SubmitLatency.Count)
	assert.InDelta(t, 20, snap.SubmitLatency.Min, 0.001)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "execution_order_rejections_total")
	assert.Contains(t, names, "execution_order_submit_seconds")
}

func TestObserveRefresh(t *testing.T) {
	m := NewSystemMetrics(nil)
	m.ObserveRefresh("balance", nil, time.Millisecond)
	m.ObserveRefresh("balance", errors.New("timeout"), time.Millisecond)
	m.ObserveCoalesced("balance")

	snap := m.GetSnapshot()
	assert.Equal(t, uint64(2), snap.Refreshes)
	assert.Equal(t, uint64(1), snap.RefreshFailures)
	assert.Equal(t, uint64(1), snap.CoalescedRequests)
}

func TestLatencyHistogramWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{100, 1, 2, 3} {
		h.Record(v)
	}
	st := h.Stats()
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, 3.0, st.Max)
	assert.Equal(t, 2.0, st.Avg)
}

func TestMonitorAlerts(t *testing.T) {
	bus := events.NewBus()
	sink := &memSink{}
	m := &Monitor{Bus: bus, Sink: sink, Metrics: NewSystemMetrics(nil)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.EventOrderRejected, events.OrderEvent{
		Venue:   "binance-spot",
		Request: common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy},
		Code:    "MIN_NOTIONAL",
		Time:    time.Now(),
	})
	anomaly := ledger.Anomaly{Symbol: "SOLUSDT", OrderID: "42", Excess: 3, At: time.Now()}
	bus.Publish(events.EventLedgerUpdated, ledger.Snapshot{Anomalies: []ledger.Anomaly{anomaly}})

	require.Eventually(t, func() bool { return len(sink.all()) == 2 }, time.Second, time.Millisecond)

	// the same anomaly in the next rebuild is not reported twice
	bus.Publish(events.EventLedgerUpdated, ledger.Snapshot{Anomalies: []ledger.Anomaly{anomaly}})
	time.Sleep(20 * time.Millisecond)

	msgs := sink.all()
	require.Len(t, msgs, 2)
	joined := strings.Join(msgs, "\n")
	assert.Contains(t, joined, "MIN_NOTIONAL")
	assert.Contains(t, joined, "SOLUSDT")
	assert.Equal(t, uint64(1), m.Metrics.GetSnapshot().LedgerAnomalies)
}
