package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SystemMetrics tracks submission and refresh activity. Every observation
// feeds both the Prometheus collectors and an in-process snapshot served as
// JSON.
type SystemMetrics struct {
	prom Prometheus

	SubmitLatency  *LatencyHistogram
	RefreshLatency *LatencyHistogram

	submitted uint64
	accepted  uint64
	rejected  uint64
	refreshes uint64
	failures  uint64
	coalesced uint64
	anomalies uint64
}

// LatencyHistogram tracks latency samples in a sliding window.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates metrics registered on reg. A nil reg keeps the
// collectors unregistered, which tests rely on.
func NewSystemMetrics(reg prometheus.Registerer) *SystemMetrics {
	return &SystemMetrics{
		prom:           NewPrometheus(reg),
		SubmitLatency:  NewLatencyHistogram(1000),
		RefreshLatency: NewLatencyHistogram(1000),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts d to ms and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. They are recomputed only
// after new samples arrive.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}
	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// ObserveSubmit records one submission attempt. code is empty on success.
func (m *SystemMetrics) ObserveSubmit(venue, code string, took time.Duration) {
	atomic.AddUint64(&m.submitted, 1)
	m.SubmitLatency.RecordDuration(took)
	m.prom.SubmitLatency.WithLabelValues(venue).Observe(took.Seconds())
	if code == "" {
		atomic.AddUint64(&m.accepted, 1)
		m.prom.Submissions.WithLabelValues(venue, "accepted").Inc()
		return
	}
	atomic.AddUint64(&m.rejected, 1)
	m.prom.Submissions.WithLabelValues(venue, "rejected").Inc()
	m.prom.Rejections.WithLabelValues(venue, code).Inc()
}

// ObserveValidation records an order refused before reaching the venue.
func (m *SystemMetrics) ObserveValidation(venue, code string) {
	atomic.AddUint64(&m.rejected, 1)
	m.prom.Rejections.WithLabelValues(venue, code).Inc()
}

// ObserveRefresh records a feed refresh outcome.
func (m *SystemMetrics) ObserveRefresh(feed string, err error, took time.Duration) {
	atomic.AddUint64(&m.refreshes, 1)
	m.RefreshLatency.RecordDuration(took)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		atomic.AddUint64(&m.failures, 1)
	}
	m.prom.Refreshes.WithLabelValues(feed, outcome).Inc()
}

// ObserveCoalesced records a refresh that joined an in-flight fetch.
func (m *SystemMetrics) ObserveCoalesced(feed string) {
	atomic.AddUint64(&m.coalesced, 1)
	m.prom.Coalesced.WithLabelValues(feed).Inc()
}

// ObserveAnomalies adds n ledger anomalies.
func (m *SystemMetrics) ObserveAnomalies(n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&m.anomalies, uint64(n))
	m.prom.Anomalies.Add(float64(n))
}

// MetricsSnapshot is a point-in-time view of SystemMetrics.
type MetricsSnapshot struct {
	SubmitLatency     LatencyStats `json:"submit_latency"`
	RefreshLatency    LatencyStats `json:"refresh_latency"`
	OrdersSubmitted   uint64       `json:"orders_submitted"`
	OrdersAccepted    uint64       `json:"orders_accepted"`
	OrdersRejected    uint64       `json:"orders_rejected"`
	Refreshes         uint64       `json:"refreshes"`
	RefreshFailures   uint64       `json:"refresh_failures"`
	CoalescedRequests uint64       `json:"coalesced_requests"`
	LedgerAnomalies   uint64       `json:"ledger_anomalies"`
	GoroutineCount    int          `json:"goroutine_count"`
	HeapAlloc         uint64       `json:"heap_alloc_bytes"`
	Timestamp         time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		SubmitLatency:     m.SubmitLatency.Stats(),
		RefreshLatency:    m.RefreshLatency.Stats(),
		OrdersSubmitted:   atomic.LoadUint64(&m.submitted),
		OrdersAccepted:    atomic.LoadUint64(&m.accepted),
		OrdersRejected:    atomic.LoadUint64(&m.rejected),
		Refreshes:         atomic.LoadUint64(&m.refreshes),
		RefreshFailures:   atomic.LoadUint64(&m.failures),
		CoalescedRequests: atomic.LoadUint64(&m.coalesced),
		LedgerAnomalies:   atomic.LoadUint64(&m.anomalies),
		GoroutineCount:    runtime.NumGoroutine(),
		HeapAlloc:         memStats.HeapAlloc,
		Timestamp:         time.Now(),
	}
}
