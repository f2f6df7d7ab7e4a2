package monitor

import "github.com/prometheus/client_golang/prometheus"

// Prometheus holds the exported collectors.
type Prometheus struct {
	Submissions   *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	Refreshes     *prometheus.CounterVec
	Coalesced     *prometheus.CounterVec
	Anomalies     prometheus.Counter
	SubmitLatency *prometheus.HistogramVec
}

// NewPrometheus creates the collectors and registers them on reg.
func NewPrometheus(reg prometheus.Registerer) Prometheus {
	p := Prometheus{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "execution",
			Name:      "order_submissions_total",
			Help:      "Order submissions by venue and outcome.",
		}, []string{"venue", "outcome"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "execution",
			Name:      "order_rejections_total",
			Help:      "Rejected orders by error code.",
		}, []string{"venue", "code"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "execution",
			Name:      "feed_refreshes_total",
			Help:      "Account feed refreshes by feed and outcome.",
		}, []string{"feed", "outcome"}),
		Coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "execution",
			Name:      "feed_refreshes_coalesced_total",
			Help:      "Refresh requests answered by an in-flight fetch.",
		}, []string{"feed"}),
		Anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "execution",
			Name:      "ledger_anomalies_total",
			Help:      "Sells found to exceed the tracked position.",
		}),
		SubmitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "execution",
			Name:      "order_submit_seconds",
			Help:      "Venue round trip for order submission.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"venue"}),
	}
	if reg != nil {
		reg.MustRegister(p.Submissions, p.Rejections, p.Refreshes, p.Coalesced, p.Anomalies, p.SubmitLatency)
	}
	return p
}
