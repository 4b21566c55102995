package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusEngine implements Engine on a prometheus registry.
type PrometheusEngine struct {
	fetchFailures   *prometheus.CounterVec
	fetchTime       prometheus.Histogram
	rejectedBids    *prometheus.CounterVec
	skippedAuctions prometheus.Counter
	delayedAuctions prometheus.Counter
}

// NewPrometheusEngine registers the floor metrics on the given registry and
// returns the engine. The registry must not be nil.
func NewPrometheusEngine(registry *prometheus.Registry) *PrometheusEngine {
	engine := &PrometheusEngine{
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floors_fetch_failures",
			Help: "Count of failed dynamic floor fetches by URL and failure code.",
		}, []string{"url", "code"}),
		fetchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "floors_fetch_time_seconds",
			Help:    "Seconds to complete a dynamic floor fetch attempt.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		rejectedBids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floors_rejected_bids",
			Help: "Count of bid responses rejected by floor enforcement, by bidder.",
		}, []string{"bidder"}),
		skippedAuctions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floors_skipped_auctions",
			Help: "Count of auctions bypassed by the floor skip rate.",
		}),
		delayedAuctions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floors_delayed_auctions",
			Help: "Count of auctions delayed behind an in-flight floor fetch.",
		}),
	}

	registry.MustRegister(
		engine.fetchFailures,
		engine.fetchTime,
		engine.rejectedBids,
		engine.skippedAuctions,
		engine.delayedAuctions,
	)
	return engine
}

func (e *PrometheusEngine) RecordFloorFetchFailure(url string, code string) {
	e.fetchFailures.WithLabelValues(url, code).Inc()
}

func (e *PrometheusEngine) RecordFloorFetchTime(duration time.Duration) {
	e.fetchTime.Observe(duration.Seconds())
}

func (e *PrometheusEngine) RecordRejectedBid(bidder string) {
	e.rejectedBids.WithLabelValues(bidder).Inc()
}

func (e *PrometheusEngine) RecordSkippedAuction() {
	e.skippedAuctions.Inc()
}

func (e *PrometheusEngine) RecordDelayedAuction() {
	e.delayedAuctions.Inc()
}
