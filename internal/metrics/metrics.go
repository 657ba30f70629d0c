package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instrumentation for the daemon. All series
// live in a private registry so tests can run side by side without global
// registration conflicts.
type Metrics struct {
	registry *prometheus.Registry

	EntriesTotal       *prometheus.CounterVec
	FeedErrorsTotal    prometheus.Counter
	DetectionsTotal    prometheus.Counter
	Monitoring         prometheus.Gauge
	PushDeliveredTotal prometheus.Counter
	PushFailedTotal    prometheus.Counter
	TokensPrunedTotal  prometheus.Counter
	SinkErrorsTotal    *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentrilock",
			Subsystem: "feed",
			Name:      "entries_total",
			Help:      "Access log entries taken in, by source.",
		}, []string{"source"}),
		FeedErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentrilock",
			Subsystem: "feed",
			Name:      "errors_total",
			Help:      "Connection level feed failures.",
		}),
		DetectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentrilock",
			Name:      "detections_total",
			Help:      "Consecutive denial runs detected.",
		}),
		Monitoring: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentrilock",
			Name:      "monitoring",
			Help:      "1 while the live feed is healthy, 0 otherwise.",
		}),
		PushDeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentrilock",
			Subsystem: "push",
			Name:      "delivered_total",
			Help:      "Push notifications delivered to devices.",
		}),
		PushFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentrilock",
			Subsystem: "push",
			Name:      "failed_total",
			Help:      "Push deliveries that failed.",
		}),
		TokensPrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentrilock",
			Subsystem: "push",
			Name:      "tokens_pruned_total",
			Help:      "Stale device tokens removed after rejected deliveries.",
		}),
		SinkErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentrilock",
			Subsystem: "dispatch",
			Name:      "sink_errors_total",
			Help:      "Alert sink publish failures, by sink.",
		}, []string{"sink"}),
	}
	reg.MustRegister(
		m.EntriesTotal,
		m.FeedErrorsTotal,
		m.DetectionsTotal,
		m.Monitoring,
		m.PushDeliveredTotal,
		m.PushFailedTotal,
		m.TokensPrunedTotal,
		m.SinkErrorsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
