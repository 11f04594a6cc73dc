package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_alerts"

// Metrics holds the Prometheus collectors shared by the evaluator and gateway.
type Metrics struct {
	// Evaluation cycle.
	Cycles          *prometheus.CounterVec // labels: outcome={completed,empty,skipped,failed}
	CycleDuration   prometheus.Histogram
	AlertsTriggered prometheus.Counter

	// Upstream weather provider.
	WeatherFetches *prometheus.CounterVec // labels: outcome={success,rate_limited,error}
	RateLimited    prometheus.Gauge

	// Realtime delivery.
	MonitoredUsers  prometheus.Gauge
	ActiveSessions  prometheus.Gauge
	EventsPublished *prometheus.CounterVec // labels: event
	StatusRelayed   *prometheus.CounterVec // labels: outcome={relayed,decode_error,publish_error}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.Cycles,
		m.CycleDuration,
		m.AlertsTriggered,
		m.WeatherFetches,
		m.RateLimited,
		m.MonitoredUsers,
		m.ActiveSessions,
		m.EventsPublished,
		m.StatusRelayed,
	)
	return m
}

// NewMetricsForTesting creates unregistered metrics so tests can build as many
// instances as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_cycles_total",
			Help:      "Alert evaluation cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_cycle_duration_seconds",
			Help:      "Duration of the evaluate-and-mark phase of a cycle, excluding the trigger hold.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		AlertsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_triggered_total",
			Help:      "Alerts whose condition held during an evaluation cycle.",
		}),
		WeatherFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_fetches_total",
			Help:      "Upstream realtime weather requests by outcome.",
		}, []string{"outcome"}),
		RateLimited: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_rate_limited",
			Help:      "1 while the location monitor runs at the rate-limited cadence.",
		}),
		MonitoredUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitored_users",
			Help:      "Users with an active location monitor loop.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_sessions",
			Help:      "Identified client sessions connected to this gateway.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Realtime events published to user channels.",
		}, []string{"event"}),
		StatusRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_relay_total",
			Help:      "Alert status messages consumed by the relay, by outcome.",
		}, []string{"outcome"}),
	}
}
