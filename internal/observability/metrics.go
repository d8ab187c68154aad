package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// beacon map console.
type Metrics struct {
	FeedMessages   *prometheus.CounterVec // labels: kind={ping,control,malformed}
	FeedReconnects prometheus.Counter
	FeedConnected  prometheus.Gauge

	// History store metrics.
	Evictions     prometheus.Counter
	HistoryLength prometheus.Gauge

	// Marker lifecycle metrics.
	MarkersCreated    prometheus.Counter
	MarkersDestroyed  prometheus.Counter
	MarkerFailures    prometheus.Counter
	MarkersLive       prometheus.Gauge
	ReconcileDuration prometheus.Histogram
}

// NewMetrics creates and registers all console metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FeedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon_map",
			Name:      "feed_messages_total",
			Help:      "Feed messages received, by classification kind.",
		}, []string{"kind"}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon_map",
			Name:      "feed_reconnects_total",
			Help:      "Total feed reconnection attempts.",
		}),
		FeedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon_map",
			Name:      "feed_connected",
			Help:      "1 when the feed transport is connected, 0 otherwise.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon_map",
			Name:      "history_evictions_total",
			Help:      "Total pings evicted from the bounded history store.",
		}),
		HistoryLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon_map",
			Name:      "history_length",
			Help:      "Number of pings currently held in the history store.",
		}),
		MarkersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon_map",
			Name:      "markers_created_total",
			Help:      "Total markers placed on the map surface.",
		}),
		MarkersDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon_map",
			Name:      "markers_destroyed_total",
			Help:      "Total markers removed from the map surface.",
		}),
		MarkerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon_map",
			Name:      "marker_failures_total",
			Help:      "Total marker or popup operations rejected by the widget.",
		}),
		MarkersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon_map",
			Name:      "markers_live",
			Help:      "Markers currently live on the map surface.",
		}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "beacon_map",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of one append-and-reconcile cycle.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}

	prometheus.MustRegister(
		m.FeedMessages,
		m.FeedReconnects,
		m.FeedConnected,
		m.Evictions,
		m.HistoryLength,
		m.MarkersCreated,
		m.MarkersDestroyed,
		m.MarkerFailures,
		m.MarkersLive,
		m.ReconcileDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		FeedMessages:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "beacon_map", Name: "feed_messages_total"}, []string{"kind"}),
		FeedReconnects:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "beacon_map", Name: "feed_reconnects_total"}),
		FeedConnected:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "beacon_map", Name: "feed_connected"}),
		Evictions:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "beacon_map", Name: "history_evictions_total"}),
		HistoryLength:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "beacon_map", Name: "history_length"}),
		MarkersCreated:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "beacon_map", Name: "markers_created_total"}),
		MarkersDestroyed:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "beacon_map", Name: "markers_destroyed_total"}),
		MarkerFailures:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "beacon_map", Name: "marker_failures_total"}),
		MarkersLive:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "beacon_map", Name: "markers_live"}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "beacon_map", Name: "reconcile_duration_seconds"}),
	}
}
