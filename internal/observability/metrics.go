package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sentinel_ingest"

// Drop reasons used as the "reason" label on EventsDropped.
const (
	DropMalformed  = "malformed"
	DropMissingID  = "missing_id"
	DropNoLocation = "no_location"
)

// Metrics holds the Prometheus counters and gauges for stream ingestion.
type Metrics struct {
	EventsReceived prometheus.Counter
	EventsDropped  *prometheus.CounterVec // labels: reason={malformed,missing_id,no_location}
	RecordsWritten prometheus.Counter
	SinkErrors     *prometheus.CounterVec // labels: sink
	Reconnects     prometheus.Counter
	StreamState    prometheus.Gauge

	// Resolution breakdown for accepted records.
	LocationsResolved *prometheus.CounterVec // labels: kind={exact,centroid}

	// Fetch endpoint.
	FetchRequests *prometheus.CounterVec // labels: outcome={success,error}
	FetchedItems  prometheus.Histogram
}

// NewMetrics creates and registers all ingestion metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.EventsReceived,
		m.EventsDropped,
		m.RecordsWritten,
		m.SinkErrors,
		m.Reconnects,
		m.StreamState,
		m.LocationsResolved,
		m.FetchRequests,
		m.FetchedItems,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total raw events read from the stream transport.",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Raw events rejected during normalization or geolocation.",
		}, []string{"reason"}),
		RecordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Normalized records accepted by the sink.",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed sink writes by sink.",
		}, []string{"sink"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Transport disruptions that triggered a reconnect.",
		}),
		StreamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_state",
			Help:      "Consumer state: 0 disconnected, 1 connecting, 2 streaming, 3 reconnecting, 4 terminated.",
		}),
		LocationsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locations_resolved_total",
			Help:      "Accepted records by location kind.",
		}, []string{"kind"}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Fetch endpoint requests by outcome.",
		}, []string{"outcome"}),
		FetchedItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_items",
			Help:      "Number of texts returned per fetch request.",
			Buckets:   []float64{0, 1, 5, 10, 20, 30, 50, 100},
		}),
	}
}
