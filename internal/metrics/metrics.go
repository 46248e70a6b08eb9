// Package metrics exposes the ingester's operational counters and gauges as
// Prometheus collectors, replacing a hand-rolled atomic counter set with the
// registry used across the rest of the corpus's long-running services.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector the ingester publishes. Construct one
// with New and register it with a prometheus.Registerer (typically
// prometheus.DefaultRegisterer, wired up in cmd/ingestd).
type Registry struct {
	PagesFetched      prometheus.Counter
	ItemsClassified   *prometheus.CounterVec // labeled by category
	ItemsDropped      prometheus.Counter
	DecodeErrors      prometheus.Counter
	DriftReports      prometheus.Counter
	Reconnects        prometheus.Counter
	Refreshes         prometheus.Counter
	RefreshFailures   prometheus.Counter
	StreamState       prometheus.Gauge // 0=disconnected 1=handshaking 2=ready
	OpenSubscriptions prometheus.Gauge
	PageLatency       prometheus.Histogram
}

// New constructs a Registry with every collector created but not yet
// registered.
func New() *Registry {
	return &Registry{
		PagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ingestcore",
			Name:      "pages_fetched_total",
			Help:      "Total number of timeline pages successfully fetched.",
		}),
		ItemsClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestcore",
			Name:      "items_classified_total",
			Help:      "Total number of timeline items classified, by category.",
		}, []string{"category"}),
		ItemsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ingestcore",
			Name:      "items_dropped_total",
			Help:      "Total number of delta frames discarded by the stream mux because a subscription's delta buffer was full.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ingestcore",
			Name:      "decode_errors_total",
			Help:      "Total number of malformed timeline items logged and dropped.",
		}),
		DriftReports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ingestcore",
			Name:      "schema_drift_reports_total",
			Help:      "Total number of raw-item schema drift reports observed.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ingestcore",
			Name:      "stream_reconnects_total",
			Help:      "Total number of stream reconnect attempts.",
		}),
		Refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ingestcore",
			Name:      "token_refreshes_total",
			Help:      "Total number of successful session token refreshes.",
		}),
		RefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ingestcore",
			Name:      "token_refresh_failures_total",
			Help:      "Total number of failed session token refresh attempts.",
		}),
		StreamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ingestcore",
			Name:      "stream_state",
			Help:      "Current stream state: 0=disconnected 1=handshaking 2=ready.",
		}),
		OpenSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ingestcore",
			Name:      "open_subscriptions",
			Help:      "Number of subscriptions currently open on the mux.",
		}),
		PageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ingestcore",
			Name:      "page_fetch_latency_seconds",
			Help:      "Latency of a single timeline page fetch (subscribe through initial reply).",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// MustRegister registers every collector with reg, panicking on duplicate
// registration — the same fail-fast contract Prometheus client code expects
// at startup.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		r.PagesFetched,
		r.ItemsClassified,
		r.ItemsDropped,
		r.DecodeErrors,
		r.DriftReports,
		r.Reconnects,
		r.Refreshes,
		r.RefreshFailures,
		r.StreamState,
		r.OpenSubscriptions,
		r.PageLatency,
	)
}

// Stream state gauge values.
const (
	StreamDisconnected = 0
	StreamHandshaking  = 1
	StreamReady        = 2
)
