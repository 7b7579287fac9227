// Package metrics exposes Prometheus counters for the page pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	// Page pipeline
	PostsScanned     prometheus.Counter
	PostsSkipped     *prometheus.CounterVec
	ButtonsInjected  *prometheus.CounterVec
	Navigations      prometheus.Counter
	StaleDiscarded   *prometheus.CounterVec
	SignalCacheLoads *prometheus.CounterVec

	// Prices
	PriceLookups *prometheus.CounterVec

	// Saves
	SignalsSaved prometheus.Counter
	SaveFailures prometheus.Counter

	// Bridge
	ActivePages     prometheus.Gauge
	BridgeMessages  *prometheus.CounterVec
	UpstreamLatency *prometheus.HistogramVec
}

// NewMetrics registers every metric with reg. A nil reg builds unregistered
// metrics, which is what tests want.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "kol_signals"
	}
	f := promauto.With(reg)

	return &Metrics{
		PostsScanned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "posts_scanned_total",
			Help:      "Feed items with a resolvable post id seen by the watcher",
		}),
		PostsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "posts_skipped_total",
			Help:      "Feed items skipped by reason",
		}, []string{"reason"}),
		ButtonsInjected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "injector",
			Name:      "buttons_injected_total",
			Help:      "Save buttons injected by state",
		}, []string{"state"}),
		Navigations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "navigations_total",
			Help:      "Client-side navigations observed",
		}),
		StaleDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "injector",
			Name:      "stale_results_discarded_total",
			Help:      "Async results dropped because a navigation happened first",
		}, []string{"kind"}),
		SignalCacheLoads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "author_loads_total",
			Help:      "Per-author signal loads by outcome",
		}, []string{"outcome"}),
		PriceLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "price",
			Name:      "lookups_total",
			Help:      "Performance badge lookups by outcome",
		}, []string{"outcome"}),
		SignalsSaved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dialog",
			Name:      "signals_saved_total",
			Help:      "Signals saved through the dialog",
		}),
		SaveFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dialog",
			Name:      "save_failures_total",
			Help:      "Signal saves rejected or failed",
		}),
		ActivePages: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "active_pages",
			Help:      "Connected page shims",
		}),
		BridgeMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "messages_total",
			Help:      "Bridge messages by direction and type",
		}, []string{"direction", "type"}),
		UpstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Backend request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is registered with the default Prometheus registry.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

func RecordPostScanned() {
	DefaultMetrics.PostsScanned.Inc()
}

func RecordPostSkipped(reason string) {
	DefaultMetrics.PostsSkipped.WithLabelValues(reason).Inc()
}

func RecordButtonInjected(state string) {
	DefaultMetrics.ButtonsInjected.WithLabelValues(state).Inc()
}

func RecordNavigation() {
	DefaultMetrics.Navigations.Inc()
}

func RecordStaleDiscarded(kind string) {
	DefaultMetrics.StaleDiscarded.WithLabelValues(kind).Inc()
}

func RecordSignalCacheLoad(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	DefaultMetrics.SignalCacheLoads.WithLabelValues(outcome).Inc()
}

// RecordPriceLookup records whether a badge got a figure.
func RecordPriceLookup(available bool) {
	outcome := "available"
	if !available {
		outcome = "unavailable"
	}
	DefaultMetrics.PriceLookups.WithLabelValues(outcome).Inc()
}

func RecordSave(err error) {
	if err != nil {
		DefaultMetrics.SaveFailures.Inc()
		return
	}
	DefaultMetrics.SignalsSaved.Inc()
}

func PageOpened() { DefaultMetrics.ActivePages.Inc() }
func PageClosed() { DefaultMetrics.ActivePages.Dec() }

func RecordBridgeMessage(direction, msgType string) {
	DefaultMetrics.BridgeMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordUpstream observes one backend request.
func RecordUpstream(endpoint string, d time.Duration) {
	DefaultMetrics.UpstreamLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}
