// Package observability provides Prometheus metrics for the grid engine.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of one engine instance.
type Metrics struct {
	// Engine metrics
	BarsProcessed   prometheus.Counter
	OrdersSubmitted prometheus.Counter
	Recenters       prometheus.Counter
	Notifications   *prometheus.CounterVec
	OCOConflicts    prometheus.Counter
	StaleOrders     prometheus.Counter
	LedgerEntries   prometheus.Counter

	// Grid state
	OpenGrids   prometheus.Gauge
	Equity      prometheus.Gauge
	SignalValue prometheus.Gauge

	// Persistence
	RunsArchived    *prometheus.CounterVec
	ArchiveDuration prometheus.Histogram
}

// NewMetrics registers every metric on reg. Tests pass a fresh registry so
// engines can be built repeatedly.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "gridzone"
	}
	f := promauto.With(reg)

	return &Metrics{
		BarsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "bars_processed_total",
			Help:      "Total number of price bars processed",
		}),
		OrdersSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "brackets_submitted_total",
			Help:      "Total number of bracket groups submitted",
		}),
		Recenters: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "zone_recenters_total",
			Help:      "Total number of zone recenter events",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "order_notifications_total",
			Help:      "Order status notifications by status and outcome",
		}, []string{"status", "outcome"}),
		OCOConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "oco_conflicts_total",
			Help:      "Second exit completions reported for an already exited group",
		}),
		StaleOrders: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "stale_orders_total",
			Help:      "Bracket groups whose entry stayed unfilled past the stale threshold",
		}),
		LedgerEntries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "entries_total",
			Help:      "Total number of ledger entries recorded",
		}),

		OpenGrids: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "open_grids",
			Help:      "Grid bars currently holding a bracket group",
		}),
		Equity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "equity",
			Help:      "Cash plus position marked at the last close",
		}),
		SignalValue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "value",
			Help:      "Last value produced by the signal source",
		}),

		RunsArchived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "runs_archived_total",
			Help:      "Backtest runs written to the database by result",
		}, []string{"result"}),
		ArchiveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "archive_duration_seconds",
			Help:      "Time spent archiving one run",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
