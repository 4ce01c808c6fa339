// Package metrics provides Prometheus metrics for the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
//
// All methods are safe to call on a nil *Metrics, so callers can use Get()
// without checking whether Init ran.
type Metrics struct {
	// Work item metrics
	ItemsProcessed prometheus.Counter
	ItemsFailed    prometheus.Counter
	ItemsSkipped   prometheus.Counter
	ItemsPending   prometheus.Gauge

	// Stage metrics
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec
	StageCached   *prometheus.CounterVec
	RetryAttempts *prometheus.CounterVec

	// Transfer metrics
	BytesDownloaded prometheus.Counter
	BytesUploaded   prometheus.Counter

	// Pipeline metrics
	InFlightItems prometheus.Gauge
}

var defaultMetrics *Metrics

// Init registers the pipeline metrics with reg and installs them as the
// global instance. A nil reg uses the default Prometheus registry.
// Call this once at startup.
func Init(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "bam2mt"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	m := &Metrics{
		ItemsProcessed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_processed_total",
				Help:      "Total number of work items whose graph completed",
			},
		),
		ItemsFailed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_failed_total",
				Help:      "Total number of work items whose graph failed",
			},
		),
		ItemsSkipped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_skipped_total",
				Help:      "Total number of source BAMs skipped because output already exists",
			},
		),
		ItemsPending: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "items_pending",
				Help:      "Number of work items selected by the last plan",
			},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in one stage of a work item graph",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~27m
			},
			[]string{"stage"},
		),
		StageFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_failures_total",
				Help:      "Total number of stages that failed after all attempts",
			},
			[]string{"stage"},
		),
		StageCached: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_cached_total",
				Help:      "Total number of stages satisfied from recorded state",
			},
			[]string{"stage"},
		),
		RetryAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"stage"},
		),
		BytesDownloaded: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_downloaded_total",
				Help:      "Bytes read from the source container",
			},
		),
		BytesUploaded: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_uploaded_total",
				Help:      "Bytes written to the destination container",
			},
		),
		InFlightItems: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_items",
				Help:      "Number of work items currently being processed",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// Handler returns the HTTP handler serving /metrics and /health.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	return http.ListenAndServe(address, Handler(nil))
}

// IncItemsProcessed increments the processed items counter.
func (m *Metrics) IncItemsProcessed() {
	if m == nil {
		return
	}
	m.ItemsProcessed.Inc()
}

// IncItemsFailed increments the failed items counter.
func (m *Metrics) IncItemsFailed() {
	if m == nil {
		return
	}
	m.ItemsFailed.Inc()
}

// AddItemsSkipped adds to the skipped items counter.
func (m *Metrics) AddItemsSkipped(n int) {
	if m == nil {
		return
	}
	m.ItemsSkipped.Add(float64(n))
}

// SetItemsPending records the size of the current plan.
func (m *Metrics) SetItemsPending(n int) {
	if m == nil {
		return
	}
	m.ItemsPending.Set(float64(n))
}

// ObserveStageDuration records the time one stage took.
func (m *Metrics) ObserveStageDuration(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// IncStageFailures increments the stage failure counter.
func (m *Metrics) IncStageFailures(stage string) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(stage).Inc()
}

// IncStageCached increments the cached stage counter.
func (m *Metrics) IncStageCached(stage string) {
	if m == nil {
		return
	}
	m.StageCached.WithLabelValues(stage).Inc()
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(stage string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(stage).Inc()
}

// AddBytesDownloaded adds to the downloaded bytes counter.
func (m *Metrics) AddBytesDownloaded(n int64) {
	if m == nil {
		return
	}
	m.BytesDownloaded.Add(float64(n))
}

// AddBytesUploaded adds to the uploaded bytes counter.
func (m *Metrics) AddBytesUploaded(n int64) {
	if m == nil {
		return
	}
	m.BytesUploaded.Add(float64(n))
}

// IncInFlight marks one more item in flight.
func (m *Metrics) IncInFlight() {
	if m == nil {
		return
	}
	m.InFlightItems.Inc()
}

// DecInFlight marks one item as no longer in flight.
func (m *Metrics) DecInFlight() {
	if m == nil {
		return
	}
	m.InFlightItems.Dec()
}
