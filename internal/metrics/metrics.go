// Package metrics exposes Prometheus collectors for the stock checker.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	dispatchRequestsTotal      *prometheus.CounterVec
	dispatchRequestDuration    *prometheus.HistogramVec
	dispatchBatchesTotal       *prometheus.CounterVec
	dispatchBatchSize          *prometheus.HistogramVec
	dispatchQueueDepth         *prometheus.GaugeVec
	decodeErrorsTotal          *prometheus.CounterVec
	searchesTotal              *prometheus.CounterVec
	productsTotal              *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		dispatchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lurk_dispatch_requests_total",
				Help: "Requests executed by the dispatcher, labeled by provider and result.",
			},
			[]string{"provider", "result"},
		)

		dispatchRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lurk_dispatch_request_duration_seconds",
				Help:    "Latency of individual dispatched requests.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"provider"},
		)

		dispatchBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lurk_dispatch_batches_total",
				Help: "Batches drained by the dispatcher loop.",
			},
			[]string{"provider"},
		)

		dispatchBatchSize = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lurk_dispatch_batch_size",
				Help:    "Number of requests per dispatched batch.",
				Buckets: []float64{1, 2, 5, 10, 20, 50},
			},
			[]string{"provider"},
		)

		dispatchQueueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lurk_dispatch_queue_depth",
				Help: "Requests waiting in the dispatcher queue.",
			},
			[]string{"provider"},
		)

		decodeErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lurk_decode_errors_total",
				Help: "Response bodies that failed JSON decoding.",
			},
			[]string{"provider"},
		)

		searchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lurk_searches_total",
				Help: "Searches executed, labeled by checker and result.",
			},
			[]string{"checker", "result"},
		)

		productsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lurk_products_total",
				Help: "Products parsed, labeled by checker and stock state.",
			},
			[]string{"checker", "stock"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lurk_notifications_total",
				Help: "Notification deliveries, labeled by sink and result.",
			},
			[]string{"sink", "result"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lurk_runs_total",
				Help: "Scheduler runs, labeled by status.",
			},
			[]string{"status"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lurk_run_duration_seconds",
				Help:    "Wall time of a scheduler run.",
				Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDispatch records one executed request.
func ObserveDispatch(provider, result string, duration time.Duration) {
	Init()
	dispatchRequestsTotal.WithLabelValues(provider, result).Inc()
	dispatchRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveBatch records one drained batch.
func ObserveBatch(provider string, size int) {
	Init()
	dispatchBatchesTotal.WithLabelValues(provider).Inc()
	dispatchBatchSize.WithLabelValues(provider).Observe(float64(size))
}

// SetQueueDepth publishes the current dispatcher backlog.
func SetQueueDepth(provider string, depth int) {
	Init()
	dispatchQueueDepth.WithLabelValues(provider).Set(float64(depth))
}

// ObserveDecodeError counts a body that was not valid JSON.
func ObserveDecodeError(provider string) {
	Init()
	decodeErrorsTotal.WithLabelValues(provider).Inc()
}

// ObserveSearch records the outcome of one search.
func ObserveSearch(checker, result string) {
	Init()
	searchesTotal.WithLabelValues(checker, result).Inc()
}

// ObserveProducts counts parsed products by stock state.
func ObserveProducts(checker string, inStock, outOfStock int) {
	Init()
	if inStock > 0 {
		productsTotal.WithLabelValues(checker, "in_stock").Add(float64(inStock))
	}
	if outOfStock > 0 {
		productsTotal.WithLabelValues(checker, "out_of_stock").Add(float64(outOfStock))
	}
}

// ObserveNotification records one delivery attempt.
func ObserveNotification(sink, result string) {
	Init()
	notificationsTotal.WithLabelValues(sink, result).Inc()
}

// ObserveRun records a finished scheduler run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
