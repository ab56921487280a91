package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ppi"

type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	rateLimitedTotal  *prometheus.CounterVec
	overloadedTotal   *prometheus.CounterVec
	importsTotal      *prometheus.CounterVec
	importPassesTotal *prometheus.CounterVec
	consensusProducts *prometheus.HistogramVec
	lowAgreementTotal *prometheus.CounterVec
	indexComputeTotal *prometheus.CounterVec
	indexEnqueued     *prometheus.CounterVec

	*resilienceMetrics
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	rateLimitedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		},
		[]string{"service"},
	)
	overloadedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "overloaded_total",
			Help:      "Requests rejected because the in-flight gate stayed saturated.",
		},
		[]string{"service"},
	)
	importsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "flyers_total",
			Help:      "Flyer imports by outcome.",
		},
		[]string{"service", "status"},
	)
	importPassesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "passes_total",
			Help:      "Extraction passes by status.",
		},
		[]string{"service", "status"},
	)
	consensusProducts := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "products",
			Help:      "Reconciled products per import.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"service"},
	)
	lowAgreementTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "low_agreement_products_total",
			Help:      "Reconciled products seen by no strict majority of passes.",
		},
		[]string{"service"},
	)
	indexComputeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "computations_total",
			Help:      "Synchronous index computations by endpoint and status.",
		},
		[]string{"service", "endpoint", "status"},
	)
	indexEnqueued := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "requests_enqueued_total",
			Help:      "Index requests published to the queue.",
		},
		[]string{"service"},
	)
	resilience := newResilienceMetrics()

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		rateLimitedTotal,
		overloadedTotal,
		importsTotal,
		importPassesTotal,
		consensusProducts,
		lowAgreementTotal,
		indexComputeTotal,
		indexEnqueued,
	)
	resilience.register(registry)

	return &HTTPServerMetrics{
		registry:          registry,
		service:           service,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		rateLimitedTotal:  rateLimitedTotal,
		overloadedTotal:   overloadedTotal,
		importsTotal:      importsTotal,
		importPassesTotal: importPassesTotal,
		consensusProducts: consensusProducts,
		lowAgreementTotal: lowAgreementTotal,
		indexComputeTotal: indexComputeTotal,
		indexEnqueued:     indexEnqueued,
		resilienceMetrics: resilience,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/imports/"):
		return "/v1/imports/{import_id}"
	case strings.HasPrefix(path, "/v1/index/") &&
		path != "/v1/index/compute" &&
		path != "/v1/index/batch" &&
		path != "/v1/index/requests":
		return "/v1/index/{city}/{period}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordRateLimited(service string) {
	m.rateLimitedTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordOverloaded(service string) {
	m.overloadedTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordImport(service string, result *domain.ImportResult, err error) {
	switch {
	case err != nil || result == nil:
		m.importsTotal.WithLabelValues(service, "error").Inc()
		return
	case result.Consensus.InsufficientData:
		m.importsTotal.WithLabelValues(service, "insufficient_data").Inc()
	default:
		m.importsTotal.WithLabelValues(service, "ok").Inc()
	}

	consensus := result.Consensus
	if consensus.SuccessfulPasses > 0 {
		m.importPassesTotal.WithLabelValues(service, "success").Add(float64(consensus.SuccessfulPasses))
	}
	if len(consensus.FailedPasses) > 0 {
		m.importPassesTotal.WithLabelValues(service, "failed").Add(float64(len(consensus.FailedPasses)))
	}
	m.consensusProducts.WithLabelValues(service).Observe(float64(len(consensus.Products)))

	low := 0
	for _, product := range consensus.Products {
		if product.LowAgreement {
			low++
		}
	}
	if low > 0 {
		m.lowAgreementTotal.WithLabelValues(service).Add(float64(low))
	}
}

func (m *HTTPServerMetrics) RecordIndexComputation(service, endpoint string, err error) {
	if endpoint == "" {
		endpoint = "unknown"
	}
	m.indexComputeTotal.WithLabelValues(service, endpoint, statusOf(err)).Inc()
}

func (m *HTTPServerMetrics) RecordIndexRequestsEnqueued(service string, count int) {
	if count <= 0 {
		return
	}
	m.indexEnqueued.WithLabelValues(service).Add(float64(count))
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
