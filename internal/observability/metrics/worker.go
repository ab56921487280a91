package metrics

import (
	"net/http"
	"time"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	queueLag        *prometheus.HistogramVec
	duplicatesTotal *prometheus.CounterVec
	indexValue      *prometheus.GaugeVec
	qualityScore    *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "index_process_total",
			Help:      "Total processed index requests by status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "index_process_duration_seconds",
			Help:      "Index computation duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "index_process_in_flight",
			Help:      "Number of in-flight index computations.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between index request publication and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	duplicatesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "duplicate_requests_total",
			Help:      "Redelivered index requests dropped by the dedup cache.",
		},
		[]string{"service"},
	)
	indexValue := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "value",
			Help:      "Last computed price index per city.",
		},
		[]string{"city", "period"},
	)
	qualityScore := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "quality_score",
			Help:      "Quality score of the last computed index per city.",
		},
		[]string{"city", "period"},
	)

	registry.MustRegister(
		processTotal,
		processDuration,
		processInFlight,
		queueLag,
		duplicatesTotal,
		indexValue,
		qualityScore,
	)

	return &WorkerMetrics{
		registry:        registry,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		queueLag:        queueLag,
		duplicatesTotal: duplicatesTotal,
		indexValue:      indexValue,
		qualityScore:    qualityScore,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartRequest() {
	m.processInFlight.Inc()
}

// FinishRequest records one processed request. A nil result with a nil error is a
// duplicate delivery.
func (m *WorkerMetrics) FinishRequest(service string, duration time.Duration, result *domain.IndexResult, err error) {
	m.processInFlight.Dec()

	if err == nil && result == nil {
		m.duplicatesTotal.WithLabelValues(service).Inc()
		return
	}

	status := statusOf(err)
	m.processTotal.WithLabelValues(service, status).Inc()
	m.processDuration.WithLabelValues(service, status).Observe(duration.Seconds())
	if result != nil {
		m.indexValue.WithLabelValues(result.City, result.Period).Set(result.IndexValue)
		m.qualityScore.WithLabelValues(result.City, result.Period).Set(float64(result.QualityScore))
	}
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
