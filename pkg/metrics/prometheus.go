package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "oiwatch"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	tasks         *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	score         *prometheus.GaugeVec
	alerts        *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	bootstrapped  prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the recorder on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_cycles_total",
			Help:      "Number of completed fetch cycles",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_cycle_duration_seconds",
			Help:      "Duration of a fetch cycle over all symbols",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "symbol_tasks_total",
			Help:      "Per-symbol fetch task outcomes",
		}, []string{"result"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by category",
		}, []string{"category"}),
		score: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomaly_score",
			Help:      "Last anomaly score of a symbol",
		}, []string{"symbol", "metric"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert deliveries by result",
		}, []string{"result"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of operations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		bootstrapped: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bootstrapped_symbols",
			Help:      "Number of symbols with a bootstrapped store",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route", "method"}),
	}
}

func (r *Recorder) RecordCycle(seconds float64) {
	r.cycles.Inc()
	r.cycleDuration.Observe(seconds)
}

func (r *Recorder) RecordTask(result string) { r.tasks.WithLabelValues(result).Inc() }

func (r *Recorder) RecordError(category string) { r.errorsTotal.WithLabelValues(category).Inc() }

func (r *Recorder) RecordScore(symbol, metric string, value float64) {
	r.score.WithLabelValues(symbol, metric).Set(value)
}

func (r *Recorder) RecordAlert(result string) { r.alerts.WithLabelValues(result).Inc() }

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) SetBootstrapped(n int) { r.bootstrapped.Set(float64(n)) }

// ObserveHTTP records one served request. route should be the route template.
func (r *Recorder) ObserveHTTP(route, method string, status int, seconds float64) {
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(seconds)
}
