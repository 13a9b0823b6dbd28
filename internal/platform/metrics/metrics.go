package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors exported on /metrics. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	transitions        *prometheus.CounterVec
	rejected           *prometheus.CounterVec
	transforms         *prometheus.CounterVec
	txDuration         *prometheus.HistogramVec
	httpRequests       *prometheus.CounterVec
	httpRequestSeconds *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeboard_stage_transitions_total",
			Help: "Stage changes recorded, by entity kind and target stage.",
		}, []string{"kind", "stage"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeboard_stage_transitions_rejected_total",
			Help: "Stage changes rejected, by entity kind and reason.",
		}, []string{"kind", "reason"}),
		transforms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeboard_transforms_total",
			Help: "Job to relationship transforms, by outcome.",
		}, []string{"outcome"}),
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeboard_lifecycle_tx_duration_seconds",
			Help:    "Duration of lifecycle units of work.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeboard_http_requests_total",
			Help: "HTTP requests served, by method and status.",
		}, []string{"method", "status"}),
		httpRequestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeboard_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions,
		m.rejected,
		m.transforms,
		m.txDuration,
		m.httpRequests,
		m.httpRequestSeconds,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Transition(kind, stage string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind, stage).Inc()
}

func (m *Metrics) TransitionRejected(kind, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) Transform(outcome string) {
	if m == nil {
		return
	}
	m.transforms.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTx(op string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.txDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveHTTP matches httpserver.Observer.
func (m *Metrics) ObserveHTTP(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpRequestSeconds.WithLabelValues(method).Observe(elapsed.Seconds())
}
