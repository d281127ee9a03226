package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements MetricsCollector using Prometheus metrics
type PrometheusCollector struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	// HTTP Metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// WebSocket Metrics
	websocketConnections prometheus.Gauge
	websocketMessages    *prometheus.CounterVec

	// Execution Metrics
	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	useCasesTotal *prometheus.CounterVec
	plansTotal    *prometheus.CounterVec
	activePlans   prometheus.Gauge
}

// NewPrometheusCollector creates a collector with its own registry
func NewPrometheusCollector(config *MetricsConfig) *PrometheusCollector {
	if config == nil {
		config = &MetricsConfig{
			Enabled: true,
			Prefix:  "devtest",
		}
	}

	prefix := config.Prefix
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	collector := &PrometheusCollector{
		config:   config,
		registry: reg,
	}

	// Initialize HTTP metrics
	collector.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	collector.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Initialize WebSocket metrics
	collector.websocketConnections = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_websocket_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	collector.websocketMessages = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"},
	)

	// Initialize Execution metrics
	collector.stepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_steps_total",
			Help: "Total number of executed test steps",
		},
		[]string{"protocol", "type", "status"},
	)

	collector.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_step_duration_seconds",
			Help:    "Test step duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"protocol"},
	)

	collector.useCasesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_usecases_total",
			Help: "Total number of finished use cases",
		},
		[]string{"status"},
	)

	collector.plansTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_plans_total",
			Help: "Total number of finished test plans",
		},
		[]string{"status"},
	)

	collector.activePlans = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_active_plans",
			Help: "Number of test plans currently running",
		},
	)

	return collector
}

// Handler serves the collector's registry in the Prometheus text format
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records HTTP request metrics
func (p *PrometheusCollector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if !p.config.Enabled {
		return
	}

	p.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	p.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWebSocketConnection records WebSocket connection metrics
func (p *PrometheusCollector) RecordWebSocketConnection(action string) {
	if !p.config.Enabled {
		return
	}

	switch action {
	case "connect":
		p.websocketConnections.Inc()
	case "disconnect":
		p.websocketConnections.Dec()
	case "message_sent":
		p.websocketMessages.WithLabelValues("outbound").Inc()
	case "message_received":
		p.websocketMessages.WithLabelValues("inbound").Inc()
	}
}

func (p *PrometheusCollector) PlanStarted() {
	if !p.config.Enabled {
		return
	}
	p.activePlans.Inc()
}

func (p *PrometheusCollector) PlanFinished(status testplan.Status) {
	if !p.config.Enabled {
		return
	}
	p.activePlans.Dec()
	p.plansTotal.WithLabelValues(string(status)).Inc()
}

func (p *PrometheusCollector) UseCaseFinished(status testplan.Status) {
	if !p.config.Enabled {
		return
	}
	p.useCasesTotal.WithLabelValues(string(status)).Inc()
}

func (p *PrometheusCollector) StepFinished(protocol connection.Protocol, stepType string, status testplan.Status, elapsed time.Duration) {
	if !p.config.Enabled {
		return
	}
	p.stepsTotal.WithLabelValues(string(protocol), stepType, string(status)).Inc()
	p.stepDuration.WithLabelValues(string(protocol)).Observe(elapsed.Seconds())
}
