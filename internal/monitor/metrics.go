package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ExecutionErrors   *prometheus.CounterVec
	ActiveExecutions  prometheus.Gauge
	SecurityEvents    *prometheus.CounterVec
	BackendLatency    *prometheus.HistogramVec
	RequestsInFlight  prometheus.Gauge
	CodeSizeBytes     prometheus.Histogram
	OutputSizeBytes   prometheus.Histogram

	HookEvents   *prometheus.CounterVec
	HookDuration *prometheus.HistogramVec

	Connections          prometheus.Gauge
	MessagesSent         *prometheus.CounterVec
	MessageSendFailures  *prometheus.CounterVec
	BusMessagesPublished prometheus.Counter
	BusMessagesReceived  prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sandbox",
				Name:      "executions_total",
				Help:      "Total number of sandbox executions by language and status.",
			},
			[]string{"language", "status"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sandbox",
				Name:      "execution_duration_seconds",
				Help:      "Duration of sandbox executions in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"language", "backend"},
		),

		ExecutionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sandbox",
				Name:      "execution_errors_total",
				Help:      "Total sandbox execution errors by type.",
			},
			[]string{"type"},
		),

		ActiveExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sandbox",
				Name:      "active_executions",
				Help:      "Number of currently running sandbox executions.",
			},
		),

		SecurityEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sandbox",
				Name:      "security_events_total",
				Help:      "Total security events detected in submitted code or output.",
			},
			[]string{"type"},
		),

		BackendLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sandbox",
				Name:      "backend_operation_duration_seconds",
				Help:      "Duration of sandbox backend operations such as image pulls.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"backend", "operation"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sandbox",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sandbox",
				Name:      "code_size_bytes",
				Help:      "Size of submitted code in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sandbox",
				Name:      "output_size_bytes",
				Help:      "Size of execution output in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),

		HookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sandbox",
				Subsystem: "hooks",
				Name:      "events_total",
				Help:      "Hook events by type and final status.",
			},
			[]string{"event_type", "status"},
		),

		HookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sandbox",
				Subsystem: "hooks",
				Name:      "duration_seconds",
				Help:      "Time from hook trigger to completion, including the assistant call.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"event_type"},
		),

		Connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sandbox",
				Subsystem: "notify",
				Name:      "connections",
				Help:      "Live notification connections.",
			},
		),

		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sandbox",
				Subsystem: "notify",
				Name:      "messages_sent_total",
				Help:      "Messages delivered to connections by message type.",
			},
			[]string{"type"},
		),

		MessageSendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sandbox",
				Subsystem: "notify",
				Name:      "send_failures_total",
				Help:      "Failed deliveries that dropped a connection, by message type.",
			},
			[]string{"type"},
		),

		BusMessagesPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sandbox",
				Subsystem: "notify",
				Name:      "bus_published_total",
				Help:      "Envelopes published to the cross-instance bus.",
			},
		),

		BusMessagesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sandbox",
				Subsystem: "notify",
				Name:      "bus_received_total",
				Help:      "Envelopes received from the cross-instance bus.",
			},
		),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ExecutionErrors,
		m.ActiveExecutions,
		m.SecurityEvents,
		m.BackendLatency,
		m.RequestsInFlight,
		m.CodeSizeBytes,
		m.OutputSizeBytes,
		m.HookEvents,
		m.HookDuration,
		m.Connections,
		m.MessagesSent,
		m.MessageSendFailures,
		m.BusMessagesPublished,
		m.BusMessagesReceived,
	)

	return m
}

// RecordExecution records metrics for a completed execution.
func (m *Metrics) RecordExecution(language, backend, status string, durationSec float64) {
	m.ExecutionsTotal.WithLabelValues(language, status).Inc()
	m.ExecutionDuration.WithLabelValues(language, backend).Observe(durationSec)
}

// RecordError records an execution error by type.
func (m *Metrics) RecordError(errType string) {
	m.ExecutionErrors.WithLabelValues(errType).Inc()
}

// RecordSecurityEvent records a security event.
func (m *Metrics) RecordSecurityEvent(eventType string) {
	m.SecurityEvents.WithLabelValues(eventType).Inc()
}

// RecordHook records a finished hook execution.
func (m *Metrics) RecordHook(eventType, status string, durationSec float64) {
	m.HookEvents.WithLabelValues(eventType, status).Inc()
	m.HookDuration.WithLabelValues(eventType).Observe(durationSec)
}

// RecordSend records one delivery attempt for a message type.
func (m *Metrics) RecordSend(msgType string, ok bool) {
	if ok {
		m.MessagesSent.WithLabelValues(msgType).Inc()
		return
	}
	m.MessageSendFailures.WithLabelValues(msgType).Inc()
}
