package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for the auto-reply service
type Metrics struct {
	// Activation pipeline
	ActivationsTotal    *prometheus.CounterVec
	ActivationTemplates prometheus.Histogram
	ValidationFindings  *prometheus.CounterVec
	DecodesTotal        *prometheus.CounterVec
	QuotaExceededTotal  *prometheus.CounterVec

	// Template store
	ImportsTotal   *prometheus.CounterVec
	TemplateGroups prometheus.Gauge
	GroupEdits     *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ActivationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoreply_activations_total",
				Help: "Total number of activation attempts by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		ActivationTemplates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "autoreply_activation_templates",
				Help:    "Number of templates carried by built envelopes",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
		),
		ValidationFindings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoreply_validation_findings_total",
				Help: "Total number of validation findings by severity",
			},
			[]string{"severity"},
		),
		DecodesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoreply_decodes_total",
				Help: "Total number of activation payload decodes by outcome",
			},
			[]string{"outcome"},
		),
		QuotaExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoreply_quota_exceeded_total",
				Help: "Total number of activations rejected by quota",
			},
			[]string{"level"},
		),

		ImportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoreply_imports_total",
				Help: "Total number of template imports by outcome",
			},
			[]string{"outcome"},
		),
		TemplateGroups: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autoreply_template_groups",
				Help: "Number of template groups in the store",
			},
		),
		GroupEdits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoreply_group_edits_total",
				Help: "Total number of template group changes by operation",
			},
			[]string{"operation"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoreply_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autoreply_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoreply_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autoreply_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autoreply_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autoreply_storage_used_bytes",
				Help: "Storage file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.ActivationsTotal,
		m.ActivationTemplates,
		m.ValidationFindings,
		m.DecodesTotal,
		m.QuotaExceededTotal,
		m.ImportsTotal,
		m.TemplateGroups,
		m.GroupEdits,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncActivation records an activation attempt
func IncActivation(mode, outcome string) {
	if m := Global(); m != nil {
		m.ActivationsTotal.WithLabelValues(mode, outcome).Inc()
	}
}

// ObserveActivationTemplates records the template count of a built envelope
func ObserveActivationTemplates(n int) {
	if m := Global(); m != nil {
		m.ActivationTemplates.Observe(float64(n))
	}
}

// AddValidationFindings records validation errors and warnings
func AddValidationFindings(errors, warnings int) {
	m := Global()
	if m == nil {
		return
	}
	if errors > 0 {
		m.ValidationFindings.WithLabelValues("error").Add(float64(errors))
	}
	if warnings > 0 {
		m.ValidationFindings.WithLabelValues("warning").Add(float64(warnings))
	}
}

// IncDecode records a payload decode
func IncDecode(outcome string) {
	if m := Global(); m != nil {
		m.DecodesTotal.WithLabelValues(outcome).Inc()
	}
}

// IncQuotaExceeded records an activation rejected by quota
func IncQuotaExceeded(level string) {
	if m := Global(); m != nil {
		m.QuotaExceededTotal.WithLabelValues(level).Inc()
	}
}

// IncImport records a template import
func IncImport(outcome string) {
	if m := Global(); m != nil {
		m.ImportsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncGroupEdit records a change to the group list
func IncGroupEdit(operation string) {
	if m := Global(); m != nil {
		m.GroupEdits.WithLabelValues(operation).Inc()
	}
}

// SetTemplateGroups sets the group count gauge
func SetTemplateGroups(n int64) {
	if m := Global(); m != nil {
		m.TemplateGroups.Set(float64(n))
	}
}

// IncAPIErrors increments API errors counter
func IncAPIErrors(errorType string) {
	if m := Global(); m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
