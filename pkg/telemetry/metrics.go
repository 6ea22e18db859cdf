package telemetry

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for workbook reads and imports.
// All recording methods are safe on a nil or disabled instance.
type Metrics struct {
	config MetricsConfig

	// Workbook metrics
	workbooksOpened   *prometheus.CounterVec
	workbookOpenTime  prometheus.Histogram
	sharedStringsSize prometheus.Histogram

	// Row metrics
	rowsRead     *prometheus.CounterVec
	rowsRejected *prometheus.CounterVec

	// Import metrics
	importsStarted   prometheus.Counter
	importsCompleted *prometheus.CounterVec
	importDuration   *prometheus.HistogramVec
	activeImports    prometheus.Gauge

	// Policy metrics
	policyViolations *prometheus.CounterVec

	// Source metrics
	sourceFetches       *prometheus.CounterVec
	sourceFetchDuration *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		workbooksOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workbooks_opened_total",
				Help:      "Total number of workbooks opened",
			},
			[]string{"status"},
		),
		workbookOpenTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workbook_open_duration_seconds",
				Help:      "Time spent building the shared string and style caches",
				Buckets:   buckets,
			},
		),
		sharedStringsSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workbook_shared_strings",
				Help:      "Number of shared string entries per opened workbook",
				Buckets:   prometheus.ExponentialBuckets(10, 10, 7),
			},
		),

		rowsRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_read_total",
				Help:      "Total number of sheet rows read, by classification",
			},
			[]string{"kind"},
		),
		rowsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_rejected_total",
				Help:      "Total number of data rows rejected during import",
			},
			[]string{"reason"},
		),

		importsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "imports_started_total",
				Help:      "Total number of imports started",
			},
		),
		importsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "imports_completed_total",
				Help:      "Total number of imports completed",
			},
			[]string{"status"},
		),
		importDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "import_duration_seconds",
				Help:      "Duration of workbook imports in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeImports: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_imports",
				Help:      "Current number of running imports",
			},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of row policy violations",
			},
			[]string{"policy", "severity"},
		),

		sourceFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_fetches_total",
				Help:      "Total number of workbook source fetches",
			},
			[]string{"scheme", "status"},
		),
		sourceFetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_fetch_duration_seconds",
				Help:      "Duration of workbook source fetches in seconds",
				Buckets:   buckets,
			},
			[]string{"scheme"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.workbooksOpened,
		m.workbookOpenTime,
		m.sharedStringsSize,
		m.rowsRead,
		m.rowsRejected,
		m.importsStarted,
		m.importsCompleted,
		m.importDuration,
		m.activeImports,
		m.policyViolations,
		m.sourceFetches,
		m.sourceFetchDuration,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Registry returns the metrics registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Workbook Metrics

// RecordWorkbookOpened records a workbook open attempt.
func (m *Metrics) RecordWorkbookOpened(status string, duration time.Duration, sharedStrings int) {
	if m == nil || m.workbooksOpened == nil {
		return
	}
	m.workbooksOpened.WithLabelValues(status).Inc()
	if status == "success" {
		m.workbookOpenTime.Observe(duration.Seconds())
		m.sharedStringsSize.Observe(float64(sharedStrings))
	}
}

// Row Metrics

// Row classifications used with RecordRows.
const (
	RowKindHeader  = "header"
	RowKindData    = "data"
	RowKindSkipped = "skipped"
)

// RecordRows records n rows of the given kind.
func (m *Metrics) RecordRows(kind string, n int) {
	if m == nil || m.rowsRead == nil || n == 0 {
		return
	}
	m.rowsRead.WithLabelValues(kind).Add(float64(n))
}

// RecordRowRejected records a data row dropped by a filter, a policy or a mapping error.
func (m *Metrics) RecordRowRejected(reason string) {
	if m == nil || m.rowsRejected == nil {
		return
	}
	m.rowsRejected.WithLabelValues(reason).Inc()
}

// Import Metrics

// RecordImportStarted increments the started counter and the active gauge.
func (m *Metrics) RecordImportStarted() {
	if m == nil || m.importsStarted == nil {
		return
	}
	m.importsStarted.Inc()
	m.activeImports.Inc()
}

// RecordImportCompleted records a finished import with its status and duration.
func (m *Metrics) RecordImportCompleted(status string, duration time.Duration) {
	if m == nil || m.importsCompleted == nil {
		return
	}
	m.importsCompleted.WithLabelValues(status).Inc()
	m.importDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeImports.Dec()
}

// Policy Metrics

// RecordPolicyViolation records a row policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m == nil || m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Source Metrics

// RecordSourceFetch records a workbook fetch from a local or remote source.
func (m *Metrics) RecordSourceFetch(scheme, status string, duration time.Duration) {
	if m == nil || m.sourceFetches == nil {
		return
	}
	m.sourceFetches.WithLabelValues(scheme, status).Inc()
	m.sourceFetchDuration.WithLabelValues(scheme).Observe(duration.Seconds())
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. The server
// stops when Shutdown is called on the returned server.
func (m *Metrics) StartMetricsServer() (*http.Server, error) {
	if m == nil || !m.config.Enabled {
		return nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
		}
	}()

	return server, nil
}
