package telemetry

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "async events", mutate: func(c *Config) { c.Events.EnableAsync = true }},
		{name: "bad event level", mutate: func(c *Config) { c.Events.LogLevel = "debug" }, wantErr: "invalid event log level"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: "invalid trace exporter"},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
		{name: "metrics without address", mutate: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddress = ""
		}, wantErr: "listen address"},
		{name: "no service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LoggingConfig{Level: "debug", Format: "json"})

	zl := logger.NewComponentLogger("importer").
		WithField("import_id", "imp-1").
		Zerolog()
	zl.Info().Str("workbook", "orders.xlsx").Msg("Import started")

	out := buf.String()
	assert.Contains(t, out, `"component":"importer"`)
	assert.Contains(t, out, `"import_id":"imp-1"`)
	assert.Contains(t, out, `"workbook":"orders.xlsx"`)
	assert.Contains(t, out, `"message":"Import started"`)
}

func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LoggingConfig{Level: "warn", Format: "json"})
	zl := logger.Zerolog()
	zl.Info().Msg("hidden")
	zl.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogger_Context(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LoggingConfig{Level: "info", Format: "json"})
	ctx := logger.WithContext(context.Background())
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestMetrics(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.Enabled = true
	m, err := NewMetrics(cfg)
	require.NoError(t, err)

	m.RecordRows(RowKindData, 3)
	m.RecordRows(RowKindHeader, 1)
	m.RecordRowRejected("policy")
	m.RecordImportStarted()
	m.RecordImportCompleted("completed", 10*time.Millisecond)
	m.RecordWorkbookOpened("success", time.Millisecond, 42)
	m.RecordPolicyViolation("required_columns", "error")
	m.RecordSourceFetch("file", "success", time.Millisecond)
	m.RecordError("mapping", "CONVERSION_FAILED")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.rowsRead.WithLabelValues(RowKindData)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rowsRejected.WithLabelValues("policy")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeImports))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.importsCompleted.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsByCode.WithLabelValues("CONVERSION_FAILED")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "fastexcel_rows_read_total")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRows(RowKindData, 1)
		m.RecordImportStarted()
		m.RecordError("io", "")
	})

	disabled, err := NewMetrics(MetricsConfig{})
	require.NoError(t, err)
	assert.NotPanics(t, func() { disabled.RecordRowRejected("filter") })
	assert.Nil(t, disabled.Registry())

	srv, err := disabled.StartMetricsServer()
	assert.NoError(t, err)
	assert.Nil(t, srv)
}

func TestEventPublisher_Sync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	require.NoError(t, err)

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByType(EventTypeImportCompleted, EventTypeImportFailed))

	require.NoError(t, ep.PublishImportStarted("imp-1", "a.xlsx"))
	require.NoError(t, ep.PublishImportCompleted("imp-1", "a.xlsx", 10, 2, time.Second))
	require.NoError(t, ep.PublishImportFailed("imp-2", "b.xlsx", "boom"))

	require.Len(t, got, 2)
	assert.Equal(t, EventTypeImportCompleted, got[0].Type)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, 10, got[0].Data["rows"])
	assert.Equal(t, EventLevelError, got[1].Level)
	require.NoError(t, ep.Shutdown(context.Background()))
}

func TestEventPublisher_AsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 100, MaxBatchSize: 10})
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		count int
	)
	ep.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, FilterByLevel(EventLevelInfo))

	for i := 0; i < 25; i++ {
		require.NoError(t, ep.PublishWorkbookChanged("a.xlsx"))
	}
	require.NoError(t, ep.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 25, count)
}

func TestLogSubscriber(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LoggingConfig{Level: "info", Format: "json"})

	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	require.NoError(t, err)
	ep.Subscribe(LogSubscriber(logger), FilterByLevel(EventLevelWarning))

	require.NoError(t, ep.PublishImportStarted("imp-1", "a.xlsx"))
	require.NoError(t, ep.PublishImportFailed("imp-1", "a.xlsx", "boom"))

	out := buf.String()
	assert.NotContains(t, out, EventTypeImportStarted)
	assert.Contains(t, out, `"event":"import.failed"`)
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"import_id":"imp-1"`)
}

func TestJSONSubscriber(t *testing.T) {
	var buf bytes.Buffer
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	require.NoError(t, err)
	ep.Subscribe(JSONSubscriber(&buf), FilterByType(EventTypeImportSkipped))

	require.NoError(t, ep.PublishWorkbookChanged("a.xlsx"))
	require.NoError(t, ep.PublishImportSkipped("a.xlsx", "abc"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"type":"import.skipped"`)
	assert.Contains(t, lines[0], `"location":"a.xlsx"`)
}

func TestEventPublisher_Disabled(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{})
	require.NoError(t, err)
	assert.NoError(t, ep.PublishImportSkipped("a.xlsx", "abc"))
	assert.NoError(t, ep.Shutdown(context.Background()))
}

func TestStartOperation_WithoutTelemetry(t *testing.T) {
	ic := StartOperation(context.Background(), "read")
	assert.NotNil(t, ic.Logger)
	assert.Nil(t, ic.Span)
	ic.End(nil)
}

func TestNop(t *testing.T) {
	tel := Nop()
	ctx := tel.WithContext(context.Background())
	assert.Same(t, tel, FromTelemetryContext(ctx))

	ic := StartOperation(ctx, "import.execute")
	zl := ic.Logger.Zerolog()
	zl.Info().Msg("discarded")
	ic.End(nil)
	assert.True(t, strings.HasPrefix(tel.Config.ServiceName, "fastexcel"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}
