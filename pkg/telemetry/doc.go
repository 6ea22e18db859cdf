// Package telemetry provides observability for workbook reads and imports.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and an import event publisher.
//
// # Usage
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Logging
//
//	logger := tel.Logger.NewComponentLogger("importer").Zerolog()
//	logger.Info().Str("import_id", id).Msg("Import started")
//
// StartOperation wraps a unit of work in a span and a logger carrying the
// operation name and trace ID.
//
// # Tracing
//
// An enabled tracer becomes the global OpenTelemetry provider. The workbook
// and reader packages start their spans through otel.Tracer, so they are
// exported without holding a Tracer themselves.
//
// # Metrics
//
// Metrics methods are no-ops on a nil or disabled *Metrics, so readers can
// take an optional collector:
//
//	m, _ := telemetry.NewMetrics(cfg.Metrics)
//	m.RecordRows(telemetry.RowKindData, 1)
//	srv, _ := m.StartMetricsServer()
//
// # Events
//
// The importer publishes import.started, import.completed, import.failed and
// import.skipped events; the watcher publishes workbook.changed. Subscribers
// receive events synchronously unless EnableAsync is set. LogSubscriber
// writes events to a Logger and JSONSubscriber writes them as JSON lines.
package telemetry
