package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maxexplode/fastexcel/pkg/excel"
	"github.com/maxexplode/fastexcel/pkg/policy"
	"github.com/maxexplode/fastexcel/pkg/reader"
	"github.com/maxexplode/fastexcel/pkg/script"
	"github.com/maxexplode/fastexcel/pkg/source"
	"github.com/maxexplode/fastexcel/pkg/stores"
	"github.com/maxexplode/fastexcel/pkg/telemetry"
)

// maxReportedViolations caps Result.Violations.
const maxReportedViolations = 20

// Importer imports worksheets into a store. It is safe for concurrent use.
type Importer struct {
	store       stores.Store
	resolver    *source.Resolver
	policies    *policy.Engine
	scripts     *script.Evaluator
	tel         *telemetry.Telemetry
	logger      zerolog.Logger
	maxParallel int
}

// Option configures an Importer.
type Option func(*Importer)

// WithPolicyEngine validates rows with e. Without an engine rows are not
// checked against policies.
func WithPolicyEngine(e *policy.Engine) Option {
	return func(im *Importer) { im.policies = e }
}

// WithEvaluator runs filters and transforms with ev.
func WithEvaluator(ev *script.Evaluator) Option {
	return func(im *Importer) { im.scripts = ev }
}

// WithTelemetry records metrics, spans and events on t.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(im *Importer) { im.tel = t }
}

// WithLogger sets the importer logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(im *Importer) { im.logger = logger }
}

// WithMaxParallel bounds the number of concurrent imports in ImportAll.
func WithMaxParallel(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.maxParallel = n
		}
	}
}

// NewImporter creates an importer writing to store. A nil resolver
// resolves local paths and sftp locations with default SSH settings.
func NewImporter(store stores.Store, resolver *source.Resolver, opts ...Option) *Importer {
	im := &Importer{
		store:       store,
		resolver:    resolver,
		logger:      zerolog.Nop(),
		maxParallel: DefaultMaxParallel,
	}
	for _, opt := range opts {
		opt(im)
	}

	if im.tel == nil {
		im.tel = telemetry.Nop()
	}
	if im.scripts == nil {
		im.scripts = script.NewEvaluator(script.DefaultTimeout, script.WithLogger(im.logger))
	}
	if im.resolver == nil {
		im.resolver = source.NewResolver(source.DefaultSSHConfig(),
			source.WithLogger(im.logger),
			source.WithMetrics(im.tel.Metrics),
			source.WithTracer(im.tel.Tracer),
		)
	}
	im.logger = im.logger.With().Str("component", "importer").Logger()
	return im
}

// Import imports one workbook. A returned error means the import failed;
// the Result then still describes the failed import when one was recorded.
// A rejected import is not an error: inspect Result.Import.Status.
func (im *Importer) Import(ctx context.Context, location string, opts Options) (*Result, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Reader.Metrics == nil {
		opts.Reader.Metrics = im.tel.Metrics
	}

	id := uuid.New().String()
	display := displayLocation(location)
	ctx, span := im.tel.Tracer.StartImportSpan(ctx, id, display)
	defer span.End()

	lc := im.logger.With().Str("import_id", id).Str("location", display)
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		lc = lc.Str("trace_id", traceID)
	}
	logger := lc.Logger()
	ctx = logger.WithContext(ctx)

	r := &importRun{
		Importer: im,
		id:       id,
		opts:     opts,
		logger:   logger,
		span:     span,
		result:   &Result{Location: display},
		start:    time.Now(),
	}
	return r.execute(ctx, location)
}

// ImportAll imports every location, at most MaxParallel at a time. Results
// are in input order. The error joins the failures of individual imports.
func (im *Importer) ImportAll(ctx context.Context, locations []string, opts Options) ([]*Result, error) {
	results := make([]*Result, len(locations))
	if len(locations) == 0 {
		return results, nil
	}

	op := telemetry.StartOperation(im.tel.WithContext(ctx), "import.all",
		attribute.Int("import.locations", len(locations)))
	ctx = op.Ctx

	workerCount := im.maxParallel
	if len(locations) < workerCount {
		workerCount = len(locations)
	}

	workQueue := make(chan int, len(locations))
	for i := range locations {
		workQueue <- i
	}
	close(workQueue)

	errs := make([]error, len(locations))
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range workQueue {
				if err := ctx.Err(); err != nil {
					errs[idx] = fmt.Errorf("import %s: %w", displayLocation(locations[idx]), err)
					continue
				}
				results[idx], errs[idx] = im.Import(ctx, locations[idx], opts)
			}
		}()
	}
	wg.Wait()

	err := errors.Join(errs...)
	failed := 0
	for _, e := range errs {
		if e != nil {
			failed++
		}
	}
	zlog := op.Logger.Zerolog()
	zlog.Info().
		Int("locations", len(locations)).
		Int("failed", failed).
		Dur("duration", op.Timer.Duration()).
		Msg("Imports finished")
	op.End(err)
	return results, err
}

// importRun is the state of one import.
type importRun struct {
	*Importer
	id     string
	opts   Options
	logger zerolog.Logger
	span   trace.Span
	start  time.Time

	imp     *stores.Import
	result  *Result
	counts  stores.Counts
	rows    []stores.ImportRow
	issues  []stores.ImportIssue
	blocked bool
}

func (r *importRun) execute(ctx context.Context, location string) (*Result, error) {
	local, err := r.resolver.Resolve(ctx, location)
	if err != nil {
		return r.abort(ctx, "", "", err)
	}
	defer func() {
		if cerr := local.Cleanup(); cerr != nil {
			r.logger.Warn().Err(cerr).Msg("Failed to remove downloaded workbook")
		}
	}()
	r.result.Location = local.Location.String()

	if r.opts.SkipUnchanged {
		prev, err := r.store.FindImportByChecksum(ctx, r.result.Location, local.Checksum)
		switch {
		case err == nil:
			r.logger.Info().Str("previous_import", prev.ID).Msg("Workbook unchanged, import skipped")
			_ = r.tel.Events.PublishImportSkipped(r.result.Location, local.Checksum)
			r.span.SetAttributes(attribute.Bool("import.skipped", true))
			r.result.Import = prev
			r.result.Skipped = true
			return r.result, nil
		case !errors.Is(err, stores.ErrNotFound):
			return r.abort(ctx, local.Checksum, r.opts.Reader.SheetName, fmt.Errorf("checksum lookup: %w", err))
		}
	}

	rr, err := reader.OpenRecords(ctx, local.Path, r.opts.Reader)
	if err != nil {
		return r.abort(ctx, local.Checksum, r.opts.Reader.SheetName, err)
	}
	defer rr.Close()

	if _, err := rr.ReadHeader(); err != nil {
		return r.abort(ctx, local.Checksum, rr.Sheet().Name, err)
	}

	if err := r.begin(ctx, local.Checksum, rr.Sheet().Name); err != nil {
		return nil, err
	}
	return r.finish(ctx, r.process(ctx, rr))
}

// abort records a failed import for a workbook that could not be read.
func (r *importRun) abort(ctx context.Context, checksum, sheet string, cause error) (*Result, error) {
	if err := r.begin(ctx, checksum, sheet); err != nil {
		return nil, errors.Join(fmt.Errorf("import %s: %w", r.result.Location, cause), err)
	}
	return r.finish(ctx, cause)
}

// begin creates the import record. The record is written even when ctx is
// already cancelled so that the failure is recorded.
func (r *importRun) begin(ctx context.Context, checksum, sheet string) error {
	ctx = context.WithoutCancel(ctx)
	r.imp = &stores.Import{
		ID:       r.id,
		Source:   r.result.Location,
		Sheet:    sheet,
		Status:   stores.ImportStatusRunning,
		Checksum: checksum,
	}
	if err := r.store.CreateImport(ctx, r.imp); err != nil {
		telemetry.RecordError(r.span, err)
		return fmt.Errorf("import %s: create import: %w", r.result.Location, err)
	}
	r.result.Import = r.imp

	r.tel.Metrics.RecordImportStarted()
	_ = r.tel.Events.PublishImportStarted(r.id, r.result.Location)
	r.span.SetAttributes(telemetry.AttrSheet.String(sheet))
	r.logger.Info().Str("sheet", sheet).Msg("Import started")
	return nil
}

func (r *importRun) process(ctx context.Context, rr *reader.RecordReader) error {
	params := policy.Params{
		Sheet:           rr.Sheet().Name,
		RequiredColumns: r.opts.RequiredColumns,
		Data:            r.opts.PolicyData,
	}

	for rec, err := range rr.All(ctx) {
		if err != nil {
			return err
		}
		r.counts.Read++

		stop, err := r.processRecord(ctx, rec, params)
		if err != nil {
			return err
		}
		if stop {
			r.logger.Warn().Int("row", rec.Row).Msg("Critical violation, import stopped")
			break
		}
	}

	if err := r.flushRows(ctx); err != nil {
		return err
	}
	return r.flushIssues(ctx)
}

// processRecord filters, transforms, validates and buffers one record. It
// reports whether the import must stop.
func (r *importRun) processRecord(ctx context.Context, rec reader.Record, params policy.Params) (bool, error) {
	if r.opts.Filter != "" {
		keep, err := r.scripts.Filter(ctx, r.opts.Filter, rec)
		if err != nil {
			return false, r.scriptFailed(ctx, rec.Row, err)
		}
		if !keep {
			r.result.Filtered++
			r.tel.Metrics.RecordRowRejected(RejectFilter)
			return false, nil
		}
	}

	if r.opts.Transform != "" {
		out, err := r.scripts.Transform(ctx, r.opts.Transform, rec)
		if err != nil {
			return false, r.scriptFailed(ctx, rec.Row, err)
		}
		rec = out
	}

	if r.policies != nil {
		res, err := r.policies.EvaluateRecord(ctx, rec, params)
		if err != nil {
			return false, err
		}
		for _, w := range res.Warnings {
			r.addIssue(rec.Row, IssuePolicy, policy.SeverityWarning, "", w)
		}
		critical := false
		for _, v := range res.Violations {
			r.addIssue(v.Row, v.Policy, v.Severity, v.Column, v.Message)
			if v.Severity.Blocking() && len(r.result.Violations) < maxReportedViolations {
				r.result.Violations = append(r.result.Violations, v)
			}
			critical = critical || v.Severity == policy.SeverityCritical
		}

		if !res.Allowed {
			r.blocked = true
			r.counts.Rejected++
			r.tel.Metrics.RecordRowRejected(RejectPolicy)
			if critical && r.opts.FailOnViolation {
				return true, nil
			}
			return false, r.flushFull(ctx)
		}
	}

	data, err := json.Marshal(rec.Values)
	if err != nil {
		return false, fmt.Errorf("encode row %d: %w", rec.Row, err)
	}
	r.rows = append(r.rows, stores.ImportRow{ImportID: r.id, RowNumber: rec.Row, Data: data})
	return false, r.flushFull(ctx)
}

// scriptFailed rejects the row, unless the failure is the import's own
// cancellation.
func (r *importRun) scriptFailed(ctx context.Context, row int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	r.counts.Rejected++
	r.tel.Metrics.RecordRowRejected(RejectScript)
	r.addIssue(row, IssueScript, policy.SeverityError, "", err.Error())
	r.logger.Debug().Err(err).Int("row", row).Msg("Script failed, row rejected")
	return r.flushFull(ctx)
}

func (r *importRun) addIssue(row int, name string, severity policy.Severity, column, message string) {
	r.issues = append(r.issues, stores.ImportIssue{
		ImportID:  r.id,
		RowNumber: row,
		Policy:    name,
		Severity:  string(severity),
		Column:    column,
		Message:   message,
	})
	r.result.Issues++
}

func (r *importRun) flushFull(ctx context.Context) error {
	if len(r.rows) >= r.opts.BatchSize {
		if err := r.flushRows(ctx); err != nil {
			return err
		}
	}
	if len(r.issues) >= r.opts.BatchSize {
		return r.flushIssues(ctx)
	}
	return nil
}

func (r *importRun) flushRows(ctx context.Context) error {
	if len(r.rows) == 0 {
		return nil
	}
	if err := r.store.InsertRows(ctx, r.rows); err != nil {
		return fmt.Errorf("store rows: %w", err)
	}
	r.counts.Stored += len(r.rows)
	r.logger.Debug().Int("rows", len(r.rows)).Int("stored", r.counts.Stored).Msg("Batch stored")
	r.rows = r.rows[:0]
	return nil
}

func (r *importRun) flushIssues(ctx context.Context) error {
	if len(r.issues) == 0 {
		return nil
	}
	if err := r.store.InsertIssues(ctx, r.issues); err != nil {
		return fmt.Errorf("store issues: %w", err)
	}
	r.issues = r.issues[:0]
	return nil
}

// finish records the terminal status of the import.
func (r *importRun) finish(ctx context.Context, cause error) (*Result, error) {
	wctx := context.WithoutCancel(ctx)
	duration := time.Since(r.start)

	status := stores.ImportStatusCompleted
	var errMsg *string
	switch {
	case cause != nil:
		status = stores.ImportStatusFailed
		msg := cause.Error()
		errMsg = &msg
		// Issues found before the failure are still worth keeping.
		if err := r.flushIssues(wctx); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to store pending issues")
		}
	case r.blocked && r.opts.FailOnViolation:
		status = stores.ImportStatusRejected
		msg := fmt.Sprintf("%d rows violated blocking policies", r.counts.Rejected)
		errMsg = &msg
	}

	if err := r.store.CompleteImport(wctx, r.id, status, r.counts, errMsg); err != nil {
		telemetry.RecordError(r.span, err)
		return r.result, errors.Join(wrapCause(r.result.Location, cause), fmt.Errorf("complete import: %w", err))
	}
	if imp, err := r.store.GetImport(wctx, r.id); err == nil {
		r.imp = imp
		r.result.Import = imp
	}

	r.tel.Metrics.RecordImportCompleted(string(status), duration)
	r.span.SetAttributes(
		telemetry.AttrImportStatus.String(string(status)),
		telemetry.AttrRows.Int(r.counts.Read),
	)

	var event *zerolog.Event
	if cause != nil {
		class, code := classify(cause)
		r.tel.Metrics.RecordError(class, code)
		telemetry.RecordError(r.span, cause)
		_ = r.tel.Events.PublishImportFailed(r.id, r.result.Location, cause.Error())
		event = r.logger.Error().Err(cause)
	} else {
		telemetry.RecordSuccess(r.span)
		_ = r.tel.Events.PublishImportCompleted(r.id, r.result.Location, r.counts.Stored, r.counts.Rejected, duration)
		event = r.logger.Info()
	}
	event.
		Str("status", string(status)).
		Int("read", r.counts.Read).
		Int("stored", r.counts.Stored).
		Int("rejected", r.counts.Rejected).
		Int("filtered", r.result.Filtered).
		Dur("duration", duration).
		Msg("Import finished")

	return r.result, wrapCause(r.result.Location, cause)
}

func wrapCause(location string, cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("import %s: %w", location, cause)
}

// classify maps an import failure to an error class and code for metrics.
func classify(err error) (string, string) {
	var xe *excel.ExcelError
	var fe *source.FetchError
	switch {
	case errors.As(err, &xe):
		return string(xe.Class), xe.Code
	case errors.As(err, &fe):
		return "source", fe.Op
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled", ""
	default:
		return "store", ""
	}
}

// displayLocation returns raw without credentials.
func displayLocation(raw string) string {
	loc, err := source.ParseLocation(raw)
	if err != nil {
		return raw
	}
	return loc.String()
}
