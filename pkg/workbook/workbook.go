// Package workbook provides streaming access to the parts of an OOXML
// spreadsheet package (.xlsx).
//
// Open reads the small parts up front: the sheet list, the shared string
// table and the style table. Sheet data is never loaded whole; Rows returns
// a scanner that decodes one row at a time from the compressed stream.
package workbook

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/maxexplode/fastexcel/pkg/excel"
	"github.com/maxexplode/fastexcel/pkg/format"
	"github.com/maxexplode/fastexcel/pkg/telemetry"
)

const tracerName = "github.com/maxexplode/fastexcel/pkg/workbook"

// Package part names.
const (
	partWorkbook      = "xl/workbook.xml"
	partWorkbookRels  = "xl/_rels/workbook.xml.rels"
	partSharedStrings = "xl/sharedStrings.xml"
	partStyles        = "xl/styles.xml"
)

// Stats describes the caches built when a workbook is opened.
type Stats struct {
	Sheets        int           `json:"sheets"`
	SharedStrings int           `json:"shared_strings"`
	Styles        int           `json:"styles"`
	CustomFormats int           `json:"custom_formats"`
	Date1904      bool          `json:"date1904"`
	OpenDuration  time.Duration `json:"open_duration"`
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger     zerolog.Logger
	formatters []format.Formatter
	metrics    *telemetry.Metrics
}

func newOptions(opts []Option) *options {
	o := &options{logger: log.Logger}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// recordOpen reports an open attempt to the metrics, if any.
func (o *options) recordOpen(wb *Workbook, err error) {
	if err != nil {
		o.metrics.RecordWorkbookOpened("failure", 0, 0)
		return
	}
	o.metrics.RecordWorkbookOpened("success", wb.stats.OpenDuration, wb.stats.SharedStrings)
}

// WithLogger sets the logger used for cache diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records open attempts and cache sizes on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithFormatter registers an additional number formatter. Formatters are
// consulted in registration order, before the builtin date formatter.
func WithFormatter(f format.Formatter) Option {
	return func(o *options) { o.formatters = append(o.formatters, f) }
}

// Workbook is an opened spreadsheet package.
type Workbook struct {
	name     string
	closer   io.Closer
	files    map[string]*zip.File
	sheets   []SheetInfo
	strings  []string
	styles   *styleTable
	bound    []format.Bound
	date1904 bool
	logger   zerolog.Logger
	stats    Stats
}

// Open opens the workbook at path.
func Open(ctx context.Context, path string, opts ...Option) (*Workbook, error) {
	o := newOptions(opts)
	wb, err := openFile(ctx, path, o)
	o.recordOpen(wb, err)
	return wb, err
}

func openFile(ctx context.Context, path string, o *options) (*Workbook, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, excel.NewIOError(fmt.Sprintf("file %s does not exist", path), err).
				WithCode(excel.ErrCodeFileNotFound)
		}
		return nil, excel.NewIOError(fmt.Sprintf("failed to stat %s", path), err)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, excel.NewFormatError(fmt.Sprintf("%s is not a valid workbook", path), err).
			WithCode(excel.ErrCodeInvalidWorkbook)
	}

	wb, err := newWorkbook(ctx, path, &zr.Reader, o)
	if err != nil {
		_ = zr.Close()
		return nil, err
	}
	wb.closer = zr
	return wb, nil
}

// OpenReaderAt opens a workbook held in memory or any other random access source.
func OpenReaderAt(ctx context.Context, name string, r io.ReaderAt, size int64, opts ...Option) (*Workbook, error) {
	o := newOptions(opts)
	zr, err := zip.NewReader(r, size)
	if err != nil {
		err = excel.NewFormatError(fmt.Sprintf("%s is not a valid workbook", name), err).
			WithCode(excel.ErrCodeInvalidWorkbook)
		o.recordOpen(nil, err)
		return nil, err
	}
	wb, err := newWorkbook(ctx, name, zr, o)
	o.recordOpen(wb, err)
	return wb, err
}

func newWorkbook(ctx context.Context, name string, zr *zip.Reader, o *options) (*Workbook, error) {

	ctx, span := otel.Tracer(tracerName).Start(ctx, "workbook.open")
	defer span.End()
	span.SetAttributes(attribute.String("workbook.name", name))

	start := time.Now()
	wb := &Workbook{
		name:   name,
		files:  make(map[string]*zip.File, len(zr.File)),
		logger: o.logger.With().Str("workbook", name).Logger(),
	}
	for _, f := range zr.File {
		wb.files[f.Name] = f
	}

	if err := wb.load(ctx, o); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	wb.stats = Stats{
		Sheets:        len(wb.sheets),
		SharedStrings: len(wb.strings),
		Styles:        len(wb.styles.cellXfs),
		CustomFormats: len(wb.styles.numFmts),
		Date1904:      wb.date1904,
		OpenDuration:  time.Since(start),
	}
	span.SetAttributes(
		attribute.Int("workbook.sheets", wb.stats.Sheets),
		attribute.Int("workbook.shared_strings", wb.stats.SharedStrings),
		attribute.Int("workbook.styles", wb.stats.Styles),
	)
	wb.logger.Debug().
		Int("sheets", wb.stats.Sheets).
		Dur("duration", wb.stats.OpenDuration).
		Msg("Workbook opened")

	return wb, nil
}

func (wb *Workbook) load(ctx context.Context, o *options) error {
	sheets, date1904, err := wb.readSheetList()
	if err != nil {
		return err
	}
	if len(sheets) == 0 {
		return excel.NewFormatError(fmt.Sprintf("%s contains no worksheets", wb.name), nil).
			WithCode(excel.ErrCodeInvalidWorkbook)
	}
	wb.sheets = sheets
	wb.date1904 = date1904

	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	wb.strings, err = wb.readSharedStrings()
	if err != nil {
		return err
	}
	wb.logger.Info().
		Int("entries", len(wb.strings)).
		Dur("duration", time.Since(start)).
		Msg("Shared string cache processed")

	if err := ctx.Err(); err != nil {
		return err
	}

	start = time.Now()
	wb.styles, err = wb.readStyles()
	if err != nil {
		return err
	}

	registry := format.NewRegistry(o.formatters...)
	registry.Register(format.NewDateFormatter(date1904))
	wb.bound = make([]format.Bound, len(wb.styles.cellXfs))
	for i, id := range wb.styles.cellXfs {
		wb.bound[i] = registry.Resolve(id, wb.styles.numFmts[id])
	}
	wb.logger.Info().
		Int("styles", len(wb.styles.cellXfs)).
		Int("custom_formats", len(wb.styles.numFmts)).
		Dur("duration", time.Since(start)).
		Msg("Style cache processed")

	return nil
}

// Name returns the path or name the workbook was opened with.
func (wb *Workbook) Name() string {
	return wb.name
}

// Sheets returns the sheets in workbook order.
func (wb *Workbook) Sheets() []SheetInfo {
	out := make([]SheetInfo, len(wb.sheets))
	copy(out, wb.sheets)
	return out
}

// Date1904 reports whether the workbook uses the 1904 date system.
func (wb *Workbook) Date1904() bool {
	return wb.date1904
}

// SharedString returns entry i of the shared string table.
func (wb *Workbook) SharedString(i int) (string, bool) {
	if i < 0 || i >= len(wb.strings) {
		return "", false
	}
	return wb.strings[i], true
}

// Style returns the number format bound to cell style index i.
func (wb *Workbook) Style(i int) (format.Bound, bool) {
	if i < 0 || i >= len(wb.bound) {
		return format.Bound{}, false
	}
	return wb.bound[i], true
}

// Stats returns the cache statistics collected by Open.
func (wb *Workbook) Stats() Stats {
	return wb.stats
}

// Close releases the underlying archive.
func (wb *Workbook) Close() error {
	if wb.closer == nil {
		return nil
	}
	err := wb.closer.Close()
	wb.closer = nil
	if err != nil {
		return excel.NewIOError("failed to close workbook", err)
	}
	return nil
}

// openPart opens a package part. ok is false when the part is absent.
func (wb *Workbook) openPart(name string) (io.ReadCloser, bool, error) {
	f, ok := wb.files[name]
	if !ok {
		return nil, false, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, true, excel.NewFormatError(fmt.Sprintf("failed to open part %s", name), err).
			WithCode(excel.ErrCodeInvalidWorkbook)
	}
	return rc, true, nil
}
