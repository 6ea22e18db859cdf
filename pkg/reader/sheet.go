package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maxexplode/fastexcel/pkg/excel"
	"github.com/maxexplode/fastexcel/pkg/telemetry"
	"github.com/maxexplode/fastexcel/pkg/workbook"
)

const tracerName = "github.com/maxexplode/fastexcel/pkg/reader"

// sheetReader classifies the rows of one sheet into header, data and
// skipped rows. It backs both TupleReader and RecordReader.
type sheetReader struct {
	wb      *workbook.Workbook
	owned   bool
	sheet   workbook.SheetInfo
	scanner *workbook.RowScanner
	opts    Options
	logger  zerolog.Logger
	span    trace.Span

	headers    map[int]string
	headerCols []int
	count      int
	done       bool
	spanEnded  bool
}

func newSheetReader(ctx context.Context, wb *workbook.Workbook, owned bool, opts Options) (*sheetReader, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	sheet, err := selectSheet(wb, opts)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "reader.read", trace.WithAttributes(
		telemetry.AttrWorkbook.String(wb.Name()),
		telemetry.AttrSheet.String(sheet.Name),
	))

	scanner, err := wb.Rows(ctx, sheet)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	return &sheetReader{
		wb:      wb,
		owned:   owned,
		sheet:   sheet,
		scanner: scanner,
		opts:    opts,
		logger:  zerolog.Ctx(ctx).With().Str("workbook", wb.Name()).Str("sheet", sheet.Name).Logger(),
		span:    span,
	}, nil
}

func selectSheet(wb *workbook.Workbook, opts Options) (workbook.SheetInfo, error) {
	switch {
	case opts.SheetName != "":
		return wb.SheetByName(opts.SheetName)
	case opts.Sheet > 0:
		return wb.SheetByIndex(opts.Sheet)
	default:
		sheets := wb.Sheets()
		if len(sheets) == 0 {
			return workbook.SheetInfo{}, excel.NewFormatError("workbook has no sheets", nil).
				WithCode(excel.ErrCodeSheetNotFound)
		}
		return sheets[0], nil
	}
}

// next returns the next data row, or io.EOF.
func (r *sheetReader) next() (*excel.Row, error) {
	if r.done {
		return nil, io.EOF
	}

	for {
		row, err := r.scanner.Next()
		if err != nil {
			r.finish(err)
			return nil, err
		}

		switch {
		case row.Number == r.opts.HeaderRow:
			r.setHeaders(row)
			r.opts.Metrics.RecordRows(telemetry.RowKindHeader, 1)
		case row.Number >= r.opts.DataRow:
			if r.headers == nil {
				err := r.noHeader(row.Number)
				r.finish(err)
				return nil, err
			}
			if r.opts.SkipEmpty && row.IsEmpty() {
				r.opts.Metrics.RecordRows(telemetry.RowKindSkipped, 1)
				continue
			}
			r.count++
			r.opts.Metrics.RecordRows(telemetry.RowKindData, 1)
			return row, nil
		default:
			r.opts.Metrics.RecordRows(telemetry.RowKindSkipped, 1)
		}
	}
}

// readHeader consumes rows up to and including the header row.
func (r *sheetReader) readHeader() error {
	for r.headers == nil {
		if r.done {
			return r.noHeader(0)
		}
		row, err := r.scanner.Next()
		if errors.Is(err, io.EOF) {
			err = r.noHeader(0)
		}
		if err != nil {
			r.finish(err)
			return err
		}

		switch {
		case row.Number == r.opts.HeaderRow:
			r.setHeaders(row)
			r.opts.Metrics.RecordRows(telemetry.RowKindHeader, 1)
		case row.Number >= r.opts.DataRow:
			err := r.noHeader(row.Number)
			r.finish(err)
			return err
		default:
			r.opts.Metrics.RecordRows(telemetry.RowKindSkipped, 1)
		}
	}
	return nil
}

func (r *sheetReader) noHeader(row int) error {
	msg := fmt.Sprintf("header row %d not found", r.opts.HeaderRow)
	if row > 0 {
		msg = fmt.Sprintf("data row %d found before header row %d", row, r.opts.HeaderRow)
	}
	return excel.NewFormatError(msg, nil).
		WithCode(excel.ErrCodeNoHeader).
		WithSheet(r.sheet.Name).
		WithRow(row)
}

func (r *sheetReader) setHeaders(row *excel.Row) {
	r.headers = make(map[int]string, len(row.Cells))
	r.headerCols = r.headerCols[:0]
	for _, c := range row.Cells {
		name := strings.TrimSpace(c.Value)
		if name == "" {
			continue
		}
		r.headers[c.Column] = name
		r.headerCols = append(r.headerCols, c.Column)
	}
	sort.Ints(r.headerCols)
	r.logger.Debug().Int("row", row.Number).Int("columns", len(r.headers)).Msg("Header row read")
}

// finish ends the span once the stream is exhausted or fails.
func (r *sheetReader) finish(err error) {
	r.done = true
	if r.spanEnded {
		return
	}
	r.spanEnded = true
	r.span.SetAttributes(attribute.Int(string(telemetry.AttrRows), r.count))
	if err != nil && !errors.Is(err, io.EOF) {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	}
	r.span.End()
	r.logger.Debug().Int("rows", r.count).Msg("Sheet read finished")
}

// headerMap returns a copy of the header columns.
func (r *sheetReader) headerMap() map[int]string {
	out := make(map[int]string, len(r.headers))
	for k, v := range r.headers {
		out[k] = v
	}
	return out
}

func (r *sheetReader) close() error {
	r.finish(nil)
	err := r.scanner.Close()
	if r.owned {
		if cerr := r.wb.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
