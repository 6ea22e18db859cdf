// Package reader maps the rows of a worksheet to Go values.
//
// A sheet is read as one header row followed by data rows. TupleReader
// decodes each data row into a struct whose fields are tagged with the
// header text of their column; RecordReader yields untyped header keyed
// records. Both stream: memory use does not grow with the sheet.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"reflect"
	"strings"

	"github.com/maxexplode/fastexcel/pkg/excel"
	"github.com/maxexplode/fastexcel/pkg/workbook"
)

// TupleReader reads the data rows of one sheet as values of struct type T.
type TupleReader[T any] struct {
	src       *sheetReader
	plan      *recordPlan
	bindings  []binding
	rowFields []*field
	bound     bool
}

// Open opens the workbook at path and returns a reader for the sheet
// selected by opts. Closing the reader closes the workbook.
func Open[T any](ctx context.Context, path string, opts Options, wbOpts ...workbook.Option) (*TupleReader[T], error) {
	plan, err := planFor(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}

	wb, err := workbook.Open(ctx, path, opts.workbookOptions(wbOpts)...)
	if err != nil {
		return nil, err
	}

	src, err := newSheetReader(ctx, wb, true, opts)
	if err != nil {
		_ = wb.Close()
		return nil, err
	}
	return &TupleReader[T]{src: src, plan: plan}, nil
}

// New returns a reader over an already opened workbook. Closing the reader
// leaves the workbook open.
func New[T any](ctx context.Context, wb *workbook.Workbook, opts Options) (*TupleReader[T], error) {
	plan, err := planFor(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}

	src, err := newSheetReader(ctx, wb, false, opts)
	if err != nil {
		return nil, err
	}
	return &TupleReader[T]{src: src, plan: plan}, nil
}

// Next decodes the next data row. It returns io.EOF after the last row.
// A mapping error leaves the reader usable: the failed row is consumed and
// the next call continues with the following row.
func (r *TupleReader[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	row, err := r.src.next()
	if err != nil {
		return zero, err
	}

	if !r.bound {
		r.bind()
	}

	ptr := reflect.New(r.plan.typ)
	rec := ptr.Elem()
	for _, f := range r.rowFields {
		fv := rec.FieldByIndex(f.index)
		if fv.CanInt() && !fv.OverflowInt(int64(row.Number)) {
			fv.SetInt(int64(row.Number))
		} else if fv.CanUint() && !fv.OverflowUint(uint64(row.Number)) {
			fv.SetUint(uint64(row.Number))
		} else {
			return zero, excel.NewMappingError(fmt.Sprintf("row number %d overflows %s", row.Number, fv.Type()), nil).
				WithCode(excel.ErrCodeConversionFailed).
				WithSheet(r.src.sheet.Name).
				WithRow(row.Number).
				WithField(f.name)
		}
	}

	date1904 := r.src.wb.Date1904()
	for _, b := range r.bindings {
		cell, ok := row.Cell(b.column)
		if !ok {
			continue
		}
		if err := setField(rec.FieldByIndex(b.field.index), cell, date1904); err != nil {
			return zero, excel.NewMappingError("failed to convert cell", err).
				WithCode(excel.ErrCodeConversionFailed).
				WithSheet(r.src.sheet.Name).
				WithCell(cell.Ref).
				WithField(b.field.name)
		}
	}

	return ptr.Elem().Interface().(T), nil
}

func (r *TupleReader[T]) bind() {
	var missing []string
	r.bindings, r.rowFields, missing = r.plan.bind(r.src.headers, r.src.headerCols)
	if len(missing) > 0 {
		r.src.logger.Debug().Str("fields", strings.Join(missing, ", ")).Msg("Fields without a header column")
	}
	r.bound = true
}

// All iterates over the remaining rows. Mapping errors are yielded with the
// zero value and iteration continues; any other error ends it.
func (r *TupleReader[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, err := r.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(v, err) {
				return
			}
			if err != nil && !excel.IsMapping(err) {
				return
			}
		}
	}
}

// ReadAll reads every remaining row, stopping at the first error.
func (r *TupleReader[T]) ReadAll(ctx context.Context) ([]T, error) {
	var out []T
	for v, err := range r.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// TotalRowCount returns the number of data rows read so far.
func (r *TupleReader[T]) TotalRowCount() int {
	return r.src.count
}

// Headers returns the header text by 1-based column index.
func (r *TupleReader[T]) Headers() map[int]string {
	return r.src.headerMap()
}

// Sheet returns the sheet being read.
func (r *TupleReader[T]) Sheet() workbook.SheetInfo {
	return r.src.sheet
}

// Close releases the sheet stream, and the workbook when Open created it.
func (r *TupleReader[T]) Close() error {
	return r.src.close()
}
