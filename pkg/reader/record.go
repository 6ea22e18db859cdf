package reader

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/maxexplode/fastexcel/pkg/excel"
	"github.com/maxexplode/fastexcel/pkg/workbook"
)

// Record is one data row keyed by header text.
type Record struct {
	// Row is the physical row number.
	Row int `json:"row"`

	// Values maps each column name to the cell's display value. Every
	// column is present; missing cells map to "".
	Values map[string]string `json:"values"`

	// Columns are the column names in sheet order.
	Columns []string `json:"-"`
}

// Ordered returns the values in column order.
func (r Record) Ordered() []string {
	out := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		out[i] = r.Values[c]
	}
	return out
}

// RecordReader reads data rows as header keyed records.
type RecordReader struct {
	src     *sheetReader
	columns []string
	byCol   map[int]string
}

// OpenRecords opens the workbook at path and returns a record reader.
func OpenRecords(ctx context.Context, path string, opts Options, wbOpts ...workbook.Option) (*RecordReader, error) {
	wb, err := workbook.Open(ctx, path, opts.workbookOptions(wbOpts)...)
	if err != nil {
		return nil, err
	}
	src, err := newSheetReader(ctx, wb, true, opts)
	if err != nil {
		_ = wb.Close()
		return nil, err
	}
	return &RecordReader{src: src}, nil
}

// workbookOptions puts the reader's metrics ahead of the caller's options.
func (o Options) workbookOptions(wbOpts []workbook.Option) []workbook.Option {
	if o.Metrics == nil {
		return wbOpts
	}
	return append([]workbook.Option{workbook.WithMetrics(o.Metrics)}, wbOpts...)
}

// NewRecords returns a record reader over an opened workbook.
func NewRecords(ctx context.Context, wb *workbook.Workbook, opts Options) (*RecordReader, error) {
	src, err := newSheetReader(ctx, wb, false, opts)
	if err != nil {
		return nil, err
	}
	return &RecordReader{src: src}, nil
}

// Next returns the next record, or io.EOF.
func (r *RecordReader) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	row, err := r.src.next()
	if err != nil {
		return Record{}, err
	}
	if r.byCol == nil {
		r.columnNames()
	}

	rec := Record{
		Row:     row.Number,
		Values:  make(map[string]string, len(r.columns)),
		Columns: r.columns,
	}
	for _, name := range r.columns {
		rec.Values[name] = ""
	}
	for _, c := range row.Cells {
		if name, ok := r.byCol[c.Column]; ok {
			rec.Values[name] = c.Value
		}
	}
	return rec, nil
}

// columnNames derives unique column names from the header. A repeated
// header gets its column letter appended.
func (r *RecordReader) columnNames() {
	r.byCol = make(map[int]string, len(r.src.headerCols))
	seen := make(map[string]bool, len(r.src.headerCols))
	for _, col := range r.src.headerCols {
		name := r.src.headers[col]
		if seen[name] {
			name = name + "_" + excel.ColumnName(col)
		}
		seen[name] = true
		r.byCol[col] = name
		r.columns = append(r.columns, name)
	}
}

// All iterates over the remaining records. Iteration ends at the first error.
func (r *RecordReader) All(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for {
			rec, err := r.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// Columns returns the column names once the header has been read.
func (r *RecordReader) Columns() []string {
	if r.byCol == nil && r.src.headers != nil {
		r.columnNames()
	}
	return r.columns
}

// ReadHeader advances the stream until the header row has been read and
// returns the column names. Data rows are not consumed.
func (r *RecordReader) ReadHeader() ([]string, error) {
	if r.src.headers == nil {
		if err := r.src.readHeader(); err != nil {
			return nil, err
		}
	}
	return r.Columns(), nil
}

// Headers returns the header text by 1-based column index.
func (r *RecordReader) Headers() map[int]string {
	return r.src.headerMap()
}

// TotalRowCount returns the number of data rows read so far.
func (r *RecordReader) TotalRowCount() int {
	return r.src.count
}

// Sheet returns the sheet being read.
func (r *RecordReader) Sheet() workbook.SheetInfo {
	return r.src.sheet
}

// Workbook returns the underlying workbook.
func (r *RecordReader) Workbook() *workbook.Workbook {
	return r.src.wb
}

// Close releases the reader.
func (r *RecordReader) Close() error {
	return r.src.close()
}
