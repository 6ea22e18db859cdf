// Package output renders records for the command line.
package output

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/maxexplode/fastexcel/pkg/reader"
)

// Format is a record output format.
type Format string

const (
	// FormatNDJSON writes one JSON object per line.
	FormatNDJSON Format = "ndjson"

	// FormatCSV writes a header line followed by comma separated rows.
	FormatCSV Format = "csv"

	// FormatTable writes aligned columns for terminals.
	FormatTable Format = "table"
)

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatNDJSON, FormatCSV, FormatTable:
		return f, nil
	case "json", "jsonl":
		return FormatNDJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want ndjson, csv or table)", s)
}

// RecordWriter writes records. Flush must be called once all records have
// been written.
type RecordWriter interface {
	WriteRecord(rec reader.Record) error
	Flush() error
}

// NewRecordWriter returns a writer for format. columns fixes the column
// order of csv and table output.
func NewRecordWriter(format Format, w io.Writer, columns []string) (RecordWriter, error) {
	switch format {
	case FormatNDJSON:
		return &ndjsonWriter{w: bufio.NewWriter(w), columns: columns}, nil
	case FormatCSV:
		return &csvWriter{w: csv.NewWriter(w), columns: columns}, nil
	case FormatTable:
		return &tableWriter{w: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0), columns: columns}, nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

type ndjsonWriter struct {
	w       *bufio.Writer
	columns []string
}

func (n *ndjsonWriter) WriteRecord(rec reader.Record) error {
	columns := rec.Columns
	if len(columns) == 0 {
		columns = n.columns
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `{"row":%d,"values":{`, rec.Row)
	for i, c := range columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return err
		}
		val, err := json.Marshal(rec.Values[c])
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString("}}\n")

	if _, err := n.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func (n *ndjsonWriter) Flush() error {
	return n.w.Flush()
}

type csvWriter struct {
	w       *csv.Writer
	columns []string
	started bool
}

func (c *csvWriter) header() error {
	if c.started {
		return nil
	}
	c.started = true
	return c.w.Write(c.columns)
}

func (c *csvWriter) WriteRecord(rec reader.Record) error {
	if len(c.columns) == 0 {
		c.columns = rec.Columns
	}
	if err := c.header(); err != nil {
		return err
	}
	row := make([]string, len(c.columns))
	for i, col := range c.columns {
		row[i] = rec.Values[col]
	}
	return c.w.Write(row)
}

func (c *csvWriter) Flush() error {
	if err := c.header(); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

type tableWriter struct {
	w       *tabwriter.Writer
	columns []string
	started bool
}

func (t *tableWriter) header() error {
	if t.started {
		return nil
	}
	t.started = true
	cells := append([]string{"ROW"}, t.columns...)
	if _, err := fmt.Fprintln(t.w, strings.Join(cells, "\t")); err != nil {
		return err
	}
	rule := make([]string, len(cells))
	for i, c := range cells {
		rule[i] = strings.Repeat("-", max(len(c), 3))
	}
	_, err := fmt.Fprintln(t.w, strings.Join(rule, "\t"))
	return err
}

func (t *tableWriter) WriteRecord(rec reader.Record) error {
	if len(t.columns) == 0 {
		t.columns = rec.Columns
	}
	if err := t.header(); err != nil {
		return err
	}
	cells := make([]string, 0, len(t.columns)+1)
	cells = append(cells, fmt.Sprint(rec.Row))
	for _, col := range t.columns {
		cells = append(cells, sanitize(rec.Values[col]))
	}
	_, err := fmt.Fprintln(t.w, strings.Join(cells, "\t"))
	return err
}

func (t *tableWriter) Flush() error {
	if err := t.header(); err != nil {
		return err
	}
	return t.w.Flush()
}

// sanitize keeps a cell on one table line.
func sanitize(s string) string {
	return strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ").Replace(s)
}

// JSON writes v as indented JSON.
func JSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
