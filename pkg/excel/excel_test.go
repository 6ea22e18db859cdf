package excel

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnIndex(t *testing.T) {
	tests := []struct {
		letters string
		want    int
		wantErr bool
	}{
		{letters: "A", want: 1},
		{letters: "Z", want: 26},
		{letters: "AA", want: 27},
		{letters: "AB", want: 28},
		{letters: "az", want: 52},
		{letters: "XFD", want: MaxColumns},
		{letters: "XFE", wantErr: true},
		{letters: "", wantErr: true},
		{letters: "A1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.letters, func(t *testing.T) {
			got, err := ColumnIndex(tt.letters)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, mustIndex(t, ColumnName(got)))
		})
	}
}

func mustIndex(t *testing.T, letters string) int {
	t.Helper()
	idx, err := ColumnIndex(letters)
	require.NoError(t, err)
	return idx
}

func TestColumnName(t *testing.T) {
	assert.Equal(t, "A", ColumnName(1))
	assert.Equal(t, "Z", ColumnName(26))
	assert.Equal(t, "AA", ColumnName(27))
	assert.Equal(t, "ZZ", ColumnName(702))
	assert.Equal(t, "AAA", ColumnName(703))
	assert.Equal(t, "", ColumnName(0))
}

func TestParseCellRef(t *testing.T) {
	tests := []struct {
		ref     string
		col     int
		row     int
		wantErr bool
	}{
		{ref: "A1", col: 1, row: 1},
		{ref: "AB12", col: 28, row: 12},
		{ref: "$C$7", col: 3, row: 7},
		{ref: "A", wantErr: true},
		{ref: "12", wantErr: true},
		{ref: "A0", wantErr: true},
		{ref: "A1B", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			col, row, err := ParseCellRef(tt.ref)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.col, col)
			assert.Equal(t, tt.row, row)
		})
	}

	assert.Equal(t, "AB12", CellRef(28, 12))
}

func TestSerialToTime(t *testing.T) {
	tests := []struct {
		name     string
		serial   float64
		date1904 bool
		want     time.Time
	}{
		{name: "first day", serial: 1, want: time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "before phantom leap day", serial: 59, want: time.Date(1900, 2, 28, 0, 0, 0, 0, time.UTC)},
		{name: "after phantom leap day", serial: 61, want: time.Date(1900, 3, 1, 0, 0, 0, 0, time.UTC)},
		{name: "modern date", serial: 44576, want: time.Date(2022, 1, 15, 0, 0, 0, 0, time.UTC)},
		{name: "noon", serial: 44576.5, want: time.Date(2022, 1, 15, 12, 0, 0, 0, time.UTC)},
		{name: "1904 system", serial: 0, date1904: true, want: time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SerialToTime(tt.serial, tt.date1904)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			if !tt.date1904 {
				assert.InDelta(t, tt.serial, TimeToSerial(got), 1e-9)
			}
		})
	}

	_, err := SerialToTime(-1, false)
	require.Error(t, err)

	_, err = ParseSerial("not-a-number", false)
	require.Error(t, err)
}

func TestExcelError(t *testing.T) {
	base := errors.New("strconv.ParseInt: parsing \"abc\": invalid syntax")
	err := NewMappingError("cannot convert value", base).
		WithCode(ErrCodeConversionFailed).
		WithSheet("People").
		WithCell("C7").
		WithField("Age")

	assert.Equal(t, 7, err.Row)
	assert.Contains(t, err.Error(), "[mapping] cannot convert value")
	assert.Contains(t, err.Error(), "sheet=People, cell=C7, field=Age")
	assert.ErrorIs(t, err, base)

	wrapped := fmt.Errorf("read row: %w", err)
	assert.True(t, IsMapping(wrapped))
	assert.False(t, IsFormat(wrapped))
	assert.Equal(t, ErrCodeConversionFailed, CodeOf(wrapped))
	assert.ErrorIs(t, wrapped, &ExcelError{Class: ErrorClassMapping, Code: ErrCodeConversionFailed})
	assert.NotErrorIs(t, wrapped, &ExcelError{Class: ErrorClassMapping, Code: ErrCodeNoHeader})
}

func TestRowIsEmpty(t *testing.T) {
	row := &Row{Number: 3, Cells: []Cell{{Column: 1, Value: "  "}}}
	assert.True(t, row.IsEmpty())

	row.Cells = append(row.Cells, Cell{Column: 2, Value: "x"})
	assert.False(t, row.IsEmpty())

	c, ok := row.Cell(2)
	require.True(t, ok)
	assert.Equal(t, "x", c.Value)

	_, ok = row.Cell(9)
	assert.False(t, ok)
}

func TestParseCellType(t *testing.T) {
	assert.Equal(t, CellTypeNumber, ParseCellType(""))
	assert.Equal(t, CellTypeNumber, ParseCellType("n"))
	assert.Equal(t, CellTypeSharedString, ParseCellType("s"))
	assert.True(t, ParseCellType("inlineStr").IsText())
	assert.False(t, CellTypeBool.IsText())
	assert.True(t, IsErrorLiteral("#N/A"))
	assert.False(t, IsErrorLiteral("N/A"))
}
