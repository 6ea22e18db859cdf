package workbook

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxexplode/fastexcel/internal/xlsxtest"
	"github.com/maxexplode/fastexcel/pkg/excel"
)

func openBuilt(t *testing.T, b *xlsxtest.Builder) *Workbook {
	t.Helper()
	data, err := b.Bytes()
	require.NoError(t, err)
	wb, err := OpenReaderAt(context.Background(), "test.xlsx", bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = wb.Close() })
	return wb
}

func scanAll(t *testing.T, wb *Workbook, sheet SheetInfo) []*excel.Row {
	t.Helper()
	rs, err := wb.Rows(context.Background(), sheet)
	require.NoError(t, err)
	defer rs.Close()

	var rows []*excel.Row
	for {
		row, err := rs.Next()
		if errors.Is(err, io.EOF) {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := Open(context.Background(), filepath.Join(dir, "nope.xlsx"))
		require.Error(t, err)
		assert.True(t, excel.IsIO(err))
		assert.Equal(t, excel.ErrCodeFileNotFound, excel.CodeOf(err))
	})

	t.Run("not a zip", func(t *testing.T) {
		p := filepath.Join(dir, "plain.xlsx")
		require.NoError(t, os.WriteFile(p, []byte("hello"), 0o600))
		_, err := Open(context.Background(), p)
		require.Error(t, err)
		assert.True(t, excel.IsFormat(err))
		assert.Equal(t, excel.ErrCodeInvalidWorkbook, excel.CodeOf(err))
	})

	t.Run("no worksheets", func(t *testing.T) {
		p := xlsxtest.New().WithoutWorkbook().WriteFile(t, dir, "empty.xlsx")
		_, err := Open(context.Background(), p)
		require.Error(t, err)
		assert.Equal(t, excel.ErrCodeInvalidWorkbook, excel.CodeOf(err))
	})
}

func TestOpen_FromDisk(t *testing.T) {
	p := xlsxtest.New().
		Strings("Name").
		Sheet("People", xlsxtest.Row(1, xlsxtest.Shared("A1", 0))).
		WriteFile(t, t.TempDir(), "people.xlsx")

	wb, err := Open(context.Background(), p)
	require.NoError(t, err)
	defer wb.Close()

	assert.Equal(t, p, wb.Name())
	rows := scanAll(t, wb, wb.Sheets()[0])
	require.Len(t, rows, 1)
	assert.Equal(t, "Name", rows[0].Cells[0].Value)
	require.NoError(t, wb.Close())
	require.NoError(t, wb.Close())
}

func TestSheets(t *testing.T) {
	wb := openBuilt(t, xlsxtest.New().
		Sheet("Summary").
		Sheet("Data").
		Sheet("Notes"))

	sheets := wb.Sheets()
	require.Len(t, sheets, 3)
	assert.Equal(t, SheetInfo{Index: 2, Name: "Data", SheetID: 2, Path: "xl/worksheets/sheet2.xml"}, sheets[1])

	s, err := wb.SheetByIndex(3)
	require.NoError(t, err)
	assert.Equal(t, "Notes", s.Name)

	s, err = wb.SheetByName("data")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Index)

	_, err = wb.SheetByIndex(9)
	assert.Equal(t, excel.ErrCodeSheetNotFound, excel.CodeOf(err))

	_, err = wb.SheetByName("Missing")
	assert.Equal(t, excel.ErrCodeSheetNotFound, excel.CodeOf(err))

	assert.Equal(t, 3, wb.Stats().Sheets)
}

func TestSheets_WithoutWorkbookPart(t *testing.T) {
	wb := openBuilt(t, xlsxtest.New().
		WithoutWorkbook().
		Sheet("ignored", xlsxtest.Row(1, xlsxtest.Num("A1", "1"))).
		Sheet("ignored", xlsxtest.Row(1, xlsxtest.Num("A1", "2"))))

	sheets := wb.Sheets()
	require.Len(t, sheets, 2)
	assert.Equal(t, "Sheet1", sheets[0].Name)
	assert.Equal(t, "xl/worksheets/sheet2.xml", sheets[1].Path)
}

func TestSharedStrings(t *testing.T) {
	wb := openBuilt(t, xlsxtest.New().
		Strings("plain", "  padded  ").
		RawStrings(
			`<si><r><t>rich </t></r><r><rPr><b/></rPr><t>text</t></r></si>`+
				`<si><t>漢字</t><rPh sb="0" eb="2"><t>かんじ</t></rPh></si>`+
				`<si><t>line_x000D_break</t></si>`+
				`<si/>`).
		Sheet("S"))

	want := []string{"plain", "  padded  ", "rich text", "漢字", "line\rbreak", ""}
	for i, w := range want {
		got, ok := wb.SharedString(i)
		require.True(t, ok, "entry %d", i)
		assert.Equal(t, w, got, "entry %d", i)
	}
	_, ok := wb.SharedString(len(want))
	assert.False(t, ok)
	assert.Equal(t, len(want), wb.Stats().SharedStrings)
}

func TestRows_CellTypes(t *testing.T) {
	wb := openBuilt(t, xlsxtest.New().
		Strings("Header", "shared").
		Sheet("S",
			xlsxtest.Row(1, xlsxtest.Shared("A1", 0), xlsxtest.Inline("B1", "inline")),
			xlsxtest.Row(2,
				xlsxtest.Shared("A2", 1),
				xlsxtest.Num("B2", "42.5"),
				xlsxtest.Bool("C2", true),
				xlsxtest.Err("D2", "#N/A"),
				xlsxtest.Formula("E2", `CONCAT("a","b")`, "ab"),
				xlsxtest.Blank("F2", 0),
				`<c r="AA2" t="d"><v>2022-01-15T00:00:00Z</v></c>`,
			),
		))

	rows := scanAll(t, wb, wb.Sheets()[0])
	require.Len(t, rows, 2)

	assert.Equal(t, 1, rows[0].Number)
	assert.Equal(t, "Header", rows[0].Cells[0].Value)
	assert.Equal(t, "inline", rows[0].Cells[1].Value)

	cells := rows[1].Cells
	require.Len(t, cells, 6)
	assert.Equal(t, "shared", cells[0].Value)
	assert.Equal(t, "1", cells[0].Raw)
	assert.Equal(t, "42.5", cells[1].Value)
	assert.Equal(t, excel.CellTypeNumber, cells[1].Type)
	assert.Equal(t, "TRUE", cells[2].Value)
	assert.Equal(t, "#N/A", cells[3].Value)
	assert.Equal(t, "ab", cells[4].Value)
	assert.Equal(t, 27, cells[5].Column)
	assert.Equal(t, "AA2", cells[5].Ref)
	assert.True(t, cells[5].Date)
}

func TestRows_MissingReferences(t *testing.T) {
	wb := openBuilt(t, xlsxtest.New().
		Sheet("S",
			`<row><c t="inlineStr"><is><t>a</t></is></c><c><v>1</v></c></row>`,
			`<row><c><v>2</v></c></row>`,
			xlsxtest.Row(7, xlsxtest.Num("C7", "3")),
			`<row><c><v>4</v></c></row>`,
		))

	rows := scanAll(t, wb, wb.Sheets()[0])
	require.Len(t, rows, 4)
	assert.Equal(t, []int{1, 2, 7, 8}, []int{rows[0].Number, rows[1].Number, rows[2].Number, rows[3].Number})
	assert.Equal(t, "A1", rows[0].Cells[0].Ref)
	assert.Equal(t, 2, rows[0].Cells[1].Column)
	assert.Equal(t, "B1", rows[0].Cells[1].Ref)
	assert.Equal(t, 3, rows[2].Cells[0].Column)
}

func TestRows_DateStyles(t *testing.T) {
	wb := openBuilt(t, xlsxtest.New().
		NumFmt(164, "yyyy-mm-dd").
		NumFmt(165, `0.00 "kg"`).
		Xf(0, 14, 164, 165).
		Sheet("S",
			xlsxtest.Row(1,
				xlsxtest.Styled("A1", "44576", 0),
				xlsxtest.Styled("B1", "44576", 1),
				xlsxtest.Styled("C1", "44576.5", 2),
				xlsxtest.Styled("D1", "12.5", 3),
			),
		))

	rows := scanAll(t, wb, wb.Sheets()[0])
	require.Len(t, rows, 1)
	c := rows[0].Cells

	assert.Equal(t, "44576", c[0].Value)
	assert.False(t, c[0].Date)

	assert.Equal(t, "01/15/2022", c[1].Value)
	assert.True(t, c[1].Date)
	assert.Equal(t, 14, c[1].NumFmtID)

	assert.Equal(t, "2022-01-15", c[2].Value)
	assert.Equal(t, "44576.5", c[2].Raw)

	assert.Equal(t, "12.5", c[3].Value)
	assert.False(t, c[3].Date)

	stats := wb.Stats()
	assert.Equal(t, 4, stats.Styles)
	assert.Equal(t, 2, stats.CustomFormats)
}

func TestRows_Date1904(t *testing.T) {
	wb := openBuilt(t, xlsxtest.New().
		Date1904().
		NumFmt(164, "yyyy-mm-dd").
		Xf(0, 164).
		Sheet("S", xlsxtest.Row(1, xlsxtest.Styled("A1", "1", 1))))

	assert.True(t, wb.Date1904())
	rows := scanAll(t, wb, wb.Sheets()[0])
	assert.Equal(t, "1904-01-02", rows[0].Cells[0].Value)
}

func TestRows_UnknownStyle(t *testing.T) {
	wb := openBuilt(t, xlsxtest.New().
		Xf(0).
		Sheet("S", xlsxtest.Row(3, xlsxtest.Styled("B3", "1", 5))))

	rs, err := wb.Rows(context.Background(), wb.Sheets()[0])
	require.NoError(t, err)
	defer rs.Close()

	_, err = rs.Next()
	require.Error(t, err)
	assert.True(t, excel.IsFormat(err))
	assert.Equal(t, excel.ErrCodeUnknownStyle, excel.CodeOf(err))

	var xe *excel.ExcelError
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, "S", xe.Sheet)
	assert.Equal(t, "B3", xe.Cell)
	assert.Equal(t, 3, xe.Row)
}

func TestRows_WithoutStylesOrStrings(t *testing.T) {
	wb := openBuilt(t, xlsxtest.New().
		WithoutStyles().
		WithoutSharedStrings().
		Sheet("S", xlsxtest.Row(1, xlsxtest.Styled("A1", "7", 0), xlsxtest.Inline("B1", "x"))))

	rows := scanAll(t, wb, wb.Sheets()[0])
	require.Len(t, rows, 1)
	assert.Equal(t, "7", rows[0].Cells[0].Value)
	assert.Equal(t, "x", rows[0].Cells[1].Value)
	assert.Zero(t, wb.Stats().SharedStrings)
}

func TestRows_SharedStringOutOfRange(t *testing.T) {
	wb := openBuilt(t, xlsxtest.New().
		Strings("only").
		Sheet("S", xlsxtest.Row(1, xlsxtest.Shared("A1", 4))))

	rs, err := wb.Rows(context.Background(), wb.Sheets()[0])
	require.NoError(t, err)
	defer rs.Close()

	_, err = rs.Next()
	require.Error(t, err)
	assert.True(t, excel.IsFormat(err))
}

func TestRows_ContextCancelled(t *testing.T) {
	wb := openBuilt(t, xlsxtest.New().Sheet("S", xlsxtest.Row(1, xlsxtest.Num("A1", "1"))))

	ctx, cancel := context.WithCancel(context.Background())
	rs, err := wb.Rows(ctx, wb.Sheets()[0])
	require.NoError(t, err)
	defer rs.Close()

	cancel()
	_, err = rs.Next()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRows_EmptySheet(t *testing.T) {
	wb := openBuilt(t, xlsxtest.New().Sheet("S"))

	rs, err := wb.Rows(context.Background(), wb.Sheets()[0])
	require.NoError(t, err)
	defer rs.Close()

	_, err = rs.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = rs.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeEscapes(t *testing.T) {
	assert.Equal(t, "a\tb", decodeEscapes("a_x0009_b"))
	assert.Equal(t, "_x00zz_", decodeEscapes("_x00zz_"))
	assert.Equal(t, "plain", decodeEscapes("plain"))
}
