package workbook

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/maxexplode/fastexcel/pkg/excel"
)

// RowScanner streams the rows of one worksheet.
type RowScanner struct {
	ctx     context.Context
	wb      *Workbook
	sheet   SheetInfo
	rc      io.ReadCloser
	dec     *xml.Decoder
	lastRow int
	done    bool
}

// rawCell collects a <c> element while it is decoded.
type rawCell struct {
	ref    string
	column int
	typ    excel.CellType
	style  string
	value  strings.Builder
	hasVal bool
}

// Rows opens a streaming scanner over a sheet.
func (wb *Workbook) Rows(ctx context.Context, sheet SheetInfo) (*RowScanner, error) {
	rc, ok, err := wb.openPart(sheet.Path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, excel.NewFormatError(fmt.Sprintf("worksheet part %s not found", sheet.Path), nil).
			WithCode(excel.ErrCodeSheetNotFound).
			WithSheet(sheet.Name)
	}

	wb.logger.Debug().Str("sheet", sheet.Name).Str("part", sheet.Path).Msg("Scanning sheet")
	return &RowScanner{
		ctx:   ctx,
		wb:    wb,
		sheet: sheet,
		rc:    rc,
		dec:   xml.NewDecoder(rc),
	}, nil
}

// Sheet returns the sheet being scanned.
func (s *RowScanner) Sheet() SheetInfo {
	return s.sheet
}

// Next returns the next physical row. It returns io.EOF after the last row.
func (s *RowScanner) Next() (*excel.Row, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}

	var (
		row     *excel.Row
		cell    *rawCell
		lastCol int
		inValue bool
		inText  bool
		inline  bool
		rph     int
	)
	for {
		tok, err := s.dec.Token()
		if errors.Is(err, io.EOF) {
			s.done = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, excel.NewFormatError("failed to parse worksheet", err).
				WithCode(excel.ErrCodeInvalidWorkbook).
				WithSheet(s.sheet.Name)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				n, ok := attrInt(t, "r")
				if !ok {
					n = s.lastRow + 1
				}
				s.lastRow = n
				row = &excel.Row{Number: n}
				lastCol = 0
			case "c":
				if row == nil {
					continue
				}
				c, err := s.startCell(t, row.Number, lastCol)
				if err != nil {
					return nil, err
				}
				cell = c
				lastCol = c.column
			case "v":
				inValue = cell != nil
			case "is":
				inline = cell != nil
			case "rPh":
				rph++
			case "t":
				inText = inline && rph == 0
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "v":
				inValue = false
			case "is":
				inline = false
			case "rPh":
				rph--
			case "t":
				inText = false
			case "c":
				if cell == nil || !cell.hasVal {
					cell = nil
					continue
				}
				resolved, err := s.resolve(cell)
				if err != nil {
					return nil, err
				}
				row.Cells = append(row.Cells, resolved)
				cell = nil
			case "row":
				if row != nil {
					return row, nil
				}
			case "sheetData":
				s.done = true
				return nil, io.EOF
			}

		case xml.CharData:
			if cell != nil && (inValue || inText) {
				cell.value.Write(t)
				cell.hasVal = true
			}
		}
	}
}

func (s *RowScanner) startCell(se xml.StartElement, rowNum, lastCol int) (*rawCell, error) {
	c := &rawCell{
		ref:   attr(se, "r"),
		typ:   excel.ParseCellType(attr(se, "t")),
		style: attr(se, "s"),
	}
	if c.ref == "" {
		c.column = lastCol + 1
		c.ref = excel.CellRef(c.column, rowNum)
		return c, nil
	}
	col, _, err := excel.ParseCellRef(c.ref)
	if err != nil {
		return nil, excel.NewFormatError("invalid cell reference", err).
			WithCode(excel.ErrCodeInvalidWorkbook).
			WithSheet(s.sheet.Name).
			WithRow(rowNum)
	}
	c.column = col
	return c, nil
}

// resolve turns a decoded cell into its display value. Shared strings are
// looked up first; numeric cells are then formatted through their style.
func (s *RowScanner) resolve(c *rawCell) (excel.Cell, error) {
	raw := c.value.String()
	out := excel.Cell{Ref: c.ref, Column: c.column, Type: c.typ, Raw: raw}

	switch c.typ {
	case excel.CellTypeSharedString:
		idx, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return out, s.cellError(excel.NewFormatError("invalid shared string index", err), c.ref)
		}
		v, ok := s.wb.SharedString(idx)
		if !ok {
			return out, s.cellError(excel.NewFormatError(fmt.Sprintf("shared string %d out of range", idx), nil), c.ref)
		}
		out.Value = v
	case excel.CellTypeInlineString, excel.CellTypeFormulaString:
		out.Value = decodeEscapes(raw)
	case excel.CellTypeBool:
		switch strings.TrimSpace(raw) {
		case "1":
			out.Value = "TRUE"
		case "0":
			out.Value = "FALSE"
		default:
			out.Value = raw
		}
	case excel.CellTypeDate:
		out.Value = raw
		out.Date = true
	case excel.CellTypeError:
		out.Value = raw
	default:
		out.Value = raw
		if c.style == "" || raw == "" {
			break
		}
		idx, err := strconv.Atoi(c.style)
		if err != nil {
			return out, s.cellError(excel.NewFormatError(fmt.Sprintf("invalid style index %q", c.style), err).
				WithCode(excel.ErrCodeUnknownStyle), c.ref)
		}
		b, ok := s.wb.Style(idx)
		if !ok {
			if idx == 0 && len(s.wb.bound) == 0 {
				break
			}
			return out, s.cellError(excel.NewFormatError(fmt.Sprintf("unable to find style id %d", idx), nil).
				WithCode(excel.ErrCodeUnknownStyle), c.ref)
		}
		v, err := b.Format(raw)
		if err != nil {
			return out, s.cellError(err, c.ref)
		}
		out.Value = v
		out.NumFmtID = b.NumFmtID
		out.Date = b.Date
	}
	return out, nil
}

func (s *RowScanner) cellError(err error, ref string) error {
	var xe *excel.ExcelError
	if errors.As(err, &xe) {
		if xe.Code == "" {
			xe.WithCode(excel.ErrCodeInvalidWorkbook)
		}
		xe.WithSheet(s.sheet.Name).WithCell(ref)
		return xe
	}
	return excel.NewFormatError("failed to resolve cell", err).WithSheet(s.sheet.Name).WithCell(ref)
}

// Close releases the sheet stream.
func (s *RowScanner) Close() error {
	s.done = true
	if s.rc == nil {
		return nil
	}
	err := s.rc.Close()
	s.rc = nil
	return err
}
