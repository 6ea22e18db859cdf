package workbook

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/maxexplode/fastexcel/pkg/excel"
)

// SheetInfo describes one worksheet.
type SheetInfo struct {
	// Index is the 1-based position in workbook order.
	Index int `json:"index"`

	// Name is the tab name.
	Name string `json:"name"`

	// SheetID is the sheetId attribute from workbook.xml.
	SheetID int `json:"sheet_id"`

	// Path is the part name inside the package, e.g. xl/worksheets/sheet1.xml.
	Path string `json:"path"`

	// Hidden is true for hidden and very hidden sheets.
	Hidden bool `json:"hidden,omitempty"`
}

type sheetEntry struct {
	name    string
	sheetID int
	relID   string
	hidden  bool
}

// readSheetList parses workbook.xml and its relationships. Packages without
// a workbook part fall back to the worksheet parts present in the archive.
func (wb *Workbook) readSheetList() ([]SheetInfo, bool, error) {
	rc, ok, err := wb.openPart(partWorkbook)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return wb.worksheetParts(), false, nil
	}
	defer rc.Close()

	var (
		entries  []sheetEntry
		date1904 bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, false, partError(partWorkbook, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "workbookPr":
			date1904 = attrBool(se, "date1904")
		case "sheet":
			id, _ := attrInt(se, "sheetId")
			state := attr(se, "state")
			entries = append(entries, sheetEntry{
				name:    attr(se, "name"),
				sheetID: id,
				relID:   nsAttr(se, "id"),
				hidden:  state == "hidden" || state == "veryHidden",
			})
		}
	}

	targets, err := wb.readRelationships()
	if err != nil {
		return nil, false, err
	}

	sheets := make([]SheetInfo, 0, len(entries))
	for i, e := range entries {
		p, ok := targets[e.relID]
		if !ok {
			// Relationship part missing or incomplete: assume the default naming.
			p = fmt.Sprintf("xl/worksheets/sheet%d.xml", i+1)
		}
		sheets = append(sheets, SheetInfo{
			Index:   i + 1,
			Name:    e.name,
			SheetID: e.sheetID,
			Path:    p,
			Hidden:  e.hidden,
		})
	}
	return sheets, date1904, nil
}

// readRelationships maps relationship ids to part names.
func (wb *Workbook) readRelationships() (map[string]string, error) {
	targets := make(map[string]string)

	rc, ok, err := wb.openPart(partWorkbookRels)
	if err != nil || !ok {
		return targets, err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return targets, nil
		}
		if err != nil {
			return nil, partError(partWorkbookRels, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Relationship" {
			continue
		}
		if strings.EqualFold(attr(se, "TargetMode"), "External") {
			continue
		}
		targets[attr(se, "Id")] = resolveTarget(attr(se, "Target"))
	}
}

// resolveTarget turns a relationship target into a package part name.
func resolveTarget(target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	return path.Clean(path.Join("xl", target))
}

// worksheetParts lists xl/worksheets/sheetN.xml parts ordered by N.
func (wb *Workbook) worksheetParts() []SheetInfo {
	type part struct {
		n    int
		name string
	}
	var parts []part
	for name := range wb.files {
		base, ok := strings.CutPrefix(name, "xl/worksheets/sheet")
		if !ok {
			continue
		}
		num, ok := strings.CutSuffix(base, ".xml")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			continue
		}
		parts = append(parts, part{n: n, name: name})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].n < parts[j].n })

	sheets := make([]SheetInfo, len(parts))
	for i, p := range parts {
		sheets[i] = SheetInfo{
			Index:   i + 1,
			Name:    fmt.Sprintf("Sheet%d", p.n),
			SheetID: p.n,
			Path:    p.name,
		}
	}
	return sheets
}

// SheetByIndex returns the sheet stored as xl/worksheets/sheet<i>.xml, or the
// i-th sheet in workbook order when no part carries that number.
func (wb *Workbook) SheetByIndex(i int) (SheetInfo, error) {
	want := fmt.Sprintf("xl/worksheets/sheet%d.xml", i)
	for _, s := range wb.sheets {
		if s.Path == want {
			return s, nil
		}
	}
	if i >= 1 && i <= len(wb.sheets) {
		return wb.sheets[i-1], nil
	}
	return SheetInfo{}, excel.NewFormatError(fmt.Sprintf("sheet %d not found", i), nil).
		WithCode(excel.ErrCodeSheetNotFound)
}

// SheetByName returns the sheet with the given tab name. Names compare
// case-insensitively, as Excel does.
func (wb *Workbook) SheetByName(name string) (SheetInfo, error) {
	for _, s := range wb.sheets {
		if strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}
	return SheetInfo{}, excel.NewFormatError(fmt.Sprintf("sheet %q not found", name), nil).
		WithCode(excel.ErrCodeSheetNotFound)
}

func partError(part string, err error) error {
	return excel.NewFormatError(fmt.Sprintf("failed to parse %s", part), err).
		WithCode(excel.ErrCodeInvalidWorkbook)
}
