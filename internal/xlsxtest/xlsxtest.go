// Package xlsxtest builds small .xlsx packages for tests.
package xlsxtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	nsMain = "http://schemas.openxmlformats.org/spreadsheetml/2006/main"
	nsRel  = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
)

type sheet struct {
	name string
	rows []string
}

// Builder assembles a workbook package.
type Builder struct {
	sheets       []sheet
	strings      []string
	rawStrings   string
	numFmts      map[int]string
	cellXfs      []int
	date1904     bool
	omitStyles   bool
	omitStrings  bool
	omitWorkbook bool
	extraParts   map[string]string
}

// New creates an empty builder.
func New() *Builder {
	return &Builder{numFmts: make(map[int]string), extraParts: make(map[string]string)}
}

// Sheet appends a worksheet made of <row> elements (see Row).
func (b *Builder) Sheet(name string, rows ...string) *Builder {
	b.sheets = append(b.sheets, sheet{name: name, rows: rows})
	return b
}

// Strings sets the shared string table.
func (b *Builder) Strings(s ...string) *Builder {
	b.strings = append(b.strings, s...)
	return b
}

// RawStrings sets the <si> elements of the shared string table verbatim.
func (b *Builder) RawStrings(xml string) *Builder {
	b.rawStrings = xml
	return b
}

// NumFmt declares a custom number format.
func (b *Builder) NumFmt(id int, code string) *Builder {
	b.numFmts[id] = code
	return b
}

// Xf appends cell styles with the given number format ids.
func (b *Builder) Xf(numFmtIDs ...int) *Builder {
	b.cellXfs = append(b.cellXfs, numFmtIDs...)
	return b
}

// Date1904 switches the workbook to the 1904 date system.
func (b *Builder) Date1904() *Builder {
	b.date1904 = true
	return b
}

// WithoutStyles omits xl/styles.xml.
func (b *Builder) WithoutStyles() *Builder {
	b.omitStyles = true
	return b
}

// WithoutSharedStrings omits xl/sharedStrings.xml.
func (b *Builder) WithoutSharedStrings() *Builder {
	b.omitStrings = true
	return b
}

// WithoutWorkbook omits xl/workbook.xml and its relationships.
func (b *Builder) WithoutWorkbook() *Builder {
	b.omitWorkbook = true
	return b
}

// Part adds an arbitrary part.
func (b *Builder) Part(name, content string) *Builder {
	b.extraParts[name] = content
	return b
}

// Bytes renders the package.
func (b *Builder) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(name, content string) error {
		w, err := zw.Create(name)
		if err != nil {
			return err
		}
		_, err = w.Write([]byte(content))
		return err
	}

	parts := map[string]string{
		"[Content_Types].xml": contentTypes,
	}
	if !b.omitWorkbook {
		parts["xl/workbook.xml"] = b.workbookXML()
		parts["xl/_rels/workbook.xml.rels"] = b.relsXML()
	}
	if !b.omitStrings {
		parts["xl/sharedStrings.xml"] = b.sharedStringsXML()
	}
	if !b.omitStyles {
		parts["xl/styles.xml"] = b.stylesXML()
	}
	for i, s := range b.sheets {
		parts[fmt.Sprintf("xl/worksheets/sheet%d.xml", i+1)] = sheetXML(s)
	}
	for name, content := range b.extraParts {
		parts[name] = content
	}

	for name, content := range parts {
		if err := write(name, content); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile renders the package into dir and returns its path.
func (b *Builder) WriteFile(t testing.TB, dir, name string) string {
	t.Helper()
	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("build workbook: %v", err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return p
}

func (b *Builder) workbookXML() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	fmt.Fprintf(&sb, `<workbook xmlns="%s" xmlns:r="%s">`, nsMain, nsRel)
	if b.date1904 {
		sb.WriteString(`<workbookPr date1904="1"/>`)
	} else {
		sb.WriteString(`<workbookPr/>`)
	}
	sb.WriteString(`<sheets>`)
	for i, s := range b.sheets {
		fmt.Fprintf(&sb, `<sheet name="%s" sheetId="%d" r:id="rId%d"/>`, html.EscapeString(s.name), i+1, i+1)
	}
	sb.WriteString(`</sheets></workbook>`)
	return sb.String()
}

func (b *Builder) relsXML() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	for i := range b.sheets {
		fmt.Fprintf(&sb,
			`<Relationship Id="rId%d" Type="%s/worksheet" Target="worksheets/sheet%d.xml"/>`,
			i+1, nsRel, i+1)
	}
	sb.WriteString(`</Relationships>`)
	return sb.String()
}

func (b *Builder) sharedStringsXML() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	fmt.Fprintf(&sb, `<sst xmlns="%s" count="%d" uniqueCount="%d">`, nsMain, len(b.strings), len(b.strings))
	for _, s := range b.strings {
		fmt.Fprintf(&sb, `<si><t xml:space="preserve">%s</t></si>`, html.EscapeString(s))
	}
	sb.WriteString(b.rawStrings)
	sb.WriteString(`</sst>`)
	return sb.String()
}

func (b *Builder) stylesXML() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	fmt.Fprintf(&sb, `<styleSheet xmlns="%s">`, nsMain)
	if len(b.numFmts) > 0 {
		fmt.Fprintf(&sb, `<numFmts count="%d">`, len(b.numFmts))
		for id, code := range b.numFmts {
			fmt.Fprintf(&sb, `<numFmt numFmtId="%d" formatCode="%s"/>`, id, html.EscapeString(code))
		}
		sb.WriteString(`</numFmts>`)
	}
	// cellStyleXfs also holds xf elements; they must not be taken as cell styles.
	sb.WriteString(`<cellStyleXfs count="1"><xf numFmtId="0" fontId="0"/></cellStyleXfs>`)
	xfs := b.cellXfs
	if len(xfs) == 0 {
		xfs = []int{0}
	}
	fmt.Fprintf(&sb, `<cellXfs count="%d">`, len(xfs))
	for _, id := range xfs {
		fmt.Fprintf(&sb, `<xf numFmtId="%d" fontId="0" xfId="0" applyNumberFormat="1"/>`, id)
	}
	sb.WriteString(`</cellXfs></styleSheet>`)
	return sb.String()
}

func sheetXML(s sheet) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	fmt.Fprintf(&sb, `<worksheet xmlns="%s" xmlns:r="%s"><sheetData>`, nsMain, nsRel)
	for _, r := range s.rows {
		sb.WriteString(r)
	}
	sb.WriteString(`</sheetData><mergeCells count="0"/></worksheet>`)
	return sb.String()
}

// Row renders a <row> element. A zero number omits the r attribute.
func Row(number int, cells ...string) string {
	if number == 0 {
		return "<row>" + strings.Join(cells, "") + "</row>"
	}
	return fmt.Sprintf(`<row r="%d">%s</row>`, number, strings.Join(cells, ""))
}

// Shared renders a shared string cell.
func Shared(ref string, idx int) string {
	return fmt.Sprintf(`<c r="%s" t="s"><v>%d</v></c>`, ref, idx)
}

// Inline renders an inline string cell.
func Inline(ref, text string) string {
	return fmt.Sprintf(`<c r="%s" t="inlineStr"><is><t>%s</t></is></c>`, ref, html.EscapeString(text))
}

// Num renders a numeric cell without a style.
func Num(ref, value string) string {
	return fmt.Sprintf(`<c r="%s"><v>%s</v></c>`, ref, value)
}

// Styled renders a numeric cell with a style index.
func Styled(ref, value string, style int) string {
	return fmt.Sprintf(`<c r="%s" s="%d"><v>%s</v></c>`, ref, style, value)
}

// Bool renders a boolean cell.
func Bool(ref string, v bool) string {
	n := 0
	if v {
		n = 1
	}
	return fmt.Sprintf(`<c r="%s" t="b"><v>%d</v></c>`, ref, n)
}

// Err renders an error cell.
func Err(ref, literal string) string {
	return fmt.Sprintf(`<c r="%s" t="e"><v>%s</v></c>`, ref, html.EscapeString(literal))
}

// Formula renders a formula cell with a cached string result.
func Formula(ref, formula, result string) string {
	return fmt.Sprintf(`<c r="%s" t="str"><f>%s</f><v>%s</v></c>`, ref, html.EscapeString(formula), html.EscapeString(result))
}

// Blank renders a styled cell with no value.
func Blank(ref string, style int) string {
	return fmt.Sprintf(`<c r="%s" s="%d"/>`, ref, style)
}

const contentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/xl/workbook.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"/>` +
	`</Types>`
