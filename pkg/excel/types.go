package excel

import "strings"

// CellType is the value type stored in a cell's "t" attribute.
type CellType string

const (
	// CellTypeNumber is a numeric cell. The attribute is usually omitted.
	CellTypeNumber CellType = "n"

	// CellTypeSharedString holds an index into the shared string table.
	CellTypeSharedString CellType = "s"

	// CellTypeInlineString holds its text in an <is> element.
	CellTypeInlineString CellType = "inlineStr"

	// CellTypeFormulaString holds the cached string result of a formula.
	CellTypeFormulaString CellType = "str"

	// CellTypeBool holds 0 or 1.
	CellTypeBool CellType = "b"

	// CellTypeError holds an error literal such as #N/A.
	CellTypeError CellType = "e"

	// CellTypeDate holds an ISO 8601 date.
	CellTypeDate CellType = "d"
)

// ParseCellType converts a "t" attribute value, defaulting to number.
func ParseCellType(t string) CellType {
	switch CellType(t) {
	case CellTypeSharedString, CellTypeInlineString, CellTypeFormulaString,
		CellTypeBool, CellTypeError, CellTypeDate:
		return CellType(t)
	default:
		return CellTypeNumber
	}
}

// IsText returns true for the string-valued cell types.
func (t CellType) IsText() bool {
	return t == CellTypeSharedString || t == CellTypeInlineString || t == CellTypeFormulaString
}

// Cell is a single resolved cell.
type Cell struct {
	// Ref is the cell reference, e.g. "B3".
	Ref string `json:"ref"`

	// Column is the 1-based column index.
	Column int `json:"column"`

	// Type is the stored value type.
	Type CellType `json:"type"`

	// Raw is the stored text: the number, the shared string index, the literal.
	Raw string `json:"raw"`

	// Value is the display text after string resolution and number formatting.
	Value string `json:"value"`

	// NumFmtID is the number format applied through the cell style, 0 for General.
	NumFmtID int `json:"num_fmt_id,omitempty"`

	// Date is true when a date number format was applied to a numeric cell.
	Date bool `json:"date,omitempty"`
}

// IsEmpty returns true when the cell carries no value.
func (c Cell) IsEmpty() bool {
	return c.Value == "" && c.Raw == ""
}

// Row is one physical sheet row.
type Row struct {
	// Number is the 1-based physical row number.
	Number int `json:"number"`

	// Cells are the non-empty cells in column order.
	Cells []Cell `json:"cells"`
}

// IsEmpty returns true when the row has no non-blank cell.
func (r *Row) IsEmpty() bool {
	for _, c := range r.Cells {
		if strings.TrimSpace(c.Value) != "" {
			return false
		}
	}
	return true
}

// Cell returns the cell in the given column, if present.
func (r *Row) Cell(column int) (Cell, bool) {
	for _, c := range r.Cells {
		if c.Column == column {
			return c, true
		}
	}
	return Cell{}, false
}

// ErrorLiterals are the values Excel stores in error cells.
var ErrorLiterals = []string{
	"#NULL!", "#DIV/0!", "#VALUE!", "#REF!", "#NAME?", "#NUM!", "#N/A", "#GETTING_DATA",
}

// IsErrorLiteral reports whether v is one of Excel's error literals.
func IsErrorLiteral(v string) bool {
	for _, lit := range ErrorLiterals {
		if v == lit {
			return true
		}
	}
	return false
}
