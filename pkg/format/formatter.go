// Package format implements Excel number formats for the tuple reader.
//
// A workbook's styles.xml binds every cell style to a number format id.
// Ids below 164 are builtin; higher ids carry a custom format code. The
// Registry resolves an (id, code) pair to a Bound formatter once per style,
// so formatting a cell is a single call while streaming rows.
package format

import (
	"sync"
)

// Formatter renders the stored text of a numeric cell.
type Formatter interface {
	// Format renders value for the given format id and code. An empty code
	// means the builtin code of numFmtID.
	Format(numFmtID int, code string, value string) (string, error)

	// Supports reports whether this formatter handles the given format.
	Supports(numFmtID int, code string) bool

	// SupportedFormats lists the ids this formatter always handles.
	SupportedFormats() []int
}

type anyFormat struct{}

func (anyFormat) Format(_ int, _ string, value string) (string, error) { return value, nil }
func (anyFormat) Supports(int, string) bool                             { return false }
func (anyFormat) SupportedFormats() []int                               { return nil }

var anyFormatter Formatter = anyFormat{}

// Any returns the identity formatter used when nothing else applies.
func Any() Formatter {
	return anyFormatter
}

// dateAware is implemented by formatters that produce dates.
type dateAware interface {
	FormatsDates() bool
}

// Bound is a formatter fixed to one number format.
type Bound struct {
	// NumFmtID is the format id.
	NumFmtID int

	// Code is the format code, builtin or custom.
	Code string

	// Date is true when the bound formatter renders dates.
	Date bool

	formatter Formatter
}

// Format renders a stored value.
func (b Bound) Format(value string) (string, error) {
	if b.formatter == nil {
		return value, nil
	}
	return b.formatter.Format(b.NumFmtID, b.Code, value)
}

// Registry holds the registered formatters in resolution order.
type Registry struct {
	mu         sync.RWMutex
	formatters []Formatter
	byID       map[int]Formatter
}

// NewRegistry creates a registry with the given formatters.
func NewRegistry(formatters ...Formatter) *Registry {
	r := &Registry{byID: make(map[int]Formatter)}
	for _, f := range formatters {
		r.Register(f)
	}
	return r
}

// DefaultRegistry returns a registry with the date formatter registered.
func DefaultRegistry(date1904 bool) *Registry {
	return NewRegistry(NewDateFormatter(date1904))
}

// Register appends a formatter. Ids it always supports are bound to it
// unless an earlier formatter already claimed them.
func (r *Registry) Register(f Formatter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.formatters = append(r.formatters, f)
	for _, id := range f.SupportedFormats() {
		if _, exists := r.byID[id]; !exists {
			r.byID[id] = f
		}
	}
}

// Resolve binds a format id and code to the first formatter that supports it.
// Formats nobody supports resolve to Any.
func (r *Registry) Resolve(numFmtID int, code string) Bound {
	if code == "" {
		code = BuiltinCode(numFmtID)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.byID[numFmtID]
	if !ok {
		f = anyFormatter
		for _, candidate := range r.formatters {
			if candidate.Supports(numFmtID, code) {
				f = candidate
				break
			}
		}
	}

	b := Bound{NumFmtID: numFmtID, Code: code, formatter: f}
	if da, ok := f.(dateAware); ok {
		b.Date = da.FormatsDates()
	}
	return b
}

// builtinCodes are the locale-independent builtin number formats.
var builtinCodes = map[int]string{
	0:  "General",
	1:  "0",
	2:  "0.00",
	3:  "#,##0",
	4:  "#,##0.00",
	9:  "0%",
	10: "0.00%",
	11: "0.00E+00",
	12: "# ?/?",
	13: "# ??/??",
	14: "mm-dd-yy",
	15: "d-mmm-yy",
	16: "d-mmm",
	17: "mmm-yy",
	18: "h:mm AM/PM",
	19: "h:mm:ss AM/PM",
	20: "h:mm",
	21: "h:mm:ss",
	22: "m/d/yy h:mm",
	37: "#,##0 ;(#,##0)",
	38: "#,##0 ;[Red](#,##0)",
	39: "#,##0.00;(#,##0.00)",
	40: "#,##0.00;[Red](#,##0.00)",
	45: "mm:ss",
	46: "[h]:mm:ss",
	47: "mmss.0",
	48: "##0.0E+0",
	49: "@",
}

// BuiltinCode returns the code of a builtin format id, or "".
func BuiltinCode(numFmtID int) string {
	return builtinCodes[numFmtID]
}

// FirstCustomID is the lowest id a workbook may use for custom formats.
const FirstCustomID = 164
