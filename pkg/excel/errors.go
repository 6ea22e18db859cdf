// Package excel provides the core types shared by the fastexcel packages:
// cells, rows, cell references, serial date conversion and classified errors.
package excel

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of a reader error.
type ErrorClass string

const (
	// ErrorClassIO indicates the workbook could not be read from disk or network.
	ErrorClassIO ErrorClass = "io"

	// ErrorClassFormat indicates the workbook structure is invalid or unsupported.
	// Examples: not a zip archive, missing sheet, style index out of range.
	ErrorClassFormat ErrorClass = "format"

	// ErrorClassMapping indicates a cell value could not be assigned to a record field.
	ErrorClassMapping ErrorClass = "mapping"

	// ErrorClassConfig indicates invalid reader options or record types.
	ErrorClassConfig ErrorClass = "config"
)

// ExcelError represents a classified error with workbook context.
// nolint:revive // ExcelError reads better at call sites than excel.Error
type ExcelError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Sheet is the sheet being read, if applicable.
	Sheet string `json:"sheet,omitempty"`

	// Cell is the cell reference (e.g. "C7"), if applicable.
	Cell string `json:"cell,omitempty"`

	// Row is the physical row number, if applicable.
	Row int `json:"row,omitempty"`

	// Field is the record field being assigned, if applicable.
	Field string `json:"field,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ExcelError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)

	var ctx []string
	if e.Sheet != "" {
		ctx = append(ctx, "sheet="+e.Sheet)
	}
	if e.Cell != "" {
		ctx = append(ctx, "cell="+e.Cell)
	} else if e.Row > 0 {
		ctx = append(ctx, fmt.Sprintf("row=%d", e.Row))
	}
	if e.Field != "" {
		ctx = append(ctx, "field="+e.Field)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ExcelError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *ExcelError) Is(target error) bool {
	t, ok := target.(*ExcelError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewIOError creates a new io error.
func NewIOError(message string, err error) *ExcelError {
	return &ExcelError{Class: ErrorClassIO, Message: message, Err: err}
}

// NewFormatError creates a new format error.
func NewFormatError(message string, err error) *ExcelError {
	return &ExcelError{Class: ErrorClassFormat, Message: message, Err: err}
}

// NewMappingError creates a new mapping error.
func NewMappingError(message string, err error) *ExcelError {
	return &ExcelError{Class: ErrorClassMapping, Message: message, Err: err}
}

// NewConfigError creates a new config error.
func NewConfigError(message string, err error) *ExcelError {
	return &ExcelError{Class: ErrorClassConfig, Message: message, Err: err}
}

// WithCode adds an error code.
func (e *ExcelError) WithCode(code string) *ExcelError {
	e.Code = code
	return e
}

// WithSheet adds sheet context.
func (e *ExcelError) WithSheet(sheet string) *ExcelError {
	e.Sheet = sheet
	return e
}

// WithCell adds cell context. The row is derived from the reference when possible.
func (e *ExcelError) WithCell(ref string) *ExcelError {
	e.Cell = ref
	if _, row, err := ParseCellRef(ref); err == nil {
		e.Row = row
	}
	return e
}

// WithRow adds row context.
func (e *ExcelError) WithRow(row int) *ExcelError {
	e.Row = row
	return e
}

// WithField adds record field context.
func (e *ExcelError) WithField(field string) *ExcelError {
	e.Field = field
	return e
}

func hasClass(err error, class ErrorClass) bool {
	var e *ExcelError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsIO returns true if the error is classified as io.
func IsIO(err error) bool { return hasClass(err, ErrorClassIO) }

// IsFormat returns true if the error is classified as format.
func IsFormat(err error) bool { return hasClass(err, ErrorClassFormat) }

// IsMapping returns true if the error is classified as mapping.
func IsMapping(err error) bool { return hasClass(err, ErrorClassMapping) }

// IsConfig returns true if the error is classified as config.
func IsConfig(err error) bool { return hasClass(err, ErrorClassConfig) }

// CodeOf returns the error code of the first ExcelError in the chain, or "".
func CodeOf(err error) string {
	var e *ExcelError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes.
const (
	ErrCodeFileNotFound     = "FILE_NOT_FOUND"
	ErrCodeInvalidWorkbook  = "INVALID_WORKBOOK"
	ErrCodeSheetNotFound    = "SHEET_NOT_FOUND"
	ErrCodeUnknownStyle     = "UNKNOWN_STYLE"
	ErrCodeUnknownFormat    = "UNKNOWN_FORMAT"
	ErrCodeConversionFailed = "CONVERSION_FAILED"
	ErrCodeNoHeader         = "NO_HEADER"
	ErrCodeInvalidOptions   = "INVALID_OPTIONS"
	ErrCodeUnsupportedType  = "UNSUPPORTED_TYPE"
)
