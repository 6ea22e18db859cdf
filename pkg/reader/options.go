package reader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maxexplode/fastexcel/pkg/excel"
	"github.com/maxexplode/fastexcel/pkg/telemetry"
)

// Options selects the sheet and the header/data layout.
type Options struct {
	// Sheet is the 1-based sheet index. Zero selects the first sheet.
	Sheet int `yaml:"sheet" json:"sheet" validate:"gte=0"`

	// SheetName selects a sheet by tab name and takes precedence over Sheet.
	SheetName string `yaml:"sheet_name" json:"sheet_name,omitempty"`

	// HeaderRow is the physical row number holding the column headers.
	HeaderRow int `yaml:"header_row" json:"header_row" validate:"gte=1"`

	// DataRow is the first physical row number holding data.
	DataRow int `yaml:"data_row" json:"data_row" validate:"gtefield=HeaderRow"`

	// SkipEmpty drops data rows whose cells are all blank.
	SkipEmpty bool `yaml:"skip_empty" json:"skip_empty"`

	// Metrics receives row counts. Nil disables metrics.
	Metrics *telemetry.Metrics `yaml:"-" json:"-" validate:"-"`
}

// DefaultOptions returns the options for a sheet with a header in row 1 and
// data from row 2.
func DefaultOptions() Options {
	return Options{
		HeaderRow: 1,
		DataRow:   2,
		SkipEmpty: true,
	}
}

var validate = validator.New()

// Validate checks the options.
func (o Options) Validate() error {
	err := validate.Struct(o)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return excel.NewConfigError("invalid reader options: "+strings.Join(msgs, "; "), err).
			WithCode(excel.ErrCodeInvalidOptions)
	}
	return excel.NewConfigError("invalid reader options", err).WithCode(excel.ErrCodeInvalidOptions)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
