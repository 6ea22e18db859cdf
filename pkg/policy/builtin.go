package policy

import (
	"fmt"
	"strings"

	"github.com/maxexplode/fastexcel/pkg/excel"
)

// Names of the builtin policies.
const (
	PolicyRequiredColumns = "required-columns"
	PolicyNoErrorCells    = "no-error-cells"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		requiredColumnsPolicy(),
		noErrorCellsPolicy(),
	}
}

// requiredColumnsPolicy rejects rows where a column listed in
// params.required_columns is missing or blank.
func requiredColumnsPolicy() Policy {
	return Policy{
		Name:        PolicyRequiredColumns,
		Description: "Every required column holds a non-blank value",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"completeness"},
		Rego: `package fastexcel.rows.required

import rego.v1

deny contains violation if {
	some column in input.params.required_columns
	not column in input.columns
	violation := {
		"message": sprintf("required column '%s' is not in the header", [column]),
		"column": column,
		"severity": "critical",
	}
}

deny contains violation if {
	some column in input.params.required_columns
	column in input.columns
	trim_space(object.get(input.values, column, "")) == ""
	violation := {
		"message": sprintf("required column '%s' is empty", [column]),
		"column": column,
	}
}
`,
	}
}

// noErrorCellsPolicy flags cells holding an Excel error value.
func noErrorCellsPolicy() Policy {
	quoted := make([]string, len(excel.ErrorLiterals))
	for i, lit := range excel.ErrorLiterals {
		quoted[i] = fmt.Sprintf("%q", lit)
	}

	return Policy{
		Name:        PolicyNoErrorCells,
		Description: "No cell holds an error value such as #N/A or #REF!",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"quality"},
		Rego: `package fastexcel.rows.errors

import rego.v1

error_values := {` + strings.Join(quoted, ", ") + `}

deny contains violation if {
	some column, value in input.values
	value in error_values
	violation := {
		"message": sprintf("column '%s' holds error value %s", [column, value]),
		"column": column,
	}
}
`,
	}
}
