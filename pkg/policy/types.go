package policy

import (
	"time"
)

// Severity is the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for rows that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for rows that should not be imported.
	SeverityError Severity = "error"

	// SeverityCritical is for rows that must block the whole import.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether s makes a result disallowed.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Policy is a row validation rule written in Rego. The module must define
// a deny set; each element is a message string or an object with message,
// and optionally column and severity.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego" yaml:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity" yaml:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for builtins.
	Source string `json:"source,omitempty" yaml:"-"`

	// LoadedAt is when the policy was loaded.
	LoadedAt time.Time `json:"loaded_at" yaml:"-"`
}

// Violation is one policy failure for one row.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Row is the physical row number.
	Row int `json:"row"`

	// Column is the offending column, if the policy named one.
	Column string `json:"column,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating all enabled policies for a row.
type Result struct {
	// Allowed is false when any violation is error or critical.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of evaluated policies.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Params are import settings exposed to policies as input.params.
type Params struct {
	// Sheet is the name of the sheet being imported.
	Sheet string `json:"sheet,omitempty" yaml:"sheet,omitempty"`

	// RequiredColumns must hold a non-blank value in every row.
	RequiredColumns []string `json:"required_columns,omitempty" yaml:"required_columns,omitempty"`

	// Data holds free-form values for custom policies.
	Data map[string]interface{} `json:"data,omitempty" yaml:"data,omitempty"`
}
