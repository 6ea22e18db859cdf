package pipeline

import (
	"github.com/maxexplode/fastexcel/pkg/policy"
	"github.com/maxexplode/fastexcel/pkg/reader"
	"github.com/maxexplode/fastexcel/pkg/stores"
)

// DefaultBatchSize is the number of rows written per transaction.
const DefaultBatchSize = 500

// DefaultMaxParallel bounds ImportAll and Watcher concurrency.
const DefaultMaxParallel = 4

// Reasons passed to Metrics.RecordRowRejected.
const (
	RejectFilter = "filter"
	RejectScript = "script"
	RejectPolicy = "policy"
)

// Issue policy names for problems that are not policy violations.
const (
	IssueScript = "script"
	IssuePolicy = "policy-engine"
)

// Options control one import.
type Options struct {
	// Reader selects the sheet and its layout.
	Reader reader.Options

	// Filter is a Starlark expression; rows for which it is falsy are dropped.
	Filter string

	// Transform is a Starlark script applied to each kept row.
	Transform string

	// RequiredColumns must be present and non-blank in every row.
	RequiredColumns []string

	// PolicyData is exposed to policies as input.params.data.
	PolicyData map[string]interface{}

	// FailOnViolation rejects the import when a row has an error or
	// critical violation.
	FailOnViolation bool

	// SkipUnchanged returns the previous import when the workbook content
	// matches the last completed import of the same location.
	SkipUnchanged bool

	// BatchSize is the number of rows per insert transaction.
	BatchSize int
}

// DefaultOptions returns options for a sheet with a header in row 1.
func DefaultOptions() Options {
	return Options{
		Reader:        reader.DefaultOptions(),
		SkipUnchanged: true,
		BatchSize:     DefaultBatchSize,
	}
}

// Result is the outcome of one import.
type Result struct {
	// Import is the stored import record. For a skipped workbook it is the
	// earlier import with the same content.
	Import *stores.Import

	// Location is the workbook location without credentials.
	Location string

	// Skipped is true when the content had already been imported.
	Skipped bool

	// Filtered is the number of rows dropped by the filter.
	Filtered int

	// Issues is the number of issues recorded.
	Issues int

	// Violations are the blocking violations that caused a rejection.
	Violations []policy.Violation
}
