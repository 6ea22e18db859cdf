package stores

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a looked up import does not exist.
var ErrNotFound = errors.New("not found")

// ImportStatus represents the status of an import
type ImportStatus string

const (
	ImportStatusRunning   ImportStatus = "running"
	ImportStatusCompleted ImportStatus = "completed"
	ImportStatusFailed    ImportStatus = "failed"
	ImportStatusRejected  ImportStatus = "rejected"
)

// Finished reports whether s is a terminal status.
func (s ImportStatus) Finished() bool {
	return s == ImportStatusCompleted || s == ImportStatusFailed || s == ImportStatusRejected
}

// Import represents one import of a worksheet
type Import struct {
	ID           string       `json:"id"`
	Source       string       `json:"source"`
	Sheet        string       `json:"sheet"`
	Status       ImportStatus `json:"status"`
	RowsRead     int          `json:"rows_read"`
	RowsStored   int          `json:"rows_stored"`
	RowsRejected int          `json:"rows_rejected"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	Error        *string      `json:"error,omitempty"`
	Checksum     string       `json:"checksum"` // SHA256 of the workbook file
}

// Counts are the row totals recorded when an import finishes
type Counts struct {
	Read     int `json:"read"`
	Stored   int `json:"stored"`
	Rejected int `json:"rejected"`
}

// ImportRow is one stored data row
type ImportRow struct {
	ImportID  string          `json:"import_id"`
	RowNumber int             `json:"row_number"`
	Data      json.RawMessage `json:"data"` // JSON object of column name to value
}

// ImportIssue is a policy violation or conversion problem found in a row
type ImportIssue struct {
	ID        int64  `json:"id"`
	ImportID  string `json:"import_id"`
	RowNumber int    `json:"row_number"`
	Policy    string `json:"policy"`
	Severity  string `json:"severity"`
	Column    string `json:"column,omitempty"`
	Message   string `json:"message"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Import operations
	CreateImport(ctx context.Context, imp *Import) error
	GetImport(ctx context.Context, id string) (*Import, error)
	ListImports(ctx context.Context, limit, offset int) ([]*Import, error)
	CompleteImport(ctx context.Context, id string, status ImportStatus, counts Counts, errMsg *string) error
	FindImportByChecksum(ctx context.Context, source, checksum string) (*Import, error)
	DeleteImport(ctx context.Context, id string) error

	// Row operations
	InsertRows(ctx context.Context, rows []ImportRow) error
	ListRows(ctx context.Context, importID string, limit, offset int) ([]*ImportRow, error)

	// Issue operations
	InsertIssues(ctx context.Context, issues []ImportIssue) error
	ListIssues(ctx context.Context, importID string, limit, offset int) ([]*ImportIssue, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
