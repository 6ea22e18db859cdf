package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string        `yaml:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	if inMemory(cfg.Path) {
		// Every connection to :memory: is a separate database.
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

func inMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// dsn builds the modernc connection string. Pragmas apply to every pooled
// connection.
func (s *SQLiteStore) dsn() string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_pragma=synchronous(NORMAL)",
		"_txlock=immediate",
		"_time_format=sqlite",
	}
	if !inMemory(s.cfg.Path) {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(s.cfg.Path, "?") {
		sep = "&"
	}
	return "file:" + s.cfg.Path + sep + strings.Join(pragmas, "&")
}

// Init opens the database connection pool.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

const importColumns = `id, source, sheet, status, rows_read, rows_stored, rows_rejected,
	started_at, completed_at, error, checksum`

type scanner interface {
	Scan(dest ...any) error
}

func scanImport(row scanner) (*Import, error) {
	imp := &Import{}
	err := row.Scan(
		&imp.ID,
		&imp.Source,
		&imp.Sheet,
		&imp.Status,
		&imp.RowsRead,
		&imp.RowsStored,
		&imp.RowsRejected,
		&imp.StartedAt,
		&imp.CompletedAt,
		&imp.Error,
		&imp.Checksum,
	)
	return imp, err
}

// CreateImport creates a new import record
func (s *SQLiteStore) CreateImport(ctx context.Context, imp *Import) error {
	query := `
		INSERT INTO imports (` + importColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if imp.StartedAt.IsZero() {
		imp.StartedAt = time.Now().UTC()
	}
	if imp.Status == "" {
		imp.Status = ImportStatusRunning
	}

	_, err := s.db.ExecContext(ctx, query,
		imp.ID,
		imp.Source,
		imp.Sheet,
		imp.Status,
		imp.RowsRead,
		imp.RowsStored,
		imp.RowsRejected,
		imp.StartedAt,
		imp.CompletedAt,
		imp.Error,
		imp.Checksum,
	)
	if err != nil {
		return fmt.Errorf("failed to create import: %w", err)
	}

	return nil
}

// GetImport retrieves an import by ID
func (s *SQLiteStore) GetImport(ctx context.Context, id string) (*Import, error) {
	query := `SELECT ` + importColumns + ` FROM imports WHERE id = ?`

	imp, err := scanImport(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("import %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import: %w", err)
	}

	return imp, nil
}

// ListImports lists imports, newest first
func (s *SQLiteStore) ListImports(ctx context.Context, limit, offset int) ([]*Import, error) {
	query := `
		SELECT ` + importColumns + `
		FROM imports
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list imports: %w", err)
	}
	defer rows.Close()

	imports := []*Import{}
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import: %w", err)
		}
		imports = append(imports, imp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating imports: %w", err)
	}

	return imports, nil
}

// CompleteImport records the final status and row counts of an import
func (s *SQLiteStore) CompleteImport(ctx context.Context, id string, status ImportStatus, counts Counts, errMsg *string) error {
	if !status.Finished() {
		return fmt.Errorf("status %q is not a final status", status)
	}

	query := `
		UPDATE imports
		SET status = ?, rows_read = ?, rows_stored = ?, rows_rejected = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		status, counts.Read, counts.Stored, counts.Rejected, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete import: %w", err)
	}

	return requireAffected(result, "import", id)
}

// FindImportByChecksum returns the latest completed import of source with
// the given checksum.
func (s *SQLiteStore) FindImportByChecksum(ctx context.Context, source, checksum string) (*Import, error) {
	query := `
		SELECT ` + importColumns + `
		FROM imports
		WHERE source = ? AND checksum = ? AND status = ?
		ORDER BY started_at DESC
		LIMIT 1
	`

	imp, err := scanImport(s.db.QueryRowContext(ctx, query, source, checksum, ImportStatusCompleted))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("import of %s with checksum %s: %w", source, checksum, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find import: %w", err)
	}

	return imp, nil
}

// DeleteImport deletes an import with its rows and issues
func (s *SQLiteStore) DeleteImport(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM imports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete import: %w", err)
	}

	return requireAffected(result, "import", id)
}

// InsertRows stores rows in one transaction
func (s *SQLiteStore) InsertRows(ctx context.Context, rows []ImportRow) error {
	if len(rows) == 0 {
		return nil
	}

	return s.inTx(ctx, `INSERT INTO import_rows (import_id, row_number, data) VALUES (?, ?, ?)`,
		func(stmt *sql.Stmt) error {
			for _, r := range rows {
				if _, err := stmt.ExecContext(ctx, r.ImportID, r.RowNumber, string(r.Data)); err != nil {
					return fmt.Errorf("failed to insert row %d: %w", r.RowNumber, err)
				}
			}
			return nil
		})
}

// ListRows lists the stored rows of an import in row order
func (s *SQLiteStore) ListRows(ctx context.Context, importID string, limit, offset int) ([]*ImportRow, error) {
	query := `
		SELECT import_id, row_number, data
		FROM import_rows
		WHERE import_id = ?
		ORDER BY row_number
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, importID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	defer rows.Close()

	out := []*ImportRow{}
	for rows.Next() {
		r := &ImportRow{}
		var data string
		if err := rows.Scan(&r.ImportID, &r.RowNumber, &data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Data = []byte(data)
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

// InsertIssues stores issues in one transaction and sets their IDs
func (s *SQLiteStore) InsertIssues(ctx context.Context, issues []ImportIssue) error {
	if len(issues) == 0 {
		return nil
	}

	query := `
		INSERT INTO import_issues (import_id, row_number, policy, severity, column_name, message)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	return s.inTx(ctx, query, func(stmt *sql.Stmt) error {
		for i := range issues {
			is := &issues[i]
			result, err := stmt.ExecContext(ctx, is.ImportID, is.RowNumber, is.Policy, is.Severity, is.Column, is.Message)
			if err != nil {
				return fmt.Errorf("failed to insert issue for row %d: %w", is.RowNumber, err)
			}
			if is.ID, err = result.LastInsertId(); err != nil {
				return fmt.Errorf("failed to get issue ID: %w", err)
			}
		}
		return nil
	})
}

// ListIssues lists the issues of an import in row order
func (s *SQLiteStore) ListIssues(ctx context.Context, importID string, limit, offset int) ([]*ImportIssue, error) {
	query := `
		SELECT id, import_id, row_number, policy, severity, column_name, message
		FROM import_issues
		WHERE import_id = ?
		ORDER BY row_number, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, importID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	issues := []*ImportIssue{}
	for rows.Next() {
		is := &ImportIssue{}
		if err := rows.Scan(&is.ID, &is.ImportID, &is.RowNumber, &is.Policy, &is.Severity, &is.Column, &is.Message); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, is)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating issues: %w", err)
	}

	return issues, nil
}

// inTx runs fn with query prepared inside a transaction.
func (s *SQLiteStore) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func requireAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
