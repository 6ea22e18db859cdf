package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newImport(id string, started time.Time) *Import {
	return &Import{
		ID:        id,
		Source:    "/data/orders.xlsx",
		Sheet:     "Orders",
		Status:    ImportStatusRunning,
		StartedAt: started,
		Checksum:  "abc123",
	}
}

func TestStoreLifecycle(t *testing.T) {
	_, err := NewSQLiteStore(Config{})
	require.Error(t, err)

	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "imports.db")})
	require.NoError(t, err)
	assert.Equal(t, 25, store.cfg.MaxOpenConns)

	ctx := context.Background()
	assert.Error(t, store.HealthCheck(ctx))
	assert.Error(t, store.Migrate(ctx))

	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.HealthCheck(ctx))
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "second migration is a no-op")
	require.NoError(t, store.Close())
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"imports", "import_rows", "import_issues"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestImportCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	imp := newImport("imp-001", started)
	require.NoError(t, store.CreateImport(ctx, imp))

	got, err := store.GetImport(ctx, "imp-001")
	require.NoError(t, err)
	assert.Equal(t, "Orders", got.Sheet)
	assert.Equal(t, ImportStatusRunning, got.Status)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.Error)

	require.NoError(t, store.CompleteImport(ctx, "imp-001", ImportStatusCompleted, Counts{Read: 10, Stored: 8, Rejected: 2}, nil))

	got, err = store.GetImport(ctx, "imp-001")
	require.NoError(t, err)
	assert.Equal(t, ImportStatusCompleted, got.Status)
	assert.Equal(t, 10, got.RowsRead)
	assert.Equal(t, 8, got.RowsStored)
	assert.Equal(t, 2, got.RowsRejected)
	require.NotNil(t, got.CompletedAt)

	msg := "sheet not found"
	require.NoError(t, store.CreateImport(ctx, newImport("imp-002", started.Add(time.Minute))))
	require.NoError(t, store.CompleteImport(ctx, "imp-002", ImportStatusFailed, Counts{}, &msg))
	got, err = store.GetImport(ctx, "imp-002")
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, msg, *got.Error)

	assert.Error(t, store.CompleteImport(ctx, "imp-002", ImportStatusRunning, Counts{}, nil))
	assert.True(t, errors.Is(store.CompleteImport(ctx, "missing", ImportStatusFailed, Counts{}, nil), ErrNotFound))

	_, err = store.GetImport(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Error(t, store.CreateImport(ctx, newImport("imp-001", started)), "duplicate id")
}

func TestCreateImport_Defaults(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	imp := &Import{ID: "imp-d", Source: "x.xlsx"}
	require.NoError(t, store.CreateImport(ctx, imp))
	assert.Equal(t, ImportStatusRunning, imp.Status)
	assert.False(t, imp.StartedAt.IsZero())
}

func TestListImports(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.CreateImport(ctx, newImport(fmt.Sprintf("imp-%d", i), base.Add(time.Duration(i)*time.Hour))))
	}

	page, err := store.ListImports(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "imp-4", page[0].ID)
	assert.Equal(t, "imp-3", page[1].ID)

	page, err = store.ListImports(ctx, 10, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "imp-0", page[0].ID)
}

func TestFindImportByChecksum(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateImport(ctx, newImport("old", base)))
	require.NoError(t, store.CompleteImport(ctx, "old", ImportStatusCompleted, Counts{}, nil))
	require.NoError(t, store.CreateImport(ctx, newImport("new", base.Add(time.Hour))))
	require.NoError(t, store.CompleteImport(ctx, "new", ImportStatusCompleted, Counts{}, nil))
	require.NoError(t, store.CreateImport(ctx, newImport("failed", base.Add(2*time.Hour))))
	require.NoError(t, store.CompleteImport(ctx, "failed", ImportStatusFailed, Counts{}, nil))

	found, err := store.FindImportByChecksum(ctx, "/data/orders.xlsx", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "new", found.ID)

	_, err = store.FindImportByChecksum(ctx, "/data/orders.xlsx", "other")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = store.FindImportByChecksum(ctx, "/data/other.xlsx", "abc123")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRowsAndIssues(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateImport(ctx, newImport("imp-r", time.Now())))

	rows := make([]ImportRow, 0, 3)
	for i := 4; i >= 2; i-- {
		data, err := json.Marshal(map[string]string{"ID": fmt.Sprint(i)})
		require.NoError(t, err)
		rows = append(rows, ImportRow{ImportID: "imp-r", RowNumber: i, Data: data})
	}
	require.NoError(t, store.InsertRows(ctx, rows))
	require.NoError(t, store.InsertRows(ctx, nil))

	listed, err := store.ListRows(ctx, "imp-r", 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, 2, listed[0].RowNumber)
	assert.JSONEq(t, `{"ID":"2"}`, string(listed[0].Data))

	// A duplicate row number rolls back the whole batch.
	err = store.InsertRows(ctx, []ImportRow{
		{ImportID: "imp-r", RowNumber: 9, Data: []byte(`{}`)},
		{ImportID: "imp-r", RowNumber: 2, Data: []byte(`{}`)},
	})
	require.Error(t, err)
	listed, err = store.ListRows(ctx, "imp-r", 10, 0)
	require.NoError(t, err)
	assert.Len(t, listed, 3)

	issues := []ImportIssue{
		{ImportID: "imp-r", RowNumber: 5, Policy: "no-error-cells", Severity: "error", Column: "B", Message: "column 'B' holds error value #N/A"},
		{ImportID: "imp-r", RowNumber: 3, Policy: "required-columns", Severity: "error", Column: "ID", Message: "required column 'ID' is empty"},
	}
	require.NoError(t, store.InsertIssues(ctx, issues))
	assert.NotZero(t, issues[0].ID)
	assert.NotZero(t, issues[1].ID)

	gotIssues, err := store.ListIssues(ctx, "imp-r", 10, 0)
	require.NoError(t, err)
	require.Len(t, gotIssues, 2)
	assert.Equal(t, 3, gotIssues[0].RowNumber)
	assert.Equal(t, "ID", gotIssues[0].Column)

	err = store.InsertRows(ctx, []ImportRow{{ImportID: "no-such-import", RowNumber: 1, Data: []byte(`{}`)}})
	assert.Error(t, err, "foreign key enforced")
}

func TestDeleteImport_Cascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateImport(ctx, newImport("imp-x", time.Now())))
	require.NoError(t, store.InsertRows(ctx, []ImportRow{{ImportID: "imp-x", RowNumber: 2, Data: []byte(`{"a":"1"}`)}}))
	require.NoError(t, store.InsertIssues(ctx, []ImportIssue{{ImportID: "imp-x", RowNumber: 2, Policy: "p", Severity: "warning", Message: "m"}}))

	require.NoError(t, store.DeleteImport(ctx, "imp-x"))

	rows, err := store.ListRows(ctx, "imp-x", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
	issues, err := store.ListIssues(ctx, "imp-x", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, issues)

	assert.True(t, errors.Is(store.DeleteImport(ctx, "imp-x"), ErrNotFound))
}
