package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxexplode/fastexcel/pkg/reader"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fastexcel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Empty(t, cfg.Path)
	assert.Equal(t, 500, cfg.Import.BatchSize)
	assert.Equal(t, 4, cfg.Import.MaxParallel)
	assert.Equal(t, "fastexcel.db", cfg.Import.Database)
	assert.True(t, cfg.Import.SkipUnchanged)
	assert.Equal(t, "fastexcel", cfg.Telemetry.ServiceName)

	want := reader.DefaultOptions()
	if diff := cmp.Diff(want, cfg.Reader.Options()); diff != "" {
		t.Errorf("reader options mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDefaultFileFromWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte("import:\n  batch_size: 10\n"), 0o644))
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultFile, cfg.Path)
	assert.Equal(t, 10, cfg.Import.BatchSize)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
reader:
  sheet_name: Orders
  header_row: 3
  data_row: 4
  skip_empty: false
import:
  database: /var/lib/fastexcel/imports.db
  batch_size: 100
  max_parallel: 2
  filter: 'row["Status"] != "void"'
  script_timeout: 5s
  policies: [policies/, extra.rego]
  required_columns: [Order ID, Amount]
  fail_on_violation: true
sftp:
  user: etl
  port: 2222
  strict_host_key_checking: false
telemetry:
  service_name: fastexcel
  service_version: "1.0"
  logging:
    level: debug
    format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, ReaderConfig{SheetName: "Orders", HeaderRow: 3, DataRow: 4}, cfg.Reader)
	assert.Equal(t, "/var/lib/fastexcel/imports.db", cfg.Import.Database)
	assert.Equal(t, 100, cfg.Import.BatchSize)
	assert.Equal(t, 2, cfg.Import.MaxParallel)
	assert.Equal(t, `row["Status"] != "void"`, cfg.Import.Filter)
	assert.Equal(t, 5*time.Second, cfg.Import.ScriptTimeout)
	assert.Equal(t, []string{"policies/", "extra.rego"}, cfg.Import.Policies)
	assert.Equal(t, []string{"Order ID", "Amount"}, cfg.Import.RequiredColumns)
	assert.True(t, cfg.Import.FailOnViolation)
	assert.Equal(t, "etl", cfg.SFTP.User)
	assert.Equal(t, 2222, cfg.SFTP.Port)
	assert.False(t, cfg.SFTP.StrictHostKeyChecking)
	assert.Equal(t, "debug", cfg.Telemetry.Logging.Level)
	assert.Equal(t, "json", cfg.Telemetry.Logging.Format)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.SFTP.ConnectionTimeout)
	assert.Equal(t, "/var/lib/fastexcel/imports.db", cfg.StoreConfig().Path)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "import:\n  batch_size: 100\n")

	t.Setenv("FASTEXCEL_BATCH_SIZE", "250")
	t.Setenv("FASTEXCEL_DATABASE", "env.db")
	t.Setenv("FASTEXCEL_REQUIRED_COLUMNS", "ID,Name")
	t.Setenv("FASTEXCEL_HEADER_ROW", "2")
	t.Setenv("FASTEXCEL_DATA_ROW", "5")
	t.Setenv("FASTEXCEL_SFTP_USER", "svc")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Import.BatchSize)
	assert.Equal(t, "env.db", cfg.Import.Database)
	assert.Equal(t, []string{"ID", "Name"}, cfg.Import.RequiredColumns)
	assert.Equal(t, 2, cfg.Reader.HeaderRow)
	assert.Equal(t, 5, cfg.Reader.DataRow)
	assert.Equal(t, "svc", cfg.SFTP.User)
	assert.Equal(t, "warn", cfg.Telemetry.Logging.Level)
}

func TestLoadEnvInvalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FASTEXCEL_BATCH_SIZE", "lots")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestLoadTransformFile(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "transform.star")
	require.NoError(t, os.WriteFile(script, []byte(`row["Name"] = row["Name"].upper()`), 0o644))

	path := writeConfig(t, "import:\n  transform_file: "+script+"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, `row["Name"] = row["Name"].upper()`, cfg.Import.Transform)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown key",
			content: "import:\n  batchsize: 10\n",
			wantErr: "field batchsize not found",
		},
		{
			name:    "data row before header row",
			content: "reader:\n  header_row: 5\n  data_row: 2\n",
			wantErr: "Reader.DataRow must be >= HeaderRow",
		},
		{
			name:    "zero batch size",
			content: "import:\n  batch_size: 0\n",
			wantErr: "Import.BatchSize must be >= 1",
		},
		{
			name:    "missing database",
			content: "import:\n  database: \"\"\n",
			wantErr: "Import.Database is required",
		},
		{
			name:    "bad auth method",
			content: "sftp:\n  auth_method: agent\n",
			wantErr: "SFTP.AuthMethod must be one of",
		},
		{
			name:    "missing transform file",
			content: "import:\n  transform_file: /does/not/exist.star\n",
			wantErr: "read transform",
		},
		{
			name:    "bad log level",
			content: "telemetry:\n  logging:\n    level: loud\n",
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "got %q", err.Error())
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
