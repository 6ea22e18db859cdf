package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/maxexplode/fastexcel/pkg/reader"
	"github.com/maxexplode/fastexcel/pkg/script"
	"github.com/maxexplode/fastexcel/pkg/source"
	"github.com/maxexplode/fastexcel/pkg/stores"
	"github.com/maxexplode/fastexcel/pkg/telemetry"
)

// DefaultFile is read by Load when no path is given and it exists.
const DefaultFile = "fastexcel.yaml"

// Config is the complete fastexcel configuration.
type Config struct {
	Reader    ReaderConfig     `yaml:"reader"`
	Import    ImportConfig     `yaml:"import"`
	SFTP      source.SSHConfig `yaml:"sftp"`
	Telemetry telemetry.Config `yaml:"telemetry"`

	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-"`
}

// ReaderConfig selects the sheet and its layout.
type ReaderConfig struct {
	Sheet     int    `yaml:"sheet" env:"FASTEXCEL_SHEET" validate:"gte=0"`
	SheetName string `yaml:"sheet_name" env:"FASTEXCEL_SHEET_NAME"`
	HeaderRow int    `yaml:"header_row" env:"FASTEXCEL_HEADER_ROW" validate:"gte=1"`
	DataRow   int    `yaml:"data_row" env:"FASTEXCEL_DATA_ROW" validate:"gtefield=HeaderRow"`
	SkipEmpty bool   `yaml:"skip_empty" env:"FASTEXCEL_SKIP_EMPTY"`
}

// Options converts the section to reader options.
func (c ReaderConfig) Options() reader.Options {
	return reader.Options{
		Sheet:     c.Sheet,
		SheetName: c.SheetName,
		HeaderRow: c.HeaderRow,
		DataRow:   c.DataRow,
		SkipEmpty: c.SkipEmpty,
	}
}

// ImportConfig controls the import pipeline.
type ImportConfig struct {
	// Database is the SQLite file imports are written to.
	Database string `yaml:"database" env:"FASTEXCEL_DATABASE" validate:"required"`

	// BatchSize is the number of rows inserted per transaction.
	BatchSize int `yaml:"batch_size" env:"FASTEXCEL_BATCH_SIZE" validate:"gte=1,lte=100000"`

	// MaxParallel bounds concurrent imports.
	MaxParallel int `yaml:"max_parallel" env:"FASTEXCEL_MAX_PARALLEL" validate:"gte=1,lte=64"`

	// Filter is a Starlark expression; rows for which it is false are dropped.
	Filter string `yaml:"filter" env:"FASTEXCEL_FILTER"`

	// Transform is a Starlark script run against each kept row.
	Transform string `yaml:"transform"`

	// TransformFile is read into Transform when Transform is empty.
	TransformFile string `yaml:"transform_file" env:"FASTEXCEL_TRANSFORM_FILE" validate:"omitempty,file"`

	// ScriptTimeout bounds one filter or transform evaluation.
	ScriptTimeout time.Duration `yaml:"script_timeout" env:"FASTEXCEL_SCRIPT_TIMEOUT" validate:"gte=0"`

	// Policies are Rego, YAML or JSON policy files and directories.
	Policies []string `yaml:"policies" env:"FASTEXCEL_POLICIES" envSeparator:","`

	// RequiredColumns must be present and non-blank in every row.
	RequiredColumns []string `yaml:"required_columns" env:"FASTEXCEL_REQUIRED_COLUMNS" envSeparator:","`

	// FailOnViolation rejects the import when any row has an error
	// severity violation.
	FailOnViolation bool `yaml:"fail_on_violation" env:"FASTEXCEL_FAIL_ON_VIOLATION"`

	// SkipUnchanged skips workbooks whose checksum matches the last
	// completed import of the same location.
	SkipUnchanged bool `yaml:"skip_unchanged" env:"FASTEXCEL_SKIP_UNCHANGED"`

	// WatchDebounce is how long a watched file must be quiet before import.
	WatchDebounce time.Duration `yaml:"watch_debounce" env:"FASTEXCEL_WATCH_DEBOUNCE" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Reader: ReaderConfig{
			HeaderRow: 1,
			DataRow:   2,
			SkipEmpty: true,
		},
		Import: ImportConfig{
			Database:      "fastexcel.db",
			BatchSize:     500,
			MaxParallel:   4,
			ScriptTimeout: script.DefaultTimeout,
			SkipUnchanged: true,
			WatchDebounce: 2 * time.Second,
		},
		SFTP:      source.DefaultSSHConfig(),
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// StoreConfig returns the SQLite store settings.
func (c *Config) StoreConfig() stores.Config {
	return stores.Config{Path: c.Import.Database}
}

// Load reads the configuration. An empty path reads DefaultFile when it
// exists and otherwise starts from the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := Decode(bytes.NewReader(data), cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		cfg.Path = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.LoadTransformFile(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads YAML into cfg. Unknown keys are an error.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// ParseEnv applies environment overrides.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadTransformFile reads Import.TransformFile when no inline transform is set.
func (c *Config) LoadTransformFile() error {
	if c.Import.Transform != "" || c.Import.TransformFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.Import.TransformFile)
	if err != nil {
		return fmt.Errorf("read transform: %w", err)
	}
	c.Import.Transform = string(data)
	return nil
}

var validate = validator.New()

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	name := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "gte", "lte":
		return fmt.Sprintf("%s must be %s %s", name, map[string]string{"gte": ">=", "lte": "<="}[fe.Tag()], fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must be >= %s", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", name, fe.Param())
	case "file":
		return fmt.Sprintf("%s must be an existing file", name)
	default:
		return fmt.Sprintf("%s failed %s", name, fe.Tag())
	}
}
