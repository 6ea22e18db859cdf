package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/maxexplode/fastexcel/pkg/config"
	"github.com/maxexplode/fastexcel/pkg/policy"
	"github.com/maxexplode/fastexcel/pkg/script"
	"github.com/maxexplode/fastexcel/pkg/source"
	"github.com/maxexplode/fastexcel/pkg/stores"
	"github.com/maxexplode/fastexcel/pkg/telemetry"
)

// Group is the project group reported with the version.
const Group = "com.maxexplode"

// rootOptions holds the global flags and the state built from them.
type rootOptions struct {
	configPath string
	database   string
	logLevel   string
	verbose    bool
	jsonOutput bool

	cfg *config.Config
	tel *telemetry.Telemetry
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "fastexcel",
		Short: "fastexcel - streaming XLSX reader and importer",
		Long: `fastexcel reads .xlsx workbooks row by row without loading them into memory.

Features:
  - Header keyed records with Excel number and date formatting
  - Starlark row filters and transforms
  - Row validation with OPA/Rego policies
  - Imports into SQLite with per-row issues
  - Local files and sftp:// locations
  - Directory watching for incoming workbooks`,
		Version:       fmt.Sprintf("%s %s (commit: %s, built: %s)", Group, version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd, version)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.shutdown()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (default ./fastexcel.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.database, "db", "", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newReadCommand(opts))
	rootCmd.AddCommand(newHeadersCommand(opts))
	rootCmd.AddCommand(newSheetsCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newImportCommand(opts))
	rootCmd.AddCommand(newImportsCommand(opts))
	rootCmd.AddCommand(newWatchCommand(opts))

	return rootCmd
}

// setup loads the configuration and telemetry shared by all commands.
func (o *rootOptions) setup(cmd *cobra.Command, version string) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	if o.database != "" {
		cfg.Import.Database = o.database
	}
	if o.logLevel != "" {
		cfg.Telemetry.Logging.Level = o.logLevel
	}
	if o.verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if cfg.Telemetry.ServiceVersion == "dev" && version != "" {
		cfg.Telemetry.ServiceVersion = version
	}
	zerolog.SetGlobalLevel(telemetry.ParseLevel(cfg.Telemetry.Logging.Level))

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	o.cfg = cfg
	o.tel = tel
	tel.Events.Subscribe(
		telemetry.LogSubscriber(tel.Logger.NewComponentLogger("events")),
		telemetry.FilterByLevel(cfg.Telemetry.Events.LogLevel),
	)
	cmd.SetContext(tel.WithContext(cmd.Context()))

	log.Debug().
		Str("config", cfg.Path).
		Str("database", cfg.Import.Database).
		Msg("Configuration loaded")
	return nil
}

func (o *rootOptions) shutdown() error {
	if o.tel == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return o.tel.Shutdown(ctx)
}

func (o *rootOptions) logger(component string) zerolog.Logger {
	return o.tel.Logger.NewComponentLogger(component).Zerolog()
}

func (o *rootOptions) resolver() *source.Resolver {
	return source.NewResolver(o.cfg.SFTP,
		source.WithLogger(o.logger("source")),
		source.WithMetrics(o.tel.Metrics),
		source.WithTracer(o.tel.Tracer),
	)
}

func (o *rootOptions) evaluator() *script.Evaluator {
	return script.NewEvaluator(o.cfg.Import.ScriptTimeout, script.WithLogger(o.logger("script")))
}

// policyEngine returns an engine with the builtin policies and the
// policies found in paths.
func (o *rootOptions) policyEngine(ctx context.Context, paths []string) (*policy.Engine, error) {
	engine, err := policy.NewEngine(o.logger("policy"), policy.WithMetrics(o.tel.Metrics))
	if err != nil {
		return nil, err
	}
	if len(paths) > 0 {
		if err := engine.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// openStore opens and migrates the import database.
func (o *rootOptions) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(o.cfg.StoreConfig())
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
