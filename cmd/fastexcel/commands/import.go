package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maxexplode/fastexcel/pkg/output"
	"github.com/maxexplode/fastexcel/pkg/pipeline"
	"github.com/maxexplode/fastexcel/pkg/policy"
	"github.com/maxexplode/fastexcel/pkg/stores"
)

// importFlags are shared by import and watch.
type importFlags struct {
	rf              readerFlags
	sf              scriptFlags
	pf              policyFlags
	failOnViolation bool
	batchSize       int
	parallel        int
	force           bool
}

func (f *importFlags) register(cmd *cobra.Command) {
	f.rf.register(cmd)
	f.sf.register(cmd)
	f.pf.register(cmd)
	cmd.Flags().BoolVar(&f.failOnViolation, "fail-on-violation", false, "reject the whole import when a row has an error violation")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "rows per insert transaction (default from config)")
	cmd.Flags().IntVar(&f.parallel, "parallel", 0, "workbooks imported concurrently (default from config)")
	cmd.Flags().BoolVar(&f.force, "force", false, "import even when the workbook is unchanged")
}

// pipelineOptions merges the configuration with the flags the user set.
func (f *importFlags) pipelineOptions(cmd *cobra.Command, root *rootOptions) pipeline.Options {
	cfg := root.cfg.Import

	opts := pipeline.DefaultOptions()
	opts.Reader = f.rf.options(cmd, root.cfg.Reader.Options())
	opts.Filter, opts.Transform = f.sf.values(cmd, cfg.Filter, cfg.Transform)
	opts.RequiredColumns = f.pf.requiredColumns(cfg.RequiredColumns)
	opts.FailOnViolation = cfg.FailOnViolation || f.failOnViolation
	opts.SkipUnchanged = cfg.SkipUnchanged && !f.force
	opts.BatchSize = cfg.BatchSize
	if f.batchSize > 0 {
		opts.BatchSize = f.batchSize
	}
	return opts
}

func (f *importFlags) maxParallel(root *rootOptions) int {
	if f.parallel > 0 {
		return f.parallel
	}
	return root.cfg.Import.MaxParallel
}

// importer builds an importer over store with the policies from the
// configuration and flags.
func (f *importFlags) importer(cmd *cobra.Command, root *rootOptions, store stores.Store) (*pipeline.Importer, *policy.Engine, error) {
	engine, err := root.policyEngine(cmd.Context(), f.pf.paths(root.cfg.Import.Policies))
	if err != nil {
		return nil, nil, err
	}
	im := pipeline.NewImporter(store, root.resolver(),
		pipeline.WithPolicyEngine(engine),
		pipeline.WithEvaluator(root.evaluator()),
		pipeline.WithTelemetry(root.tel),
		pipeline.WithLogger(root.logger("importer")),
		pipeline.WithMaxParallel(f.maxParallel(root)),
	)
	return im, engine, nil
}

func newImportCommand(root *rootOptions) *cobra.Command {
	var f importFlags

	cmd := &cobra.Command{
		Use:   "import <file|sftp://...>...",
		Short: "Import sheets into the database",
		Long: `Import the selected sheet of each workbook into the SQLite database.

Each data row is filtered, transformed and checked against the policies.
Rows with error or critical violations are rejected and recorded as issues;
the rest are stored. Workbooks whose content was already imported are
skipped unless --force is given.`,
		Example: `  # Import two workbooks
  fastexcel import orders-2024.xlsx orders-2025.xlsx

  # Import from an SFTP server, failing on any violation
  fastexcel import --fail-on-violation sftp://reports@files.example.com/out/orders.xlsx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := root.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			im, _, err := f.importer(cmd, root, store)
			if err != nil {
				return err
			}

			results, importErr := im.ImportAll(ctx, args, f.pipelineOptions(cmd, root))

			if root.jsonOutput {
				if err := output.JSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else {
				for _, res := range results {
					printResult(cmd, res)
				}
			}

			if importErr != nil {
				return importErr
			}
			var rejected []error
			for _, res := range results {
				if res != nil && res.Import != nil && res.Import.Status == stores.ImportStatusRejected && !res.Skipped {
					rejected = append(rejected, fmt.Errorf("import %s of %s was rejected", res.Import.ID, res.Location))
				}
			}
			return errors.Join(rejected...)
		},
	}

	f.register(cmd)
	return cmd
}

func printResult(cmd *cobra.Command, res *pipeline.Result) {
	if res == nil || res.Import == nil {
		return
	}
	out := cmd.OutOrStdout()
	imp := res.Import
	if res.Skipped {
		fmt.Fprintf(out, "%s: unchanged, skipped (import %s)\n", res.Location, imp.ID)
		return
	}
	fmt.Fprintf(out, "%s: %s import %s, sheet %q, %d read, %d stored, %d rejected, %d filtered, %d issues\n",
		res.Location, imp.Status, imp.ID, imp.Sheet,
		imp.RowsRead, imp.RowsStored, imp.RowsRejected, res.Filtered, res.Issues)
	if imp.Error != nil {
		fmt.Fprintf(out, "  error: %s\n", *imp.Error)
	}
	for _, v := range res.Violations {
		fmt.Fprintf(out, "  row %d: [%s] %s: %s\n", v.Row, v.Severity, v.Policy, v.Message)
	}
}
