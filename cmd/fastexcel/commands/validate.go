package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/maxexplode/fastexcel/pkg/output"
	"github.com/maxexplode/fastexcel/pkg/policy"
	"github.com/maxexplode/fastexcel/pkg/reader"
)

// validationReport is the JSON form of a validate run.
type validationReport struct {
	Sheet      string             `json:"sheet"`
	Rows       int                `json:"rows"`
	Rejected   int                `json:"rejected"`
	Violations []policy.Violation `json:"violations"`
	Warnings   []string           `json:"warnings,omitempty"`
}

func newValidateCommand(root *rootOptions) *cobra.Command {
	var (
		rf readerFlags
		pf policyFlags
	)

	cmd := &cobra.Command{
		Use:   "validate <file|sftp://...>",
		Short: "Check the rows of a sheet against policies",
		Long: `Evaluate every data row against the builtin and configured Rego policies
without importing anything. The command fails when a row has an error or
critical violation.`,
		Example: `  fastexcel validate --required "Order ID" --policy ./policies orders.xlsx`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, err := root.policyEngine(ctx, pf.paths(root.cfg.Import.Policies))
			if err != nil {
				return err
			}

			local, err := root.resolver().Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			defer local.Cleanup()

			opts := rf.options(cmd, root.cfg.Reader.Options())
			opts.Metrics = root.tel.Metrics
			rr, err := reader.OpenRecords(ctx, local.Path, opts)
			if err != nil {
				return err
			}
			defer rr.Close()

			if _, err := rr.ReadHeader(); err != nil {
				return err
			}
			params := policy.Params{
				Sheet:           rr.Sheet().Name,
				RequiredColumns: pf.requiredColumns(root.cfg.Import.RequiredColumns),
			}

			report := validationReport{Sheet: rr.Sheet().Name, Violations: []policy.Violation{}}
			warned := make(map[string]bool)
			for rec, err := range rr.All(ctx) {
				if err != nil {
					return err
				}
				res, err := engine.EvaluateRecord(ctx, rec, params)
				if err != nil {
					return err
				}
				report.Rows++
				if !res.Allowed {
					report.Rejected++
				}
				report.Violations = append(report.Violations, res.Violations...)
				for _, w := range res.Warnings {
					if !warned[w] {
						warned[w] = true
						report.Warnings = append(report.Warnings, w)
					}
				}
			}

			if root.jsonOutput {
				if err := output.JSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else if err := printViolations(cmd, report); err != nil {
				return err
			}

			log.Debug().
				Str("sheet", report.Sheet).
				Int("rows", report.Rows).
				Int("violations", len(report.Violations)).
				Msg("Validation finished")

			if report.Rejected > 0 {
				return fmt.Errorf("%d of %d rows failed validation", report.Rejected, report.Rows)
			}
			return nil
		},
	}

	rf.register(cmd)
	pf.register(cmd)
	return cmd
}

func printViolations(cmd *cobra.Command, report validationReport) error {
	out := cmd.OutOrStdout()
	if len(report.Violations) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ROW\tSEVERITY\tPOLICY\tCOLUMN\tMESSAGE")
		for _, v := range report.Violations {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", v.Row, v.Severity, v.Policy, v.Column, v.Message)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	fmt.Fprintf(out, "%s: %d rows, %d violations, %d rejected\n",
		report.Sheet, report.Rows, len(report.Violations), report.Rejected)
	return nil
}
