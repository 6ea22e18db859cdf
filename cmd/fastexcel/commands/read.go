package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/maxexplode/fastexcel/pkg/output"
	"github.com/maxexplode/fastexcel/pkg/reader"
)

func newReadCommand(root *rootOptions) *cobra.Command {
	var (
		rf      readerFlags
		sf      scriptFlags
		format  string
		limit   int
		columns []string
	)

	cmd := &cobra.Command{
		Use:   "read <file|sftp://...>",
		Short: "Print the records of a sheet",
		Long: `Stream the data rows of one sheet as header keyed records.

Cells are rendered with their Excel number format, so dates, percentages
and currency look the way they do in Excel.`,
		Example: `  # Print the first sheet as JSON lines
  fastexcel read orders.xlsx

  # Print a named sheet as CSV, header in row 3
  fastexcel read --sheet-name Orders --header-row 3 --format csv orders.xlsx

  # Keep open orders only
  fastexcel read --filter 'row["Status"] == "open"' --format table orders.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if root.jsonOutput && !cmd.Flags().Changed("format") {
				format = string(output.FormatNDJSON)
			}
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			filter, transform := sf.values(cmd, root.cfg.Import.Filter, root.cfg.Import.Transform)

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

			header, err := rr.ReadHeader()
			if err != nil {
				return err
			}
			if len(columns) > 0 {
				header = columns
			} else if transform != "" {
				// A transform may add or drop columns.
				header = nil
			}

			w, err := output.NewRecordWriter(f, cmd.OutOrStdout(), header)
			if err != nil {
				return err
			}

			evaluator := root.evaluator()
			written := 0
			for rec, err := range rr.All(ctx) {
				if err != nil {
					return err
				}
				if limit > 0 && written >= limit {
					break
				}
				if filter != "" {
					keep, err := evaluator.Filter(ctx, filter, rec)
					if err != nil {
						return err
					}
					if !keep {
						continue
					}
				}
				if transform != "" {
					if rec, err = evaluator.Transform(ctx, transform, rec); err != nil {
						return err
					}
				}
				if err := w.WriteRecord(rec); err != nil {
					return fmt.Errorf("failed to write output: %w", err)
				}
				written++
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}

			log.Debug().
				Str("sheet", rr.Sheet().Name).
				Int("read", rr.TotalRowCount()).
				Int("written", written).
				Msg("Sheet read")
			return nil
		},
	}

	rf.register(cmd)
	sf.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", string(output.FormatNDJSON), "output format (ndjson, csv, table)")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many records (0 = all)")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "columns to print, in order (csv and table)")

	return cmd
}
