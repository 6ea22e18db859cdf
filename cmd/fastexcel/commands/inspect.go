package commands

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/maxexplode/fastexcel/pkg/excel"
	"github.com/maxexplode/fastexcel/pkg/output"
	"github.com/maxexplode/fastexcel/pkg/reader"
	"github.com/maxexplode/fastexcel/pkg/workbook"
)

func newHeadersCommand(root *rootOptions) *cobra.Command {
	var rf readerFlags

	cmd := &cobra.Command{
		Use:   "headers <file|sftp://...>",
		Short: "Print the header columns of a sheet",
		Example: `  fastexcel headers orders.xlsx
  fastexcel headers --sheet 2 --header-row 4 orders.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			local, err := root.resolver().Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			defer local.Cleanup()

			rr, err := reader.OpenRecords(ctx, local.Path, rf.options(cmd, root.cfg.Reader.Options()))
			if err != nil {
				return err
			}
			defer rr.Close()

			if _, err := rr.ReadHeader(); err != nil {
				return err
			}
			headers := rr.Headers()
			cols := make([]int, 0, len(headers))
			for c := range headers {
				cols = append(cols, c)
			}
			sort.Ints(cols)

			type header struct {
				Column string `json:"column"`
				Index  int    `json:"index"`
				Name   string `json:"name"`
			}
			out := make([]header, len(cols))
			for i, c := range cols {
				out[i] = header{Column: excel.ColumnName(c), Index: c, Name: headers[c]}
			}

			if root.jsonOutput {
				return output.JSON(cmd.OutOrStdout(), out)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, h := range out {
				fmt.Fprintf(w, "%s\t%s\n", h.Column, h.Name)
			}
			return w.Flush()
		},
	}

	rf.register(cmd)
	return cmd
}

func newSheetsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheets <file|sftp://...>",
		Short: "List the sheets of a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			local, err := root.resolver().Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			defer local.Cleanup()

			wb, err := workbook.Open(ctx, local.Path,
				workbook.WithLogger(root.logger("workbook")),
				workbook.WithMetrics(root.tel.Metrics),
			)
			if err != nil {
				return err
			}
			defer wb.Close()

			if root.jsonOutput {
				return output.JSON(cmd.OutOrStdout(), map[string]interface{}{
					"sheets":   wb.Sheets(),
					"stats":    wb.Stats(),
					"checksum": local.Checksum,
				})
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tNAME\tHIDDEN")
			for _, s := range wb.Sheets() {
				fmt.Fprintf(w, "%d\t%s\t%t\n", s.Index, s.Name, s.Hidden)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			st := wb.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "\nshared strings: %d, styles: %d, custom formats: %d, 1904 dates: %t, opened in %s\n",
				st.SharedStrings, st.Styles, st.CustomFormats, st.Date1904, st.OpenDuration)
			return nil
		},
	}
	return cmd
}
