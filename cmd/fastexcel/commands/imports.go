package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxexplode/fastexcel/pkg/output"
	"github.com/maxexplode/fastexcel/pkg/stores"
)

func newImportsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imports",
		Short: "Inspect recorded imports",
		Long:  `List, show and delete the imports recorded in the database.`,
	}

	cmd.AddCommand(newImportsListCommand(root))
	cmd.AddCommand(newImportsShowCommand(root))
	cmd.AddCommand(newImportsRowsCommand(root))
	cmd.AddCommand(newImportsIssuesCommand(root))
	cmd.AddCommand(newImportsDeleteCommand(root))

	return cmd
}

func newImportsListCommand(root *rootOptions) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List imports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := root.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			imports, err := store.ListImports(ctx, limit, offset)
			if err != nil {
				return err
			}
			if root.jsonOutput {
				return output.JSON(cmd.OutOrStdout(), imports)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tSOURCE\tSHEET\tSTORED\tREJECTED\tSTARTED")
			for _, imp := range imports {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					imp.ID, imp.Status, imp.Source, imp.Sheet,
					imp.RowsStored, imp.RowsRejected, imp.StartedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of imports")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of imports to skip")
	return cmd
}

func newImportsShowCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <import-id>",
		Short: "Show one import",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := root.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			imp, err := store.GetImport(ctx, args[0])
			if err != nil {
				return err
			}
			if root.jsonOutput {
				return output.JSON(cmd.OutOrStdout(), imp)
			}
			printImport(cmd, imp)
			return nil
		},
	}
}

func printImport(cmd *cobra.Command, imp *stores.Import) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", imp.ID)
	fmt.Fprintf(w, "Status:\t%s\n", imp.Status)
	fmt.Fprintf(w, "Source:\t%s\n", imp.Source)
	fmt.Fprintf(w, "Sheet:\t%s\n", imp.Sheet)
	fmt.Fprintf(w, "Checksum:\t%s\n", imp.Checksum)
	fmt.Fprintf(w, "Rows:\t%d read, %d stored, %d rejected\n", imp.RowsRead, imp.RowsStored, imp.RowsRejected)
	fmt.Fprintf(w, "Started:\t%s\n", imp.StartedAt.Local().Format(time.DateTime))
	if imp.CompletedAt != nil {
		fmt.Fprintf(w, "Completed:\t%s (%s)\n", imp.CompletedAt.Local().Format(time.DateTime),
			imp.CompletedAt.Sub(imp.StartedAt).Round(time.Millisecond))
	}
	if imp.Error != nil {
		fmt.Fprintf(w, "Error:\t%s\n", *imp.Error)
	}
	_ = w.Flush()
}

func newImportsRowsCommand(root *rootOptions) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "rows <import-id>",
		Short: "Print the stored rows of an import as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := root.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if _, err := store.GetImport(ctx, args[0]); err != nil {
				return err
			}
			rows, err := store.ListRows(ctx, args[0], limit, offset)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, row := range rows {
				fmt.Fprintf(out, "{\"row\":%d,\"values\":%s}\n", row.RowNumber, row.Data)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of rows to skip")
	return cmd
}

func newImportsIssuesCommand(root *rootOptions) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "issues <import-id>",
		Short: "List the issues recorded for an import",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := root.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if _, err := store.GetImport(ctx, args[0]); err != nil {
				return err
			}
			issues, err := store.ListIssues(ctx, args[0], limit, offset)
			if err != nil {
				return err
			}
			if root.jsonOutput {
				return output.JSON(cmd.OutOrStdout(), issues)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ROW\tSEVERITY\tPOLICY\tCOLUMN\tMESSAGE")
			for _, is := range issues {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", is.RowNumber, is.Severity, is.Policy, is.Column, is.Message)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of issues")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of issues to skip")
	return cmd
}

func newImportsDeleteCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <import-id>...",
		Short: "Delete imports with their rows and issues",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := root.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, id := range args {
				if err := store.DeleteImport(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}
}
