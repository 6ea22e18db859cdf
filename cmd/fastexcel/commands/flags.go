package commands

import (
	"github.com/spf13/cobra"

	"github.com/maxexplode/fastexcel/pkg/reader"
)

// readerFlags select the sheet and layout, overriding the configuration.
type readerFlags struct {
	sheet     int
	sheetName string
	headerRow int
	dataRow   int
	keepEmpty bool
}

func (f *readerFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.sheet, "sheet", 0, "1-based sheet index (default first sheet)")
	cmd.Flags().StringVar(&f.sheetName, "sheet-name", "", "sheet name (case-insensitive)")
	cmd.Flags().IntVar(&f.headerRow, "header-row", 1, "row number of the header")
	cmd.Flags().IntVar(&f.dataRow, "data-row", 2, "first data row number")
	cmd.Flags().BoolVar(&f.keepEmpty, "keep-empty", false, "keep data rows whose cells are all blank")
}

// options applies the flags the user set on top of base.
func (f *readerFlags) options(cmd *cobra.Command, base reader.Options) reader.Options {
	flags := cmd.Flags()
	if flags.Changed("sheet") {
		base.Sheet = f.sheet
	}
	if flags.Changed("sheet-name") {
		base.SheetName = f.sheetName
	}
	if flags.Changed("header-row") {
		base.HeaderRow = f.headerRow
		if !flags.Changed("data-row") && base.DataRow <= base.HeaderRow {
			base.DataRow = base.HeaderRow + 1
		}
	}
	if flags.Changed("data-row") {
		base.DataRow = f.dataRow
	}
	if flags.Changed("keep-empty") {
		base.SkipEmpty = !f.keepEmpty
	}
	return base
}

// scriptFlags override the configured filter and transform.
type scriptFlags struct {
	filter    string
	transform string
}

func (f *scriptFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.filter, "filter", "", "Starlark expression; rows where it is false are dropped")
	cmd.Flags().StringVar(&f.transform, "transform", "", "Starlark script applied to each row")
}

func (f *scriptFlags) values(cmd *cobra.Command, filter, transform string) (string, string) {
	if cmd.Flags().Changed("filter") {
		filter = f.filter
	}
	if cmd.Flags().Changed("transform") {
		transform = f.transform
	}
	return filter, transform
}

// policyFlags add policy paths and required columns.
type policyFlags struct {
	policies []string
	required []string
}

func (f *policyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.policies, "policy", nil, "policy file or directory (repeatable)")
	cmd.Flags().StringSliceVar(&f.required, "required", nil, "column that must be non-blank (repeatable)")
}

func (f *policyFlags) paths(configured []string) []string {
	return append(append([]string(nil), configured...), f.policies...)
}

func (f *policyFlags) requiredColumns(configured []string) []string {
	return append(append([]string(nil), configured...), f.required...)
}
