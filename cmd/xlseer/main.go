// Command xlseer reads a spreadsheet sheet as CSV or JSON lines.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"github.com/binarymachines/mercury/internal/cli"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
)

type options struct {
	sheet     string
	headerRow int
	keepEmpty bool
	where     []string
	output    string
	to        string
}

func newTool() cli.Tool {
	o := &options{}
	return cli.Tool{
		Name:  "xlseer",
		Short: "read a spreadsheet sheet as CSV or JSON lines",
		Long: `
			Read one sheet of an .xlsx workbook and write its rows as CSV or JSON
			lines. The header row names the columns; rows above it are skipped,
			and so are blank rows. Cells are read as the text the sheet shows.`,
		Example: `
			# the first sheet to standard output
			xlseer report.xlsx

			# the "Q3" sheet, header on row 4, as JSON lines
			xlseer report.xlsx --sheet Q3 --header-row 4 --to jsonl -o q3.jsonl

			# list the sheets of a workbook
			xlseer sheets report.xlsx`,
		Args: cobra.MaximumNArgs(1),
		Flags: func(cmd *cobra.Command) {
			fs := cmd.Flags()
			fs.StringVar(&o.sheet, "sheet", "", "sheet to read (default the first)")
			fs.IntVar(&o.headerRow, "header-row", 1, "row holding the column names")
			fs.BoolVar(&o.keepEmpty, "keep-empty", false, "write empty cells as empty strings rather than nulls")
			fs.StringArrayVarP(&o.where, "where", "w", nil, "keep rows matching the condition; repeatable")
			fs.StringVarP(&o.output, "output", "o", "-", "output file, gs:// or s3:// location")
			fs.StringVar(&o.to, "to", "csv", "output format (csv, tsv or jsonl)")
		},
		Pipeline: o.pipeline,
		Commands: []*cobra.Command{sheetsCmd()},
	}
}

func (o *options) pipeline(_ *cobra.Command, args []string) (*config.Pipeline, error) {
	if len(args) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "a workbook is required")
	}
	src := config.Connector{Name: "sheet", Type: "excel", Settings: config.Settings{
		"path":          args[0],
		"header_row":    strconv.Itoa(o.headerRow),
		"empty_as_null": strconv.FormatBool(!o.keepEmpty),
	}}
	if o.sheet != "" {
		src.Settings["sheet"] = o.sheet
	}
	stages, err := cli.Conditions(o.where)
	if err != nil {
		return nil, err
	}
	sink, err := cli.Sink("output", o.output, o.to)
	if err != nil {
		return nil, err
	}
	return &config.Pipeline{
		Name:   "xlseer",
		Source: src,
		Stages: stages,
		Sinks:  []config.Connector{sink},
	}, nil
}

func sheetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sheets WORKBOOK",
		Short: "List the sheets of a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := excelize.OpenFile(args[0])
			if err != nil {
				return errors.Wrapf(err, errors.ErrorTypeFile, "open workbook %s", args[0])
			}
			defer f.Close()
			active := f.GetActiveSheetIndex()
			for i, name := range f.GetSheetList() {
				mark := " "
				if i == active {
					mark = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mark, name)
			}
			return nil
		},
	}
}

func main() {
	os.Exit(cli.Main(newTool()))
}
