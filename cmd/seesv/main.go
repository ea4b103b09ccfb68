// Command seesv filters and reshapes CSV data.
package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/binarymachines/mercury/internal/cli"
	"github.com/binarymachines/mercury/pkg/config"
)

type options struct {
	delimiter string
	encoding  string
	noHeader  bool
	where     []string
	selected  []string
	dropped   []string
	output    string
	to        string
}

func newTool() cli.Tool {
	o := &options{}
	return cli.Tool{
		Name:  "seesv",
		Short: "filter and reshape CSV files",
		Long: `
			Read a CSV file, or standard input, keep the rows matching every
			--where condition and write the chosen columns as CSV or JSON lines.

			Conditions compare a field with a literal: age>=30, city=London,
			state!=NY, name~ada (contains), email? (set) and !email (not set).
			Numbers compare as numbers.`,
		Example: `
			# rows of adults in London, two columns
			seesv people.csv --where 'age>=18' --where city=London --select name,email

			# a latin-1 semicolon file from stdin to JSON lines
			cat export.csv | seesv -d ';' --encoding latin1 --to jsonl`,
		Args: cobra.MaximumNArgs(1),
		Flags: func(cmd *cobra.Command) {
			fs := cmd.Flags()
			fs.StringVarP(&o.delimiter, "delimiter", "d", ",", "input field delimiter (a character, tab or pipe)")
			fs.StringVar(&o.encoding, "encoding", "", "input character set (utf-8, latin1, windows-1252, ...)")
			fs.BoolVar(&o.noHeader, "no-header", false, "the input has no header row; columns are column_1, column_2, ...")
			fs.StringArrayVarP(&o.where, "where", "w", nil, "keep rows matching the condition; repeatable")
			fs.StringSliceVarP(&o.selected, "select", "s", nil, "columns to keep, in this order")
			fs.StringSliceVar(&o.dropped, "drop", nil, "columns to remove")
			fs.StringVarP(&o.output, "output", "o", "-", "output file")
			fs.StringVar(&o.to, "to", "csv", "output format (csv, tsv or jsonl)")
		},
		Pipeline: o.pipeline,
	}
}

func (o *options) pipeline(_ *cobra.Command, args []string) (*config.Pipeline, error) {
	in := "-"
	if len(args) == 1 {
		in = args[0]
	}
	src := config.Connector{Name: "csv", Type: "csv", Settings: config.Settings{
		"path":      in,
		"delimiter": o.delimiter,
		"header":    strconv.FormatBool(!o.noHeader),
	}}
	if o.encoding != "" {
		src.Settings["encoding"] = o.encoding
	}

	p := &config.Pipeline{Name: "seesv", Source: src}
	stages, err := cli.Conditions(o.where)
	if err != nil {
		return nil, err
	}
	p.Stages = stages
	if len(o.selected) > 0 {
		p.Stages = append(p.Stages, config.Stage{Name: "select", Type: "select", Settings: config.Settings{
			"fields": strings.Join(o.selected, ","),
		}})
	}
	if len(o.dropped) > 0 {
		p.Stages = append(p.Stages, config.Stage{Name: "drop", Type: "drop", Settings: config.Settings{
			"fields": strings.Join(o.dropped, ","),
		}})
	}

	sink, err := cli.Sink("output", o.output, o.to)
	if err != nil {
		return nil, err
	}
	if len(o.selected) > 0 && sink.Type != "json" {
		sink.Settings["columns"] = strings.Join(o.selected, ",")
	}
	p.Sinks = []config.Connector{sink}
	return p, nil
}

func main() {
	os.Exit(cli.Main(newTool()))
}
