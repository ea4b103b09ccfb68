// Command xfile converts a data file into another format, optionally
// reshaping and deduplicating its records on the way.
package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/binarymachines/mercury/internal/cli"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
)

type options struct {
	from     string
	to       string
	mapping  string
	onError  string
	where    []string
	dedup    []string
	distinct bool
	set      []string
}

func newTool() cli.Tool {
	o := &options{}
	return cli.Tool{
		Name:  "xfile",
		Short: "convert, reshape and deduplicate data files",
		Long: `
			Copy the records of IN to OUT. Formats follow the file extensions
			(.csv, .tsv, .json, .jsonl, .avro, .xlsx as input only) and a trailing
			.gz, .zst, .lz4 or .snappy compresses or decompresses the data. OUT
			may also be a gs:// or s3:// location.

			Stages run in this order: --where, --mapping, --dedup or --distinct,
			then --set.`,
		Example: `
			# CSV to compressed JSON lines
			xfile orders.csv orders.jsonl.gz

			# reshape, keep the first record of each order and stamp the batch
			xfile raw.jsonl clean.avro -m orders.yaml --dedup order_id --set batch=2024-06`,
		Args: cobra.RangeArgs(0, 2),
		Flags: func(cmd *cobra.Command) {
			fs := cmd.Flags()
			fs.StringVar(&o.from, "from", "", "input format when the extension does not tell")
			fs.StringVar(&o.to, "to", "", "output format when the extension does not tell")
			fs.StringVarP(&o.mapping, "mapping", "m", "", "mapping file applied to every record")
			fs.StringVar(&o.onError, "on-mapping-error", config.OnErrorDrop, "drop, default or abort when a record does not map")
			fs.StringArrayVarP(&o.where, "where", "w", nil, "keep records matching the condition; repeatable")
			fs.StringSliceVar(&o.dedup, "dedup", nil, "keep the first record of each combination of these fields")
			fs.BoolVar(&o.distinct, "distinct", false, "drop records identical to an earlier one")
			fs.StringSliceVar(&o.set, "set", nil, "name=value fields added to every record")
		},
		Pipeline: o.pipeline,
	}
}

func (o *options) pipeline(_ *cobra.Command, args []string) (*config.Pipeline, error) {
	if len(args) != 2 {
		return nil, errors.New(errors.ErrorTypeConfig, "xfile needs IN and OUT (- for standard input or output)")
	}
	if len(o.dedup) > 0 && o.distinct {
		return nil, errors.New(errors.ErrorTypeConfig, "--dedup and --distinct are exclusive")
	}
	src, err := cli.Source("input", args[0], o.from)
	if err != nil {
		return nil, err
	}
	sink, err := cli.Sink("output", args[1], o.to)
	if err != nil {
		return nil, err
	}

	stages, err := cli.Conditions(o.where)
	if err != nil {
		return nil, err
	}
	if o.mapping != "" {
		stages = append(stages, cli.MapStage(o.mapping, o.onError))
	}
	switch {
	case len(o.dedup) > 0:
		stages = append(stages, config.Stage{Name: "dedup", Type: "dedup", Settings: config.Settings{
			"keys": strings.Join(o.dedup, ","),
		}})
	case o.distinct:
		stages = append(stages, config.Stage{Name: "distinct", Type: "dedup"})
	}
	if len(o.set) > 0 {
		stages = append(stages, config.Stage{Name: "set", Type: "constant", Settings: config.Settings{
			"fields": strings.Join(o.set, ","),
		}})
	}

	return &config.Pipeline{
		Name:   "xfile",
		Source: src,
		Stages: stages,
		Sinks:  []config.Connector{sink},
	}, nil
}

func main() {
	os.Exit(cli.Main(newTool()))
}
