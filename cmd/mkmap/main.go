// Command mkmap profiles a data file and proposes a mapping for it.
package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/binarymachines/mercury/internal/cli"
	"github.com/binarymachines/mercury/pkg/compression"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/errors"
)

type options struct {
	format  string
	name    string
	output  string
	profile bool
	sample  int64
}

func newTool() cli.Tool {
	o := &options{}
	return cli.Tool{
		Name:  "mkmap",
		Short: "propose a mapping file from sample data",
		Long: `
			Read a data file, infer the type and nullability of every field and
			write a mapping YAML with one rule per field: a snake_case target,
			the inferred coercion and required set for fields never seen empty.
			Edit the result and hand it to kload, k2olap, xfile or bqstream-x
			with --mapping.

			With --profile the field statistics are written as JSON instead.`,
		Example: `
			# profile the first ten thousand rows of an export
			mkmap orders.csv --sample 10000 -o orders.yaml

			# field statistics of a JSON lines feed
			mkmap events.jsonl.gz --profile`,
		Args: cobra.MaximumNArgs(1),
		Flags: func(cmd *cobra.Command) {
			fs := cmd.Flags()
			fs.StringVarP(&o.format, "format", "f", "", "input format when the extension does not tell (csv, tsv, jsonl, avro, excel)")
			fs.StringVar(&o.name, "name", "", "mapping name (default the input file name)")
			fs.StringVarP(&o.output, "output", "o", "-", "file to write the mapping to")
			fs.BoolVar(&o.profile, "profile", false, "write the field profiles as JSON instead of a mapping")
			fs.Int64Var(&o.sample, "sample", 0, "profile only the first N records (0 reads everything)")
		},
		Pipeline: o.pipeline,
	}
}

func (o *options) pipeline(_ *cobra.Command, args []string) (*config.Pipeline, error) {
	in := "-"
	if len(args) == 1 {
		in = args[0]
	}
	if o.sample < 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "--sample must not be negative, got %d", o.sample)
	}
	src, err := cli.Source("input", in, o.format)
	if err != nil {
		return nil, err
	}

	name := o.name
	if name == "" {
		name = mappingName(in)
	}
	format := "yaml"
	if o.profile {
		format = "json"
	}
	return &config.Pipeline{
		Name:   "mkmap",
		Source: src,
		Sinks: []config.Connector{{Name: "profile", Type: "profile", Settings: config.Settings{
			"path":   o.output,
			"name":   name,
			"format": format,
		}}},
		Policy: config.Policy{MaxRecords: o.sample},
	}, nil
}

// mappingName is the input's base name without its format and compression
// extensions.
func mappingName(path string) string {
	if path == base.StdioPath {
		return "stdin"
	}
	_, stripped := compression.FromPath(filepath.Base(path))
	return strings.TrimSuffix(stripped, filepath.Ext(stripped))
}

func main() {
	os.Exit(cli.Main(newTool()))
}
