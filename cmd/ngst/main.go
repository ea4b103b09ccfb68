// Command ngst runs the ingestion pipeline described by a descriptor file.
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/binarymachines/mercury/internal/cli"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
)

type options struct {
	targets []string
}

func newTool() cli.Tool {
	o := &options{}
	return cli.Tool{
		Name:  "ngst",
		Short: "ingest data into the sinks of a pipeline descriptor",
		Long: `
			Run the pipeline described by --config: one source, any stages and
			any number of sinks. A DATAFILE argument replaces the path of a file
			source, so one descriptor can ingest many files. --target runs only
			the named sinks.

			With --metrics-addr the run serves /metrics, /healthz and /status.`,
		Example: `
			# ingest today's extract into every sink of the descriptor
			ngst -c ingest.yaml extract-2024-06-01.csv

			# only the warehouse sink, with a status endpoint
			ngst -c ingest.yaml --target warehouse --metrics-addr :9102

			# start from a sample descriptor
			ngst template > ingest.yaml`,
		Args: cobra.MaximumNArgs(1),
		Flags: func(cmd *cobra.Command) {
			cmd.Flags().StringSliceVar(&o.targets, "target", nil, "names of the sinks to write (default all)")
		},
		Adjust:   o.adjust,
		Commands: []*cobra.Command{templateCmd()},
	}
}

func (o *options) adjust(_ *cobra.Command, args []string, p *config.Pipeline) error {
	if len(args) == 1 {
		if _, ok := p.Source.Settings["path"]; !ok {
			return errors.Newf(errors.ErrorTypeConfig, "source %s (%s) does not read files; drop the DATAFILE argument",
				p.Source.Name, p.Source.Type)
		}
		p.Source.Settings["path"] = args[0]
	}
	if len(o.targets) == 0 {
		return nil
	}

	byName := make(map[string]config.Connector, len(p.Sinks))
	for _, s := range p.Sinks {
		byName[s.Name] = s
	}
	sinks := make([]config.Connector, 0, len(o.targets))
	for _, name := range o.targets {
		s, ok := byName[name]
		if !ok {
			names := make([]string, 0, len(byName))
			for n := range byName {
				names = append(names, n)
			}
			sort.Strings(names)
			return errors.Newf(errors.ErrorTypeConfig, "no sink named %q (have %s)", name, strings.Join(names, ", "))
		}
		sinks = append(sinks, s)
	}
	p.Sinks = sinks
	return nil
}

const template = `
	name: ingest
	source:
	  name: extract
	  type: csv
	  settings:
	    path: extract.csv
	    encoding: utf-8
	stages:
	  - name: map
	    type: map
	    on_error: drop
	    mapping_file: extract.yaml
	  - name: unique
	    type: dedup
	    settings:
	      keys: id
	sinks:
	  - name: archive
	    type: json
	    settings:
	      path: extract.jsonl.gz
	  - name: warehouse
	    type: postgresql
	    settings:
	      dsn: ${MERCURY_WAREHOUSE_DSN}
	      table: extract
	      keys: id
	policy:
	  batch_size: 500
	  error_policy: continue
	  retry:
	    max_attempts: 3
	`

func templateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template",
		Short: "Print a sample pipeline descriptor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), heredoc.Doc(template))
			return err
		},
	}
}

func main() {
	os.Exit(cli.Main(newTool()))
}
