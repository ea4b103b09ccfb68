// Command bqex exports a BigQuery table or query result.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/binarymachines/mercury/internal/cli"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/errors"
)

type options struct {
	project     string
	dataset     string
	table       string
	query       string
	queryFile   string
	location    string
	credentials string
	output      string
	to          string
}

func newTool() cli.Tool {
	o := &options{}
	return cli.Tool{
		Name:  "bqex",
		Short: "export a BigQuery table or query",
		Long: `
			Read a BigQuery table, or the result of a query, and write it to a
			local file, standard output, or a gs:// or s3:// location. Object
			store exports are split into objects and written as csv or jsonl.

			Credentials come from --credentials or the application default
			credentials.`,
		Example: `
			# a whole table as gzipped CSV
			bqex --project acme --table sales.orders -o orders.csv.gz

			# a query to S3 as JSON lines
			bqex --project acme --query 'SELECT * FROM sales.orders WHERE day = CURRENT_DATE()' -o s3://exports/orders/`,
		Args: cobra.NoArgs,
		Flags: func(cmd *cobra.Command) {
			fs := cmd.Flags()
			fs.StringVarP(&o.project, "project", "p", os.Getenv("GOOGLE_CLOUD_PROJECT"), "Google Cloud project")
			fs.StringVar(&o.dataset, "dataset", "", "dataset of --table")
			fs.StringVarP(&o.table, "table", "t", "", "table to export, as table or dataset.table")
			fs.StringVarP(&o.query, "query", "q", "", "SQL query to export")
			fs.StringVar(&o.queryFile, "query-file", "", "file holding the SQL query to export")
			fs.StringVar(&o.location, "location", "", "BigQuery location of the job")
			fs.StringVar(&o.credentials, "credentials", "", "service account key file")
			fs.StringVarP(&o.output, "output", "o", base.StdioPath, "output file, gs:// or s3:// location")
			fs.StringVar(&o.to, "to", "", "output format (csv, tsv, jsonl or avro; default from the extension)")
		},
		Pipeline: o.pipeline,
	}
}

func (o *options) pipeline(_ *cobra.Command, _ []string) (*config.Pipeline, error) {
	if err := cli.Require(map[string]string{"project": o.project}); err != nil {
		return nil, err
	}
	query := o.query
	if o.queryFile != "" {
		if query != "" {
			return nil, errors.New(errors.ErrorTypeConfig, "--query and --query-file are exclusive")
		}
		data, err := os.ReadFile(o.queryFile)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "read query file %s", o.queryFile)
		}
		query = string(data)
	}
	if (query == "") == (o.table == "") {
		return nil, errors.New(errors.ErrorTypeConfig, "give either --table or --query")
	}

	src := config.Connector{Name: "bigquery", Type: "bigquery", Settings: config.Settings{"project": o.project}}
	for k, v := range map[string]string{
		"dataset":          o.dataset,
		"table":            o.table,
		"query":            query,
		"location":         o.location,
		"credentials_file": o.credentials,
	} {
		if v != "" {
			src.Settings[k] = v
		}
	}

	format := o.to
	if format == "" && o.output == base.StdioPath {
		format = "jsonl"
	}
	sink, err := cli.Sink("output", o.output, format)
	if err != nil {
		return nil, err
	}
	return &config.Pipeline{Name: "bqex", Source: src, Sinks: []config.Connector{sink}}, nil
}

func main() {
	os.Exit(cli.Main(newTool()))
}
