// Command bqstream-x streams records from a file or a Kafka topic into a
// BigQuery table.
package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/binarymachines/mercury/internal/cli"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
)

type options struct {
	format string

	brokers []string
	topics  []string
	group   string
	offset  string

	mapping string
	onError string

	project     string
	dataset     string
	table       string
	location    string
	credentials string
	createTable bool
	insertID    string
	rows        int
	writers     int
}

func newTool() cli.Tool {
	o := &options{}
	return cli.Tool{
		Name:  "bqstream-x",
		Short: "stream records into BigQuery",
		Long: `
			Read a data file, or consume Kafka topics with --topic, reshape every
			record with a mapping file and stream the rows into a BigQuery table
			with streaming inserts.

			--insert-id names the field used as the insert id, which lets
			BigQuery discard rows sent twice after a retry. With --create-table
			a missing table is created from the first rows.`,
		Example: `
			# a file into an existing table
			bqstream-x orders.jsonl -m orders.yaml --project acme --table sales.orders

			# a topic, deduplicated on event id, four concurrent streams
			bqstream-x --topic events -b k1:9092 -m events.yaml -p acme -t raw.events --insert-id event_id --writers 4`,
		Args: cobra.MaximumNArgs(1),
		Flags: func(cmd *cobra.Command) {
			fs := cmd.Flags()
			fs.StringVar(&o.format, "format", "", "input format when the extension does not tell")
			fs.StringSliceVarP(&o.brokers, "brokers", "b", []string{"localhost:9092"}, "Kafka bootstrap brokers")
			fs.StringSliceVar(&o.topics, "topic", nil, "consume these topics instead of reading a file")
			fs.StringVar(&o.group, "group", "bqstream-x", "Kafka consumer group")
			fs.StringVar(&o.offset, "offset", "oldest", "where a new consumer group starts (oldest or newest)")
			fs.StringVarP(&o.mapping, "mapping", "m", "", "mapping file from record to row")
			fs.StringVar(&o.onError, "on-mapping-error", config.OnErrorDrop, "drop, default or abort when a record does not map")
			fs.StringVarP(&o.project, "project", "p", os.Getenv("GOOGLE_CLOUD_PROJECT"), "Google Cloud project")
			fs.StringVar(&o.dataset, "dataset", "", "dataset of --table")
			fs.StringVarP(&o.table, "table", "t", "", "destination table, as table or dataset.table")
			fs.StringVar(&o.location, "location", "", "BigQuery location")
			fs.StringVar(&o.credentials, "credentials", "", "service account key file")
			fs.BoolVar(&o.createTable, "create-table", false, "create the table from the first rows when it does not exist")
			fs.StringVar(&o.insertID, "insert-id", "", "field used as the streaming insert id")
			fs.IntVar(&o.rows, "rows-per-insert", 500, "rows per insert request")
			fs.IntVar(&o.writers, "writers", 1, "concurrent insert streams; row order is kept only with one")
		},
		Pipeline: o.pipeline,
	}
}

func (o *options) pipeline(_ *cobra.Command, args []string) (*config.Pipeline, error) {
	if err := cli.Require(map[string]string{
		"project": o.project,
		"table":   o.table,
		"mapping": o.mapping,
	}); err != nil {
		return nil, err
	}

	var src config.Connector
	switch {
	case len(o.topics) > 0 && len(args) > 0:
		return nil, errors.New(errors.ErrorTypeConfig, "give an input file or --topic, not both")
	case len(o.topics) > 0:
		src = config.Connector{Name: "kafka", Type: "kafka", Settings: config.Settings{
			"brokers": strings.Join(o.brokers, ","),
			"topics":  strings.Join(o.topics, ","),
			"group":   o.group,
			"offset":  o.offset,
		}}
	case len(args) == 1:
		var err error
		if src, err = cli.Source("input", args[0], o.format); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New(errors.ErrorTypeConfig, "an input file or --topic is required")
	}

	sink := config.Connector{Name: "bigquery", Type: "bigquery", Writers: o.writers, Settings: config.Settings{
		"project":      o.project,
		"table":        o.table,
		"create_table": strconv.FormatBool(o.createTable),
		"batch_size":   strconv.Itoa(o.rows),
	}}
	for k, v := range map[string]string{
		"dataset":          o.dataset,
		"location":         o.location,
		"credentials_file": o.credentials,
		"insert_id_field":  o.insertID,
	} {
		if v != "" {
			sink.Settings[k] = v
		}
	}
	return &config.Pipeline{
		Name:   "bqstream-x",
		Source: src,
		Stages: []config.Stage{cli.MapStage(o.mapping, o.onError)},
		Sinks:  []config.Connector{sink},
	}, nil
}

func main() {
	os.Exit(cli.Main(newTool()))
}
