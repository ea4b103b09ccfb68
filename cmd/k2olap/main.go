// Command k2olap consumes a Kafka topic and upserts the mapped records
// into a relational fact table.
package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/binarymachines/mercury/internal/cli"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/shared/sqldb"
	"github.com/binarymachines/mercury/pkg/errors"
)

type options struct {
	brokers []string
	topics  []string
	group   string
	offset  string
	mapping string
	onError string
	driver  string
	dsn     string
	table   string
	keys    []string
	batch   int
}

func newTool() cli.Tool {
	o := &options{}
	return cli.Tool{
		Name:  "k2olap",
		Short: "stream a Kafka topic into a fact table",
		Long: `
			Consume one or more topics as a consumer group, map every message
			with a mapping file and write the result to a table of a relational
			database. With --keys rows are upserted, so replaying a topic from
			an earlier offset does not duplicate facts.

			The topic is unbounded: k2olap runs until it is interrupted or has
			read --max-records messages. Offsets are committed when the run
			ends, after every sink has been flushed.`,
		Example: `
			# upsert page views into postgres
			k2olap -b localhost:9092 -t pageviews -g olap -m pageviews.yaml \
			  --driver postgresql --dsn postgres://etl@db/warehouse --table fact_pageviews --keys view_id

			# load the first 10000 messages into sqlite
			k2olap -t orders -m orders.yaml --driver sqlite --dsn facts.db --table orders --max-records 10000`,
		Args: cobra.NoArgs,
		Flags: func(cmd *cobra.Command) {
			fs := cmd.Flags()
			fs.StringSliceVarP(&o.brokers, "brokers", "b", []string{"localhost:9092"}, "Kafka bootstrap brokers")
			fs.StringSliceVarP(&o.topics, "topic", "t", nil, "topics to consume")
			fs.StringVarP(&o.group, "group", "g", "k2olap", "consumer group")
			fs.StringVar(&o.offset, "offset", "oldest", "where a new group starts (oldest or newest)")
			fs.StringVarP(&o.mapping, "mapping", "m", "", "mapping file from message to row")
			fs.StringVar(&o.onError, "on-mapping-error", config.OnErrorDrop, "drop, default or abort when a message does not map")
			fs.StringVar(&o.driver, "driver", "postgresql", "database kind ("+strings.Join(append([]string{"postgresql"}, sqldb.Kinds...), ", ")+")")
			fs.StringVar(&o.dsn, "dsn", "", "database connection string")
			fs.StringVar(&o.table, "table", "", "fact table, optionally schema qualified")
			fs.StringSliceVar(&o.keys, "keys", nil, "key columns; rows with the same key are updated")
			fs.IntVar(&o.batch, "rows-per-commit", 500, "rows written per transaction")
		},
		Pipeline: o.pipeline,
	}
}

func (o *options) pipeline(_ *cobra.Command, _ []string) (*config.Pipeline, error) {
	if err := cli.Require(map[string]string{
		"topic":   strings.Join(o.topics, ","),
		"mapping": o.mapping,
		"dsn":     o.dsn,
		"table":   o.table,
	}); err != nil {
		return nil, err
	}
	kind := strings.ToLower(o.driver)
	switch kind {
	case "postgres", "postgresql", "pg":
		kind = "postgresql"
	default:
		d, err := sqldb.Lookup(kind)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "--driver %s", o.driver)
		}
		kind = d.Kind
	}

	sink := config.Connector{Name: "facts", Type: kind, Settings: config.Settings{
		"dsn":        o.dsn,
		"table":      o.table,
		"batch_size": strconv.Itoa(o.batch),
	}}
	if len(o.keys) > 0 {
		sink.Settings["keys"] = strings.Join(o.keys, ",")
	}
	return &config.Pipeline{
		Name: "k2olap",
		Source: config.Connector{Name: "kafka", Type: "kafka", Settings: config.Settings{
			"brokers": strings.Join(o.brokers, ","),
			"topics":  strings.Join(o.topics, ","),
			"group":   o.group,
			"offset":  o.offset,
		}},
		Stages: []config.Stage{cli.MapStage(o.mapping, o.onError)},
		Sinks:  []config.Connector{sink},
	}, nil
}

func main() {
	os.Exit(cli.Main(newTool()))
}
