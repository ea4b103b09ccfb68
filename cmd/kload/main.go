// Command kload publishes the records of a file to a Kafka topic.
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
	format      string
	brokers     []string
	topic       string
	keyField    string
	mapping     string
	onError     string
	acks        string
	compression string
	producers   int
}

func newTool() cli.Tool {
	o := &options{}
	return cli.Tool{
		Name:  "kload",
		Short: "load a file into a Kafka topic",
		Long: `
			Read a CSV, JSON, Avro or spreadsheet file, optionally reshape every
			record with a mapping file, and publish each record as a JSON message.

			The message key is the value of --key-field when it is set.`,
		Example: `
			# publish orders keyed by order id
			kload orders.csv.gz --brokers localhost:9092 --topic orders --key-field id

			# map first, and use three concurrent producers
			kload events.jsonl -b k1:9092,k2:9092 -t events -m events.yaml --producers 3`,
		Args: cobra.MaximumNArgs(1),
		Flags: func(cmd *cobra.Command) {
			fs := cmd.Flags()
			fs.StringVar(&o.format, "format", "", "input format when the extension does not tell (csv, tsv, jsonl, avro, xlsx)")
			fs.StringSliceVarP(&o.brokers, "brokers", "b", []string{"localhost:9092"}, "Kafka bootstrap brokers")
			fs.StringVarP(&o.topic, "topic", "t", "", "destination topic")
			fs.StringVar(&o.keyField, "key-field", "", "record field used as the message key")
			fs.StringVarP(&o.mapping, "mapping", "m", "", "mapping file applied to every record")
			fs.StringVar(&o.onError, "on-mapping-error", config.OnErrorDrop, "drop, default or abort when a record does not map")
			fs.StringVar(&o.acks, "acks", "all", "required acknowledgements (none, leader, all)")
			fs.StringVar(&o.compression, "compression", "", "message compression (gzip, snappy, lz4, zstd)")
			fs.IntVar(&o.producers, "producers", 1, "concurrent producers; message order is kept only with one")
		},
		Pipeline: o.pipeline,
	}
}

func (o *options) pipeline(_ *cobra.Command, args []string) (*config.Pipeline, error) {
	if err := cli.Require(map[string]string{"topic": o.topic}); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "an input file is required")
	}
	src, err := cli.Source("input", args[0], o.format)
	if err != nil {
		return nil, err
	}
	p := &config.Pipeline{Name: "kload", Source: src}
	if o.mapping != "" {
		p.Stages = append(p.Stages, cli.MapStage(o.mapping, o.onError))
	}
	sink := config.Connector{Name: "kafka", Type: "kafka", Writers: o.producers, Settings: config.Settings{
		"brokers": strings.Join(o.brokers, ","),
		"topic":   o.topic,
		"acks":    o.acks,
	}}
	if o.keyField != "" {
		sink.Settings["key_field"] = o.keyField
	}
	if o.compression != "" {
		sink.Settings["compression"] = o.compression
	}
	p.Sinks = []config.Connector{sink}
	return p, nil
}

func main() {
	os.Exit(cli.Main(newTool()))
}
