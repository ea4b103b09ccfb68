// Command j2sqlgen turns a warehouse-style JSON schema into a CREATE TABLE
// statement.
package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/binarymachines/mercury/internal/cli"
	"github.com/binarymachines/mercury/internal/pipeline"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/shared/postgres"
	"github.com/binarymachines/mercury/pkg/connector/shared/sqldb"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/logger"
	"github.com/binarymachines/mercury/pkg/schema"
)

type options struct {
	table      string
	dialect    string
	primaryKey []string
	output     string
	applyDSN   string
}

func newTool() cli.Tool {
	o := &options{}
	return cli.Tool{
		Name:  "j2sqlgen",
		Short: "generate CREATE TABLE from a JSON schema",
		Long: `
			Read a JSON schema document, an array of {"name", "type", "mode"}
			entries as exported by BigQuery, and write the CREATE TABLE statement
			for the chosen SQL dialect. REQUIRED fields become NOT NULL; REPEATED
			and RECORD fields become JSON columns.

			With --apply-dsn the statement is also executed against that database.`,
		Example: `
			# PostgreSQL DDL to standard output
			j2sqlgen orders.schema.json --table orders --primary-key order_id

			# create the table in a SQLite file
			j2sqlgen orders.schema.json -t orders --dialect sqlite --apply-dsn ./local.db`,
		Args: cobra.MaximumNArgs(1),
		Flags: func(cmd *cobra.Command) {
			fs := cmd.Flags()
			fs.StringVarP(&o.table, "table", "t", "", "table name")
			fs.StringVar(&o.dialect, "dialect", "postgres", "SQL dialect ("+strings.Join(schema.Dialects(), ", ")+")")
			fs.StringSliceVar(&o.primaryKey, "primary-key", nil, "primary key columns")
			fs.StringVarP(&o.output, "output", "o", "-", "file to write the statement to")
			fs.StringVar(&o.applyDSN, "apply-dsn", "", "execute the statement against this database")
		},
		Pipeline: o.pipeline,
		After:    o.apply,
	}
}

func (o *options) pipeline(_ *cobra.Command, args []string) (*config.Pipeline, error) {
	if err := cli.Require(map[string]string{"table": o.table}); err != nil {
		return nil, err
	}
	if _, err := schema.LookupDialect(o.dialect); err != nil {
		return nil, err
	}
	in := "-"
	if len(args) == 1 {
		in = args[0]
	}
	return &config.Pipeline{
		Name: "j2sqlgen",
		Source: config.Connector{Name: "schema", Type: "json", Settings: config.Settings{
			"path":   in,
			"format": "array",
		}},
		Sinks: []config.Connector{{Name: "ddl", Type: "ddl", Settings: config.Settings{
			"path":        o.output,
			"table":       o.table,
			"dialect":     o.dialect,
			"primary_key": strings.Join(o.primaryKey, ","),
		}}},
		// a schema with a bad entry must not produce a partial table
		Policy: config.Policy{ErrorPolicy: config.ErrorPolicyFailFast},
	}, nil
}

// apply executes the rendered statement when --apply-dsn is set.
func (o *options) apply(ctx context.Context, d *pipeline.Descriptor, _ *pipeline.RunResult) error {
	if o.applyDSN == "" {
		return nil
	}
	var stmt, dialect string
	for _, b := range d.Sinks {
		if s, ok := b.Sink.(*schema.DDLSink); ok {
			stmt, dialect = s.Statement(), s.Dialect().Name
		}
	}
	if stmt == "" {
		return errors.New(errors.ErrorTypeInternal, "no statement was rendered")
	}
	return execute(ctx, dialect, o.applyDSN, stmt)
}

func execute(ctx context.Context, dialect, dsn, stmt string) error {
	log := logger.Get().With(zap.String("dialect", dialect))
	if dialect == "postgres" {
		pool, err := postgres.Connect(ctx, dsn, 1, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return postgres.Classify(err, "create table")
		}
		log.Info("table created")
		return nil
	}

	drv, err := sqldb.Lookup(dialect)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConfig, "--apply-dsn is not supported for %s", dialect)
	}
	db, err := sqldb.Open(ctx, drv, dsn, 1)
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "create table")
	}
	log.Info("table created")
	return nil
}

func main() {
	os.Exit(cli.Main(newTool()))
}
