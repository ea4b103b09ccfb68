// Package mercury is an extract, transform and load engine for moving
// records between files, message brokers, relational databases, object
// stores and BigQuery.
//
// # Architecture
//
// Every job is a pipeline: one source, an ordered chain of transform stages
// and one or more sinks, run under an execution policy.
//
//  1. Records: ordered field maps with source metadata (pkg/models).
//     Stages never mutate a record they received; they return new ones.
//
//  2. Connectors: sources produce records until io.EOF (bounded) or a stop
//     signal (unbounded); sinks acknowledge what they committed and reject
//     single records with write-typed errors (pkg/connector).
//
//  3. Stages: filter, select, drop, constant, flatten, dedup and the
//     mapping-driven map stage (pkg/transform, pkg/schema).
//
//  4. Runner: bounded queues between a reader, stage workers and per-sink
//     writers; drops are counted per component, connector failures are
//     retried with backoff and a run ends as succeeded, partially_failed or
//     failed (internal/pipeline).
//
// # Quick Start
//
// Run a pipeline from Go:
//
//	import (
//	    "context"
//
//	    "github.com/binarymachines/mercury/internal/pipeline"
//	    "github.com/binarymachines/mercury/pkg/config"
//	    _ "github.com/binarymachines/mercury/pkg/connector/destinations"
//	    _ "github.com/binarymachines/mercury/pkg/connector/sources"
//	)
//
//	cfg, err := config.LoadPipeline("orders.yaml")
//	if err != nil {
//	    return err
//	}
//	d, err := pipeline.Build(cfg)
//	if err != nil {
//	    return err
//	}
//	res, err := pipeline.NewRunner().Run(context.Background(), d)
//
// # Tools
//
// Each command under cmd/ builds a pipeline from its flags, or reads one
// with --config, and exits 0 (succeeded), 1 (failed), 2 (configuration
// error) or 3 (partially failed):
//
//	kload       file -> (map) -> Kafka topic
//	k2olap      Kafka topics -> map -> relational fact table
//	seesv       CSV -> filter/select -> CSV or JSON lines
//	xlseer      spreadsheet sheet -> CSV or JSON lines
//	mkmap       any file -> proposed mapping YAML
//	xfile       file -> map/dedup -> file
//	ngst        descriptor-driven ingestion
//	j2sqlgen    JSON schema -> CREATE TABLE
//	bqex        BigQuery table or query -> file, gs:// or s3://
//	bqstream-x  file or Kafka -> map -> BigQuery streaming inserts
//
// # Key Packages
//
//	pkg/config       - pipeline descriptors, mappings and policies (viper, yaml.v3)
//	pkg/connector    - connector contracts, registry and implementations
//	pkg/transform    - built-in stages and the stage registry
//	pkg/schema       - mapper, profiler, coercion and DDL generation
//	pkg/errors       - typed errors shared by every package
//	pkg/logger       - zap logging
//	pkg/metrics      - Prometheus run metrics
//	internal/cli     - the shared command line surface of the tools
//
// Environment variables in descriptor and mapping files are substituted
// with ${VAR_NAME} syntax.
package mercury
