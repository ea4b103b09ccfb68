// Package connector holds the connectors that move records in and out of
// a pipeline.
//
// # Layout
//
//   - core: the Source and Sink contracts, acknowledgements and the
//     connector catalog types.
//
//   - base: BaseConnector, which every connector embeds, plus the shared
//     pieces: file input and output with compression, batching, retry
//     classification and health checks.
//
//   - sources: csv, tsv, json, excel, avro, kafka, postgresql, mysql,
//     sqlite, sqlserver, snowflake, bigquery and redis.
//
//   - destinations: the file formats plus kafka, postgresql, the
//     database/sql kinds, bigquery, gcs, s3, redis and mongodb.
//
//   - shared: client setup and error mapping used by both sides of one
//     system.
//
//   - registry: factories by type name. Connectors register themselves in
//     init; import sources and destinations for their side effects.
//
//   - memory: in-process datasets for tests and embedding.
//
// # Contracts
//
// A Source returns io.EOF when a bounded input is exhausted. A decode-typed
// error rejects one malformed unit and the next Read continues; any other
// error is fatal for the connector and the runner may retry after
// reopening it.
//
// A Sink acknowledges committed records through Ack. A write-typed error
// rejects only the given record. Flush runs before Close, and Close never
// flushes. Sinks that tolerate reordering implement ConcurrentSink and may
// be written by several goroutines.
package connector
