// Package sources registers every source connector. Import it for its side
// effects.
package sources

import (
	// Import all source connectors to trigger init() registration
	_ "github.com/binarymachines/mercury/pkg/connector/memory"
	_ "github.com/binarymachines/mercury/pkg/connector/sources/avro"
	_ "github.com/binarymachines/mercury/pkg/connector/sources/bigquery"
	_ "github.com/binarymachines/mercury/pkg/connector/sources/csv"
	_ "github.com/binarymachines/mercury/pkg/connector/sources/excel"
	_ "github.com/binarymachines/mercury/pkg/connector/sources/json"
	_ "github.com/binarymachines/mercury/pkg/connector/sources/kafka"
	_ "github.com/binarymachines/mercury/pkg/connector/sources/postgresql"
	_ "github.com/binarymachines/mercury/pkg/connector/sources/redis"
	_ "github.com/binarymachines/mercury/pkg/connector/sources/sqldb"
)
