// Package destinations registers every sink connector. Import it for its
// side effects.
package destinations

import (
	// Import all destination connectors to trigger init() registration
	_ "github.com/binarymachines/mercury/pkg/connector/destinations/avro"
	_ "github.com/binarymachines/mercury/pkg/connector/destinations/bigquery"
	_ "github.com/binarymachines/mercury/pkg/connector/destinations/csv"
	_ "github.com/binarymachines/mercury/pkg/connector/destinations/json"
	_ "github.com/binarymachines/mercury/pkg/connector/destinations/kafka"
	_ "github.com/binarymachines/mercury/pkg/connector/destinations/mongodb"
	_ "github.com/binarymachines/mercury/pkg/connector/destinations/objectstore"
	_ "github.com/binarymachines/mercury/pkg/connector/destinations/postgresql"
	_ "github.com/binarymachines/mercury/pkg/connector/destinations/redis"
	_ "github.com/binarymachines/mercury/pkg/connector/destinations/sqldb"
	_ "github.com/binarymachines/mercury/pkg/connector/memory"
)
