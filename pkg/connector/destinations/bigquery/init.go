package bigquery

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSink("bigquery", func(cfg config.Connector) (core.Sink, error) {
		return NewBigQuerySink(cfg)
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name:         "bigquery",
		Type:         core.ConnectorTypeSink,
		Description:  "BigQuery table through streaming inserts",
		Bounded:      true,
		Capabilities: []string{core.CapabilityConcurrent},
		Settings: []string{
			"project", "dataset", "table", "location", "credentials_file",
			"create_table", "insert_id_field", "batch_size", "max_writers",
		},
	})
}
