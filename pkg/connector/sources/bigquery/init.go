package bigquery

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSource("bigquery", func(cfg config.Connector) (core.Source, error) {
		return NewBigQuerySource(cfg)
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name:         "bigquery",
		Type:         core.ConnectorTypeSource,
		Description:  "Result of a BigQuery query, or every row of a table",
		Bounded:      true,
		Capabilities: []string{core.CapabilitySchema},
		Settings:     []string{"project", "dataset", "table", "query", "location", "credentials_file"},
	})
}
