package sqldb

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
	shared "github.com/binarymachines/mercury/pkg/connector/shared/sqldb"
)

func init() {
	factory := func(cfg config.Connector) (core.Sink, error) {
		return NewSQLSink(cfg)
	}
	for _, kind := range append([]string{"sqldb"}, shared.Kinds...) {
		_ = registry.RegisterSink(kind, factory)
		_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
			Name:         kind,
			Type:         core.ConnectorTypeSink,
			Description:  "Rows inserted into a " + kind + " table, upserted when keys are set",
			Bounded:      true,
			Capabilities: []string{core.CapabilityUpsert},
			Settings:     []string{"dsn", "driver", "table", "columns", "keys", "batch_size", "max_conns"},
		})
	}
}
