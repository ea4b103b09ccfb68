package sqldb

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
	shared "github.com/binarymachines/mercury/pkg/connector/shared/sqldb"
)

func init() {
	factory := func(cfg config.Connector) (core.Source, error) {
		return NewSQLSource(cfg)
	}
	for _, kind := range append([]string{"sqldb"}, shared.Kinds...) {
		_ = registry.RegisterSource(kind, factory)
		_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
			Name:         kind,
			Type:         core.ConnectorTypeSource,
			Description:  "Rows of a " + kind + " query over database/sql",
			Bounded:      true,
			Capabilities: []string{core.CapabilitySchema},
			Settings:     []string{"dsn", "driver", "query", "table", "columns", "max_conns"},
		})
	}
}
