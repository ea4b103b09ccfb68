package postgresql

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSource("postgresql", func(cfg config.Connector) (core.Source, error) {
		return NewPostgreSQLSource(cfg)
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name:         "postgresql",
		Type:         core.ConnectorTypeSource,
		Description:  "Rows of a PostgreSQL query or table, read over a pgx pool",
		Bounded:      true,
		Capabilities: []string{core.CapabilitySchema},
		Settings:     []string{"dsn", "query", "table", "columns", "max_conns"},
	})
}
