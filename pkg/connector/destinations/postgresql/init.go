package postgresql

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSink("postgresql", func(cfg config.Connector) (core.Sink, error) {
		return NewPostgreSQLSink(cfg)
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name:         "postgresql",
		Type:         core.ConnectorTypeSink,
		Description:  "PostgreSQL table; COPY for fixed columns, INSERT ... ON CONFLICT when keys are set",
		Bounded:      true,
		Capabilities: []string{core.CapabilityUpsert},
		Settings:     []string{"dsn", "table", "columns", "keys", "copy", "batch_size", "max_conns"},
	})
}
