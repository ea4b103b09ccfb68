package mongodb

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSink("mongodb", func(cfg config.Connector) (core.Sink, error) {
		return NewMongoDBSink(cfg)
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name:         "mongodb",
		Type:         core.ConnectorTypeSink,
		Description:  "MongoDB collection; documents replaced by key_field when set",
		Bounded:      true,
		Capabilities: []string{core.CapabilityUpsert, core.CapabilityConcurrent},
		Settings:     []string{"uri", "database", "collection", "key_field", "batch_size", "max_writers"},
	})
}
