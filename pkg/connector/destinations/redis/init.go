package redis

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSink("redis", func(cfg config.Connector) (core.Sink, error) {
		return NewRedisSink(cfg)
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name:         "redis",
		Type:         core.ConnectorTypeSink,
		Description:  "One redis key per record, as a hash or a JSON string",
		Bounded:      true,
		Capabilities: []string{core.CapabilityUpsert, core.CapabilityConcurrent},
		Settings:     []string{"addr", "username", "password", "db", "tls", "mode", "prefix", "key_field", "ttl", "batch_size", "max_writers"},
	})
}
