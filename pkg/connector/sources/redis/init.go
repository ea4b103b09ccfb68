package redis

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSource("redis", func(cfg config.Connector) (core.Source, error) {
		return NewRedisSource(cfg)
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name:        "redis",
		Type:        core.ConnectorTypeSource,
		Description: "Keys matching a pattern, stored as hashes or JSON strings",
		Bounded:     true,
		Settings:    []string{"addr", "password", "db", "prefix", "match", "mode", "key_field", "scan_count"},
	})
}
