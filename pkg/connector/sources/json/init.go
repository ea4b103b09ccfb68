package json

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	factory := func(cfg config.Connector) (core.Source, error) {
		return NewJSONSource(cfg)
	}
	_ = registry.RegisterSource("json", factory)
	_ = registry.RegisterSource("jsonl", factory)

	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name:         "json",
		Type:         core.ConnectorTypeSource,
		Description:  "JSON lines or a top-level JSON array of objects",
		Bounded:      true,
		Capabilities: []string{core.CapabilityCompression},
		Settings:     []string{"path", "format", "compression"},
	})
}
