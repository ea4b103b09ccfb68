package json

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	for _, name := range []string{"json", "jsonl"} {
		_ = registry.RegisterSink(name, func(cfg config.Connector) (core.Sink, error) {
			return NewJSONSink(cfg)
		})
		_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
			Name:         name,
			Type:         core.ConnectorTypeSink,
			Description:  "JSON lines file or stdout, one object per record",
			Bounded:      true,
			Capabilities: []string{core.CapabilityCompression},
			Settings:     []string{"path", "compression"},
		})
	}
}
