package avro

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSource("avro", func(cfg config.Connector) (core.Source, error) {
		return NewAvroSource(cfg)
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name:         "avro",
		Type:         core.ConnectorTypeSource,
		Description:  "Avro object container file",
		Bounded:      true,
		Capabilities: []string{core.CapabilityCompression},
		Settings:     []string{"path", "compression"},
	})
}
