package avro

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSink("avro", func(cfg config.Connector) (core.Sink, error) {
		return NewAvroSink(cfg)
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name:         "avro",
		Type:         core.ConnectorTypeSink,
		Description:  "Avro object container file written against a record schema",
		Bounded:      true,
		Capabilities: []string{core.CapabilitySchema},
		Settings:     []string{"path", "schema", "schema_file", "codec", "block_size"},
	})
}
