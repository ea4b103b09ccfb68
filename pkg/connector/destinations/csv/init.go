package csv

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSink("csv", func(cfg config.Connector) (core.Sink, error) {
		return NewCSVSink(cfg)
	})
	_ = registry.RegisterSink("tsv", func(cfg config.Connector) (core.Sink, error) {
		return newSink(cfg, "tab")
	})
	for _, name := range []string{"csv", "tsv"} {
		_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
			Name:         name,
			Type:         core.ConnectorTypeSink,
			Description:  "Delimited text file or stdout, records in arrival order",
			Bounded:      true,
			Capabilities: []string{core.CapabilityCompression},
			Settings:     []string{"path", "delimiter", "header", "columns", "strict", "compression"},
		})
	}
}
