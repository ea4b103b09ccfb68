package csv

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSource("csv", func(cfg config.Connector) (core.Source, error) {
		return NewCSVSource(cfg)
	})
	_ = registry.RegisterSource("tsv", func(cfg config.Connector) (core.Source, error) {
		return newSource(cfg, "tab")
	})

	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name:         "csv",
		Type:         core.ConnectorTypeSource,
		Description:  "Delimited text file or stdin with an optional header row",
		Bounded:      true,
		Capabilities: []string{core.CapabilityCompression, core.CapabilitySchema},
		Settings:     []string{"path", "delimiter", "header", "columns", "encoding", "compression", "strict", "empty_as_null", "normalize"},
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name:         "tsv",
		Type:         core.ConnectorTypeSource,
		Description:  "Tab separated variant of the csv source",
		Bounded:      true,
		Capabilities: []string{core.CapabilityCompression, core.CapabilitySchema},
		Settings:     []string{"path", "header", "columns", "encoding", "compression", "strict"},
	})
}
