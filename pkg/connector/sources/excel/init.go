package excel

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSource("excel", func(cfg config.Connector) (core.Source, error) {
		return NewExcelSource(cfg)
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name:         "excel",
		Type:         core.ConnectorTypeSource,
		Description:  "One sheet of an .xlsx workbook, rows below a header row",
		Bounded:      true,
		Capabilities: []string{core.CapabilitySchema},
		Settings:     []string{"path", "sheet", "header_row", "empty_as_null"},
	})
}
