// Package base provides building blocks shared by mercury connectors.
//
// Connectors embed BaseConnector for their name, settings and logger, wrap
// backend failures with Classify so the runner can tell retryable
// connector failures from per-record ones, and use Batcher to buffer
// writes without ever duplicating a record on retry.
//
//	type Sink struct {
//	    *base.BaseConnector
//	    batch *base.Batcher
//	}
package base

import (
	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/logger"
)

// BaseConnector holds what every connector instance carries.
type BaseConnector struct {
	name          string
	connectorType core.ConnectorType
	settings      config.Settings
	logger        *zap.Logger
}

// NewBaseConnector creates the base of a connector built from cfg.
func NewBaseConnector(cfg config.Connector, connectorType core.ConnectorType) *BaseConnector {
	name := cfg.Name
	if name == "" {
		name = cfg.Type
	}
	return &BaseConnector{
		name:          name,
		connectorType: connectorType,
		settings:      cfg.Settings,
		logger: logger.Get().With(
			zap.String("component", string(connectorType)),
			zap.String("connector", name),
			zap.String("type", cfg.Type),
		),
	}
}

// Name returns the connector instance name.
func (bc *BaseConnector) Name() string {
	return bc.name
}

// Type returns whether this is a source or a sink.
func (bc *BaseConnector) Type() core.ConnectorType {
	return bc.connectorType
}

// Settings returns the connector settings.
func (bc *BaseConnector) Settings() config.Settings {
	return bc.settings
}

// Logger returns the connector logger.
func (bc *BaseConnector) Logger() *zap.Logger {
	return bc.logger
}
