package kafka

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSink("kafka", func(cfg config.Connector) (core.Sink, error) {
		return NewKafkaSink(cfg)
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name:         "kafka",
		Type:         core.ConnectorTypeSink,
		Description:  "Kafka topic, one JSON message per record",
		Capabilities: []string{core.CapabilityConcurrent},
		Settings: []string{
			"brokers", "topic", "key_field", "acks", "compression", "batch_size", "max_writers",
			"client_id", "version", "tls", "sasl_mechanism", "sasl_username", "sasl_password",
		},
	})
}
