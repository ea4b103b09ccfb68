package kafka

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSource("kafka", func(cfg config.Connector) (core.Source, error) {
		return NewKafkaSource(cfg)
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name:         "kafka",
		Type:         core.ConnectorTypeSource,
		Description:  "Kafka topics read through a consumer group; JSON object payloads",
		Bounded:      false,
		Capabilities: []string{core.CapabilityResumable},
		Settings: []string{
			"brokers", "topics", "group", "offset", "key_field",
			"client_id", "version", "tls", "sasl_mechanism", "sasl_username", "sasl_password",
		},
	})
}
