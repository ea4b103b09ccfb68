package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
)

func TestParse(t *testing.T) {
	opts, err := Parse(config.Settings{
		"brokers":        "k1:9092, k2:9092",
		"version":        "2.8.0",
		"sasl_mechanism": "scram-sha-512",
		"sasl_username":  "etl",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, opts.Brokers)
	assert.Equal(t, DefaultClientID, opts.Config.ClientID)
	assert.Equal(t, sarama.V2_8_0_0, opts.Config.Version)
	assert.True(t, opts.Config.Net.SASL.Enable)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), opts.Config.Net.SASL.Mechanism)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		settings config.Settings
	}{
		{"no brokers", config.Settings{}},
		{"bad version", config.Settings{"brokers": "k:9092", "version": "banana"}},
		{"bad sasl", config.Settings{"brokers": "k:9092", "sasl_mechanism": "kerberos"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.settings)
			require.Error(t, err)
			assert.True(t, errors.IsConfig(err))
		})
	}
}

func TestInitialOffset(t *testing.T) {
	off, err := InitialOffset("oldest")
	require.NoError(t, err)
	assert.Equal(t, sarama.OffsetOldest, off)

	off, err = InitialOffset("")
	require.NoError(t, err)
	assert.Equal(t, sarama.OffsetNewest, off)

	_, err = InitialOffset("middle")
	assert.Error(t, err)
}
