// Package kafka builds the sarama client configuration shared by the kafka
// source and sink.
package kafka

import (
	"crypto/tls"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
)

// DefaultClientID identifies mercury to the brokers unless client_id is set.
const DefaultClientID = "mercury"

// Options are the connection settings common to producers and consumers.
type Options struct {
	Brokers []string
	Config  *sarama.Config
}

// Parse reads brokers, client_id, version, tls and sasl_* settings.
func Parse(settings config.Settings) (*Options, error) {
	brokers := settings.List("brokers")
	if len(brokers) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "setting \"brokers\" is required")
	}

	cfg := sarama.NewConfig()
	cfg.ClientID = settings.String("client_id", DefaultClientID)
	if v := settings.String("version", ""); v != "" {
		version, err := sarama.ParseKafkaVersion(v)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "kafka version %q", v)
		}
		cfg.Version = version
	}

	timeout, err := settings.Duration("dial_timeout", 10*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Net.DialTimeout = timeout

	useTLS, err := settings.Bool("tls", false)
	if err != nil {
		return nil, err
	}
	if useTLS {
		insecure, err := settings.Bool("tls_insecure_skip_verify", false)
		if err != nil {
			return nil, err
		}
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{InsecureSkipVerify: insecure}
	}

	if mech := settings.String("sasl_mechanism", ""); mech != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.User = settings.String("sasl_username", "")
		cfg.Net.SASL.Password = settings.String("sasl_password", "")
		switch strings.ToUpper(mech) {
		case "PLAIN":
			cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "SCRAM-SHA-512":
			cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported sasl_mechanism %q", mech)
		}
	}
	return &Options{Brokers: brokers, Config: cfg}, nil
}

// InitialOffset maps "oldest" and "newest" to sarama offsets.
func InitialOffset(name string) (int64, error) {
	switch strings.ToLower(name) {
	case "", "newest", "latest":
		return sarama.OffsetNewest, nil
	case "oldest", "earliest":
		return sarama.OffsetOldest, nil
	default:
		return 0, errors.Newf(errors.ErrorTypeConfig, "offset must be oldest or newest, got %q", name)
	}
}

// Compression maps a codec name to the producer compression setting.
func Compression(name string) (sarama.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return sarama.CompressionNone, nil
	case "gzip":
		return sarama.CompressionGZIP, nil
	case "snappy":
		return sarama.CompressionSnappy, nil
	case "lz4":
		return sarama.CompressionLZ4, nil
	case "zstd":
		return sarama.CompressionZSTD, nil
	default:
		return sarama.CompressionNone, errors.Newf(errors.ErrorTypeConfig, "unsupported kafka compression %q", name)
	}
}

// Acks maps "all", "1" and "0" to the producer acknowledgement level.
func Acks(name string) (sarama.RequiredAcks, error) {
	switch strings.ToLower(name) {
	case "", "all", "-1":
		return sarama.WaitForAll, nil
	case "1", "leader":
		return sarama.WaitForLocal, nil
	case "0", "none":
		return sarama.NoResponse, nil
	default:
		return sarama.WaitForAll, errors.Newf(errors.ErrorTypeConfig, "unsupported acks %q", name)
	}
}
