// Package kafka produces records to a Kafka topic as JSON messages.
package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	shared "github.com/binarymachines/mercury/pkg/connector/shared/kafka"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/formats"
	"github.com/binarymachines/mercury/pkg/json"
	"github.com/binarymachines/mercury/pkg/models"
)

// ProducerFactory creates the producer; tests replace it.
type ProducerFactory func(brokers []string, cfg *sarama.Config) (sarama.SyncProducer, error)

// KafkaSink sends records in batches through a synchronous producer.
// Message keys come from key_field, or from the key a record was consumed
// with. A batch that fails for a broker reason is offered again in full,
// so delivery is at least once.
type KafkaSink struct {
	*base.BaseConnector

	opts       *shared.Options
	topic      string
	keyField   string
	maxWriters int
	newProd    ProducerFactory

	producer sarama.SyncProducer
	batch    *base.Batcher
}

// NewKafkaSink creates a kafka sink from its configuration.
func NewKafkaSink(cfg config.Connector) (*KafkaSink, error) {
	opts, err := shared.Parse(cfg.Settings)
	if err != nil {
		return nil, err
	}
	topic, err := cfg.Settings.Require("topic")
	if err != nil {
		return nil, err
	}
	acks, err := shared.Acks(cfg.Settings.String("acks", "all"))
	if err != nil {
		return nil, err
	}
	codec, err := shared.Compression(cfg.Settings.String("compression", "none"))
	if err != nil {
		return nil, err
	}
	batchSize, err := cfg.Settings.Int("batch_size", 100)
	if err != nil {
		return nil, err
	}
	maxWriters, err := cfg.Settings.Int("max_writers", 4)
	if err != nil {
		return nil, err
	}

	opts.Config.Producer.RequiredAcks = acks
	opts.Config.Producer.Compression = codec
	opts.Config.Producer.Return.Successes = true
	opts.Config.Producer.Return.Errors = true

	s := &KafkaSink{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSink),
		opts:          opts,
		topic:         topic,
		keyField:      cfg.Settings.String("key_field", ""),
		maxWriters:    maxWriters,
		newProd:       sarama.NewSyncProducer,
	}
	s.batch = base.NewBatcher(batchSize, s.send)
	return s, nil
}

// WithProducerFactory replaces the producer constructor.
func (s *KafkaSink) WithProducerFactory(f ProducerFactory) *KafkaSink {
	s.newProd = f
	return s
}

func (s *KafkaSink) MaxWriters() int { return s.maxWriters }

func (s *KafkaSink) Open(ctx context.Context) error {
	if s.producer != nil {
		return nil
	}
	p, err := s.newProd(s.opts.Brokers, s.opts.Config)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "create kafka producer")
	}
	s.producer = p
	s.Logger().Info("kafka sink opened",
		zap.Strings("brokers", s.opts.Brokers),
		zap.String("topic", s.topic))
	return nil
}

// Write buffers rec. A record that cannot be encoded is rejected at once.
func (s *KafkaSink) Write(ctx context.Context, rec *models.Record) (core.Ack, error) {
	if s.producer == nil {
		return core.Ack{}, errors.New(errors.ErrorTypeInternal, "kafka sink is not open")
	}
	return s.batch.Write(ctx, rec)
}

func (s *KafkaSink) Flush(ctx context.Context) (core.Ack, error) {
	if s.producer == nil {
		return core.Ack{}, nil
	}
	return s.batch.Flush(ctx)
}

func (s *KafkaSink) message(rec *models.Record) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeWrite, "encode record as json")
	}
	msg := &sarama.ProducerMessage{Topic: s.topic, Value: sarama.ByteEncoder(value)}

	key := rec.Meta().Key
	if s.keyField != "" {
		v, ok := rec.Lookup(s.keyField)
		if !ok || v == nil {
			return nil, errors.Newf(errors.ErrorTypeWrite, "record has no %s", s.keyField)
		}
		if key, err = formats.Stringify(v); err != nil {
			return nil, err
		}
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	return msg, nil
}

// send produces a batch. Messages the broker refuses as malformed or too
// large are rejected; any other producer error fails the whole batch.
func (s *KafkaSink) send(ctx context.Context, batch []*models.Record) (core.Ack, error) {
	var ack core.Ack
	msgs := make([]*sarama.ProducerMessage, 0, len(batch))
	for _, rec := range batch {
		msg, err := s.message(rec)
		if err != nil {
			ack.Rejected = append(ack.Rejected, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return ack, nil
	}

	err := s.producer.SendMessages(msgs)
	if err == nil {
		ack.Written += len(msgs)
		return ack, nil
	}

	var perrs sarama.ProducerErrors
	if !errors.As(err, &perrs) {
		return core.Ack{}, errors.Wrapf(err, errors.ErrorTypeConnection, "produce to %s", s.topic)
	}
	for _, pe := range perrs {
		if !recordLevel(pe.Err) {
			return core.Ack{}, errors.Wrapf(pe.Err, errors.ErrorTypeConnection, "produce to %s", s.topic)
		}
	}
	for _, pe := range perrs {
		ack.Rejected = append(ack.Rejected, errors.Wrapf(pe.Err, errors.ErrorTypeWrite, "produce to %s", s.topic))
	}
	ack.Written += len(msgs) - len(perrs)
	return ack, nil
}

func recordLevel(err error) bool {
	switch {
	case errors.Is(err, sarama.ErrMessageSizeTooLarge),
		errors.Is(err, sarama.ErrInvalidMessage),
		errors.Is(err, sarama.ErrInvalidMessageSize):
		return true
	}
	return false
}

func (s *KafkaSink) Close(ctx context.Context) error {
	if s.producer == nil {
		return nil
	}
	err := s.producer.Close()
	s.producer = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "close kafka producer")
	}
	return nil
}
