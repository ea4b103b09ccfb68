// Package kafka consumes JSON records from Kafka topics as an unbounded
// source.
//
// Offsets are marked as records are handed to the pipeline and committed
// when a consumer group session ends: on a rebalance, or when the source is
// closed after the run has flushed its sinks. A failed run therefore
// resumes from the last committed position on the next run.
package kafka

import (
	"context"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	shared "github.com/binarymachines/mercury/pkg/connector/shared/kafka"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

// GroupFactory creates the consumer group; tests replace it.
type GroupFactory func(brokers []string, group string, cfg *sarama.Config) (sarama.ConsumerGroup, error)

type delivery struct {
	msg     *sarama.ConsumerMessage
	session sarama.ConsumerGroupSession
}

// KafkaSource reads messages of one or more topics.
type KafkaSource struct {
	*base.BaseConnector

	opts     *shared.Options
	topics   []string
	group    string
	keyField string
	newGroup GroupFactory

	cg         sarama.ConsumerGroup
	deliveries chan delivery
	consumeCtx context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once

	// mu guards the current consume attempt. dead is closed when the
	// attempt fails with err; done when its goroutine has returned.
	mu   sync.Mutex
	dead chan struct{}
	done chan struct{}
	err  error
}

// NewKafkaSource creates a kafka source from its configuration.
func NewKafkaSource(cfg config.Connector) (*KafkaSource, error) {
	opts, err := shared.Parse(cfg.Settings)
	if err != nil {
		return nil, err
	}
	topics := cfg.Settings.List("topics")
	if len(topics) == 0 {
		topics = cfg.Settings.List("topic")
	}
	if len(topics) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "setting \"topics\" is required")
	}
	group, err := cfg.Settings.Require("group")
	if err != nil {
		return nil, err
	}
	initial, err := shared.InitialOffset(cfg.Settings.String("offset", "newest"))
	if err != nil {
		return nil, err
	}

	opts.Config.Consumer.Offsets.Initial = initial
	opts.Config.Consumer.Offsets.AutoCommit.Enable = false
	opts.Config.Consumer.Return.Errors = true
	opts.Config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	return &KafkaSource{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSource),
		opts:          opts,
		topics:        topics,
		group:         group,
		keyField:      cfg.Settings.String("key_field", ""),
		newGroup:      sarama.NewConsumerGroup,
	}, nil
}

// WithGroupFactory replaces the consumer group constructor.
func (s *KafkaSource) WithGroupFactory(f GroupFactory) *KafkaSource {
	s.newGroup = f
	return s
}

func (s *KafkaSource) Bounded() bool { return false }

// Open joins the consumer group and starts consuming in the background.
func (s *KafkaSource) Open(ctx context.Context) error {
	cg, err := s.newGroup(s.opts.Brokers, s.group, s.opts.Config)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConnection, "join consumer group %s", s.group)
	}
	consumeCtx, cancel := context.WithCancel(context.Background())
	s.cg, s.consumeCtx, s.cancel = cg, consumeCtx, cancel
	s.deliveries = make(chan delivery)
	s.closeOnce = sync.Once{}

	s.mu.Lock()
	s.startLocked()
	s.mu.Unlock()
	go s.logErrors()

	s.Logger().Info("kafka source opened",
		zap.Strings("brokers", s.opts.Brokers),
		zap.Strings("topics", s.topics),
		zap.String("group", s.group))
	return nil
}

// startLocked launches a consume attempt. s.mu must be held.
func (s *KafkaSource) startLocked() {
	s.dead = make(chan struct{})
	s.done = make(chan struct{})
	s.err = nil
	go s.consume(s.consumeCtx, s.cg, s.dead, s.done)
}

// consume runs sessions until the context ends. Any other failure is
// stored and reported through dead; the attempt is over after that.
func (s *KafkaSource) consume(ctx context.Context, cg sarama.ConsumerGroup, dead, done chan struct{}) {
	defer close(done)
	h := &handler{deliveries: s.deliveries, logger: s.Logger()}
	for {
		err := cg.Consume(ctx, s.topics, h)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			close(dead)
			return
		}
	}
}

// restart returns the failure of the attempt that closed dead and starts
// a new one, unless another reader did so already or the source is
// closing.
func (s *KafkaSource) restart(dead chan struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.err
	if s.dead == dead && s.consumeCtx.Err() == nil {
		s.startLocked()
	}
	if err == nil {
		err = errors.New(errors.ErrorTypeConnection, "consumer group session ended")
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "consume")
}

func (s *KafkaSource) logErrors() {
	for err := range s.cg.Errors() {
		s.Logger().Warn("consumer group error", zap.Error(err))
	}
}

// Read blocks until a message arrives. A payload that is not a JSON object
// is a decode error; its offset is still marked. When consuming fails,
// Read returns the connection error and the next Read consumes again.
func (s *KafkaSource) Read(ctx context.Context) (*models.Record, error) {
	if s.deliveries == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "kafka source is not open")
	}
	s.mu.Lock()
	dead := s.dead
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-dead:
		return nil, s.restart(dead)
	case d := <-s.deliveries:
		d.session.MarkMessage(d.msg, "")
		return s.decode(d.msg)
	}
}

func (s *KafkaSource) decode(msg *sarama.ConsumerMessage) (*models.Record, error) {
	rec, err := models.ParseJSON(msg.Value)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDecode, "invalid json message").
			WithDetail("topic", msg.Topic).
			WithDetail("partition", msg.Partition).
			WithDetail("offset", msg.Offset)
	}
	if s.keyField != "" && len(msg.Key) > 0 {
		if _, ok := rec.Get(s.keyField); !ok {
			rec = rec.With(s.keyField, string(msg.Key))
		}
	}
	return rec.WithMeta(models.Metadata{
		Source:    s.Name(),
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Timestamp: msg.Timestamp,
	}), nil
}

// Close ends the session, which commits the marked offsets, and leaves
// the group.
func (s *KafkaSource) Close(ctx context.Context) error {
	if s.cg == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.cancel()
		done := s.done
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		if cerr := s.cg.Close(); cerr != nil {
			err = errors.Wrap(cerr, errors.ErrorTypeConnection, "leave consumer group")
		}
		s.cg = nil
	})
	return err
}

// handler forwards claimed messages one at a time so that nothing is
// marked before the pipeline has taken it.
type handler struct {
	deliveries chan<- delivery
	logger     *zap.Logger
}

func (h *handler) Setup(session sarama.ConsumerGroupSession) error {
	h.logger.Debug("consumer group session started",
		zap.String("member", session.MemberID()),
		zap.Int32("generation", session.GenerationID()),
		zap.Any("claims", session.Claims()))
	return nil
}

// Cleanup commits what was marked during the session.
func (h *handler) Cleanup(session sarama.ConsumerGroupSession) error {
	session.Commit()
	return nil
}

func (h *handler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case h.deliveries <- delivery{msg: msg, session: session}:
			case <-session.Context().Done():
				return nil
			}
		case <-session.Context().Done():
			return nil
		}
	}
}
