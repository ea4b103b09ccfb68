package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/internal/pipeline"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/memory"
	"github.com/binarymachines/mercury/pkg/errors"
)

type fakeSession struct {
	ctx context.Context

	mu        sync.Mutex
	marked    []int64
	committed int
}

func (s *fakeSession) Claims() map[string][]int32 { return map[string][]int32{"orders": {0}} }
func (s *fakeSession) MemberID() string { return "member-1" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkOffset(string, int32, int64, string) {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

func (s *fakeSession) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed++
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "orders" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return int64(cap(c.messages)) }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

// fakeGroup runs a single session over a fixed set of messages and keeps
// it open until the consume context ends. The first failures calls to
// Consume return consumeErr; with failures at zero every call does.
type fakeGroup struct {
	messages   []*sarama.ConsumerMessage
	consumeErr error
	failures   int32

	calls   atomic.Int32
	session *fakeSession
	errs    chan error
	closed  bool
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, h sarama.ConsumerGroupHandler) error {
	n := g.calls.Add(1)
	if g.consumeErr != nil && (g.failures == 0 || n <= g.failures) {
		return g.consumeErr
	}
	g.session = &fakeSession{ctx: ctx}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(g.messages))}
	for _, m := range g.messages {
		claim.messages <- m
	}
	if err := h.Setup(g.session); err != nil {
		return err
	}
	err := h.ConsumeClaim(g.session, claim)
	_ = h.Cleanup(g.session)
	return err
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	g.closed = true
	close(g.errs)
	return nil
}

func (g *fakeGroup) Pause(map[string][]int32) {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll() {}
func (g *fakeGroup) ResumeAll() {}

func message(offset int64, key, value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:     "orders",
		Offset:    offset,
		Key:       []byte(key),
		Value:     []byte(value),
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newSource(t *testing.T, g *fakeGroup) *KafkaSource {
	t.Helper()
	s, err := NewKafkaSource(config.Connector{Name: "orders-in", Type: "kafka", Settings: config.Settings{
		"brokers":   "localhost:9092",
		"topics":    "orders",
		"group":     "k2olap",
		"offset":    "oldest",
		"key_field": "order_key",
	}})
	require.NoError(t, err)
	g.errs = make(chan error)
	return s.WithGroupFactory(func([]string, string, *sarama.Config) (sarama.ConsumerGroup, error) {
		return g, nil
	})
}

func TestKafkaSourceReadsAndCommitsOnClose(t *testing.T) {
	g := &fakeGroup{messages: []*sarama.ConsumerMessage{
		message(10, "a", `{"id": 1}`),
		message(11, "b", `not json`),
		message(12, "c", `{"id": 2, "order_key": "own"}`),
	}}
	s := newSource(t, g)
	assert.False(t, s.Bounded())

	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	rec, err := s.Read(ctx)
	require.NoError(t, err)
	v, _ := rec.Get("order_key")
	assert.Equal(t, "a", v)
	assert.EqualValues(t, 10, rec.Meta().Offset)
	assert.Equal(t, "orders-in", rec.Meta().Source)

	_, err = s.Read(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsRecordLevel(err))

	rec, err = s.Read(ctx)
	require.NoError(t, err)
	v, _ = rec.Get("order_key")
	assert.Equal(t, "own", v)

	require.NoError(t, s.Close(ctx))
	assert.True(t, g.closed)
	assert.Equal(t, []int64{10, 11, 12}, g.session.marked)
	assert.Equal(t, 1, g.session.committed)
}

func TestKafkaSourceReadHonorsContext(t *testing.T) {
	g := &fakeGroup{}
	s := newSource(t, g)
	require.NoError(t, s.Open(context.Background()))
	defer s.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Read(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKafkaSourceConsumeFailure(t *testing.T) {
	g := &fakeGroup{consumeErr: sarama.ErrOutOfBrokers}
	s := newSource(t, g)
	require.NoError(t, s.Open(context.Background()))
	defer s.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		_, err := s.Read(ctx)
		require.Error(t, err, "read %d", i)
		assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
		assert.True(t, errors.IsRetryable(err))
	}
	assert.GreaterOrEqual(t, g.calls.Load(), int32(3))
}

func TestKafkaSourceRecoversAfterConsumeFailure(t *testing.T) {
	g := &fakeGroup{
		consumeErr: sarama.ErrOutOfBrokers,
		failures:   1,
		messages:   []*sarama.ConsumerMessage{message(5, "a", `{"id": 1}`)},
	}
	s := newSource(t, g)
	require.NoError(t, s.Open(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.Read(ctx)
	require.Error(t, err)

	rec, err := s.Read(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, rec.Meta().Offset)

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, []int64{5}, g.session.marked)
}

func kafkaPolicy() config.Policy {
	p := config.DefaultPolicy()
	p.BufferSize = 4
	p.Retry = config.Retry{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	return p
}

func TestKafkaSourceRun(t *testing.T) {
	tests := []struct {
		name     string
		group    *fakeGroup
		policy   func(p *config.Policy)
		status   pipeline.Status
		written  int64
		failedAt string
	}{
		{
			name:     "consume keeps failing",
			group:    &fakeGroup{consumeErr: sarama.ErrOutOfBrokers},
			status:   pipeline.StatusFailed,
			failedAt: "orders-in",
		},
		{
			name: "consume fails once",
			group: &fakeGroup{consumeErr: sarama.ErrOutOfBrokers, failures: 1, messages: []*sarama.ConsumerMessage{
				message(1, "a", `{"id": 1}`),
				message(2, "b", `{"id": 2}`),
			}},
			policy:  func(p *config.Policy) { p.MaxRecords = 2 },
			status:  pipeline.StatusSucceeded,
			written: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := kafkaPolicy()
			if tt.policy != nil {
				tt.policy(&policy)
			}
			sink := memory.NewSink("out", "")
			d := &pipeline.Descriptor{
				Name:   "orders",
				Source: newSource(t, tt.group),
				Sinks:  []pipeline.SinkBinding{{Sink: sink}},
				Policy: policy,
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			res, err := pipeline.NewRunner().Run(ctx, d)
			require.NoError(t, ctx.Err(), "run did not finish")

			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.failedAt, res.FailurePoint)
			assert.EqualValues(t, tt.written, res.Written["out"])
			if tt.status == pipeline.StatusFailed {
				require.Error(t, err)
				assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
			} else {
				require.NoError(t, err)
			}
			assert.True(t, tt.group.closed)
		})
	}
}

func TestKafkaSourceConfig(t *testing.T) {
	_, err := NewKafkaSource(config.Connector{Name: "in", Settings: config.Settings{"brokers": "k:9092", "topics": "t"}})
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))

	_, err = NewKafkaSource(config.Connector{Name: "in", Settings: config.Settings{"brokers": "k:9092", "group": "g"}})
	require.Error(t, err)

	_, err = NewKafkaSource(config.Connector{Name: "in", Settings: config.Settings{
		"brokers": "k:9092", "topic": "t", "group": "g", "offset": "sideways",
	}})
	require.Error(t, err)
}
