// Package redis stores records under keys built from one of their fields.
package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	shared "github.com/binarymachines/mercury/pkg/connector/shared/redis"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/formats"
	"github.com/binarymachines/mercury/pkg/json"
	"github.com/binarymachines/mercury/pkg/models"
)

// Client is the part of a redis client the sink uses.
type Client interface {
	Pipeline() goredis.Pipeliner
	Close() error
}

// RedisSink writes each record to prefix + key_field. A key is replaced
// as a whole, so writing a record twice leaves one copy. Batches go out
// as one pipeline.
type RedisSink struct {
	*base.BaseConnector

	opts       shared.Options
	ttl        time.Duration
	maxWriters int

	client Client
	batch  *base.Batcher
}

// NewRedisSink creates a redis sink from its configuration.
func NewRedisSink(cfg config.Connector) (*RedisSink, error) {
	opts, err := shared.Parse(cfg.Settings)
	if err != nil {
		return nil, err
	}
	if opts.KeyField == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "setting \"key_field\" is required")
	}
	ttl, err := cfg.Settings.Duration("ttl", 0)
	if err != nil {
		return nil, err
	}
	batchSize, err := cfg.Settings.Int("batch_size", 200)
	if err != nil {
		return nil, err
	}
	maxWriters, err := cfg.Settings.Int("max_writers", 4)
	if err != nil {
		return nil, err
	}
	s := &RedisSink{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSink),
		opts:          opts,
		ttl:           ttl,
		maxWriters:    maxWriters,
	}
	s.batch = base.NewBatcher(batchSize, s.send)
	return s, nil
}

// WithClient makes the sink write through c instead of its own client.
func (s *RedisSink) WithClient(c Client) *RedisSink {
	s.client = c
	return s
}

func (s *RedisSink) MaxWriters() int { return s.maxWriters }

func (s *RedisSink) Open(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	c, err := shared.Connect(ctx, s.opts)
	if err != nil {
		return err
	}
	s.client = c
	s.Logger().Info("redis sink opened",
		zap.String("addr", s.opts.Client.Addr),
		zap.String("mode", string(s.opts.Mode)),
		zap.String("prefix", s.opts.Prefix))
	return nil
}

func (s *RedisSink) Write(ctx context.Context, rec *models.Record) (core.Ack, error) {
	if s.client == nil {
		return core.Ack{}, errors.New(errors.ErrorTypeInternal, "redis sink is not open")
	}
	return s.batch.Write(ctx, rec)
}

func (s *RedisSink) Flush(ctx context.Context) (core.Ack, error) {
	if s.client == nil {
		return core.Ack{}, nil
	}
	return s.batch.Flush(ctx)
}

func (s *RedisSink) key(rec *models.Record) (string, error) {
	v, ok := rec.Lookup(s.opts.KeyField)
	if !ok || v == nil {
		return "", errors.Newf(errors.ErrorTypeWrite, "record has no %s", s.opts.KeyField)
	}
	k, err := formats.Stringify(v)
	if err != nil {
		return "", err
	}
	return s.opts.Prefix + k, nil
}

func hashFields(rec *models.Record) (map[string]interface{}, error) {
	out := make(map[string]interface{}, rec.Len())
	for _, name := range rec.Names() {
		v, _ := rec.Get(name)
		if v == nil {
			continue
		}
		str, err := formats.Stringify(v)
		if err != nil {
			return nil, err
		}
		out[name] = str
	}
	return out, nil
}

// queue adds the commands storing rec to the pipeline and returns them.
func (s *RedisSink) queue(ctx context.Context, pipe goredis.Pipeliner, rec *models.Record) ([]goredis.Cmder, error) {
	key, err := s.key(rec)
	if err != nil {
		return nil, err
	}
	if s.opts.Mode == shared.JSON {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeWrite, "encode record as json")
		}
		return []goredis.Cmder{pipe.Set(ctx, key, data, s.ttl)}, nil
	}

	fields, err := hashFields(rec)
	if err != nil {
		return nil, err
	}
	cmds := []goredis.Cmder{pipe.Del(ctx, key)}
	if len(fields) > 0 {
		cmds = append(cmds, pipe.HSet(ctx, key, fields))
	}
	if s.ttl > 0 {
		cmds = append(cmds, pipe.Expire(ctx, key, s.ttl))
	}
	return cmds, nil
}

// send runs a batch as one pipeline. A command refused for the type of
// an existing key rejects its record; any other failure fails the batch.
func (s *RedisSink) send(ctx context.Context, batch []*models.Record) (core.Ack, error) {
	var ack core.Ack
	pipe := s.client.Pipeline()
	queued := make([][]goredis.Cmder, 0, len(batch))
	for _, rec := range batch {
		cmds, err := s.queue(ctx, pipe, rec)
		if err != nil {
			ack.Rejected = append(ack.Rejected, err)
			continue
		}
		queued = append(queued, cmds)
	}
	if len(queued) == 0 {
		return ack, nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		for _, cmds := range queued {
			for _, cmd := range cmds {
				if cerr := cmd.Err(); cerr != nil && !errors.IsRecordLevel(shared.Classify(cerr, "")) {
					return core.Ack{}, shared.Classify(cerr, "redis pipeline")
				}
			}
		}
	}
	for _, cmds := range queued {
		var failed error
		for _, cmd := range cmds {
			if cerr := cmd.Err(); cerr != nil {
				failed = shared.Classify(cerr, "store record")
				break
			}
		}
		if failed != nil {
			ack.Rejected = append(ack.Rejected, failed)
			continue
		}
		ack.Written++
	}
	return ack, nil
}

func (s *RedisSink) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "close redis client")
	}
	return nil
}
