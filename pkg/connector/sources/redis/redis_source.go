// Package redis reads the values stored under matching keys as records.
package redis

import (
	"context"
	"io"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	shared "github.com/binarymachines/mercury/pkg/connector/shared/redis"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

// Client is the part of a redis client the source uses.
type Client interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *goredis.ScanCmd
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	Close() error
}

// RedisSource iterates keys with SCAN. Keys that vanish between the scan
// and the read are skipped; SCAN may report a key more than once.
type RedisSource struct {
	*base.BaseConnector

	opts  shared.Options
	match string
	count int64

	client  Client
	cursor  uint64
	scanned bool
	keys    []string
	row     int64
}

// NewRedisSource creates a redis source from its configuration.
func NewRedisSource(cfg config.Connector) (*RedisSource, error) {
	opts, err := shared.Parse(cfg.Settings)
	if err != nil {
		return nil, err
	}
	count, err := cfg.Settings.Int("scan_count", 100)
	if err != nil {
		return nil, err
	}
	return &RedisSource{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSource),
		opts:          opts,
		match:         cfg.Settings.String("match", opts.Prefix+"*"),
		count:         int64(count),
	}, nil
}

// WithClient makes the source use c instead of connecting itself.
func (s *RedisSource) WithClient(c Client) *RedisSource {
	s.client = c
	return s
}

func (s *RedisSource) Bounded() bool { return true }

func (s *RedisSource) Open(ctx context.Context) error {
	if s.client == nil {
		c, err := shared.Connect(ctx, s.opts)
		if err != nil {
			return err
		}
		s.client = c
	}
	s.cursor, s.scanned, s.keys, s.row = 0, false, nil, 0
	s.Logger().Debug("redis scan started", zap.String("match", s.match), zap.String("mode", string(s.opts.Mode)))
	return nil
}

func (s *RedisSource) Read(ctx context.Context) (*models.Record, error) {
	if s.client == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "redis source is not open")
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(s.keys) == 0 {
			if s.scanned && s.cursor == 0 {
				return nil, io.EOF
			}
			keys, cursor, err := s.client.Scan(ctx, s.cursor, s.match, s.count).Result()
			if err != nil {
				return nil, shared.Classify(err, "scan "+s.match)
			}
			s.keys, s.cursor, s.scanned = keys, cursor, true
			continue
		}

		key := s.keys[0]
		s.keys = s.keys[1:]
		rec, err := s.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		s.row++
		return rec.WithMeta(models.Metadata{Source: s.Name(), Position: s.row, Key: key}), nil
	}
}

// load returns nil for a key that no longer exists.
func (s *RedisSource) load(ctx context.Context, key string) (*models.Record, error) {
	var rec *models.Record
	switch s.opts.Mode {
	case shared.JSON:
		raw, err := s.client.Get(ctx, key).Bytes()
		if err == goredis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, shared.Classify(err, "get "+key)
		}
		rec, err = models.ParseJSON(raw)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDecode, "invalid json value").WithDetail("key", key)
		}
	default:
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, shared.Classify(err, "hgetall "+key)
		}
		if len(fields) == 0 {
			return nil, nil
		}
		rec = models.FromMap(toInterfaces(fields))
	}
	if s.opts.KeyField != "" {
		rec = rec.With(s.opts.KeyField, strings.TrimPrefix(key, s.opts.Prefix))
	}
	return rec, nil
}

func toInterfaces(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *RedisSource) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	if err != nil {
		return shared.Classify(err, "close redis client")
	}
	return nil
}
