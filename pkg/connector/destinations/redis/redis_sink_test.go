package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

func newTestSink(t *testing.T, settings config.Settings) (*RedisSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	all := config.Settings{"key_field": "id", "prefix": "user:"}
	for k, v := range settings {
		all[k] = v
	}
	s, err := NewRedisSink(config.Connector{Name: "cache", Type: "redis", Settings: all})
	require.NoError(t, err)
	s.WithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { s.Close(context.Background()) })
	return s, mr
}

func user(id interface{}, name string) *models.Record {
	b := models.NewBuilder(3)
	if id != nil {
		b.Set("id", id)
	}
	return b.Set("name", name).Set("tags", []interface{}{"a"}).Build()
}

func flushAll(t *testing.T, s *RedisSink, recs ...*models.Record) (int, []error) {
	t.Helper()
	ctx := context.Background()
	var (
		written  int
		rejected []error
	)
	for _, rec := range recs {
		ack, err := s.Write(ctx, rec)
		require.NoError(t, err)
		written += ack.Written
		rejected = append(rejected, ack.Rejected...)
	}
	ack, err := s.Flush(ctx)
	require.NoError(t, err)
	return written + ack.Written, append(rejected, ack.Rejected...)
}

func TestRedisSinkHashes(t *testing.T) {
	s, mr := newTestSink(t, config.Settings{"ttl": "1h"})
	written, rejected := flushAll(t, s, user(1, "ada"), user(nil, "ghost"), user(2, "alan"), user(1, "ada l."))

	assert.Equal(t, 3, written)
	require.Len(t, rejected, 1)
	assert.True(t, errors.IsRecordLevel(rejected[0]))

	assert.Equal(t, "ada l.", mr.HGet("user:1", "name"))
	assert.Equal(t, `["a"]`, mr.HGet("user:1", "tags"))
	assert.Equal(t, "1", mr.HGet("user:1", "id"))
	assert.Equal(t, time.Hour, mr.TTL("user:2"))
	assert.ElementsMatch(t, []string{"user:1", "user:2"}, mr.Keys())
}

func TestRedisSinkJSON(t *testing.T) {
	s, mr := newTestSink(t, config.Settings{"mode": "json"})
	written, rejected := flushAll(t, s, user("u-7", "grace"))
	assert.Equal(t, 1, written)
	assert.Empty(t, rejected)

	got, err := mr.Get("user:u-7")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"u-7","name":"grace","tags":["a"]}`, got)
	assert.Zero(t, mr.TTL("user:u-7"))
}

func TestRedisSinkServerDown(t *testing.T) {
	s, mr := newTestSink(t, nil)
	mr.Close()

	ctx := context.Background()
	_, err := s.Write(ctx, user(1, "ada"))
	require.NoError(t, err)
	_, err = s.Flush(ctx)
	require.Error(t, err)
	assert.False(t, errors.IsRecordLevel(err))
	assert.Equal(t, 1, s.batch.Len())
}

func TestRedisSinkNeedsKeyField(t *testing.T) {
	_, err := NewRedisSink(config.Connector{Name: "cache", Settings: config.Settings{}})
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}
