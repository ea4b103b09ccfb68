package redis

import (
	"context"
	"io"
	"path"
	"sort"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
)

// fakeClient serves SCAN two keys per page.
type fakeClient struct {
	hashes  map[string]map[string]string
	strings map[string]string
	closed  bool
}

func (c *fakeClient) keys(match string) []string {
	var out []string
	for k := range c.hashes {
		if ok, _ := path.Match(match, k); ok {
			out = append(out, k)
		}
	}
	for k := range c.strings {
		if ok, _ := path.Match(match, k); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (c *fakeClient) Scan(_ context.Context, cursor uint64, match string, _ int64) *goredis.ScanCmd {
	all := c.keys(match)
	end := int(cursor) + 2
	next := uint64(end)
	if end >= len(all) {
		end, next = len(all), 0
	}
	return goredis.NewScanCmdResult(all[cursor:end], next, nil)
}

func (c *fakeClient) HGetAll(_ context.Context, key string) *goredis.MapStringStringCmd {
	return goredis.NewMapStringStringResult(c.hashes[key], nil)
}

func (c *fakeClient) Get(_ context.Context, key string) *goredis.StringCmd {
	v, ok := c.strings[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

func readAll(t *testing.T, s *RedisSource) ([]string, []error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	var (
		ids  []string
		errs []error
	)
	for {
		rec, err := s.Read(ctx)
		if err == io.EOF {
			return ids, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		id, _ := rec.Get("id")
		ids = append(ids, id.(string))
	}
}

func TestRedisSourceHashes(t *testing.T) {
	c := &fakeClient{hashes: map[string]map[string]string{
		"user:1": {"name": "ada"},
		"user:2": {"name": "alan"},
		"user:3": {"name": "grace"},
		"other":  {"name": "x"},
	}}
	s, err := NewRedisSource(config.Connector{Name: "users", Type: "redis", Settings: config.Settings{
		"prefix": "user:", "key_field": "id",
	}})
	require.NoError(t, err)

	ids, errs := readAll(t, s.WithClient(c))
	assert.Empty(t, errs)
	assert.Equal(t, []string{"1", "2", "3"}, ids)

	require.NoError(t, s.Close(context.Background()))
	assert.True(t, c.closed)
}

func TestRedisSourceJSON(t *testing.T) {
	c := &fakeClient{strings: map[string]string{
		"doc:a": `{"id": "a", "n": 1}`,
		"doc:b": `oops`,
		"doc:c": `{"id": "c"}`,
	}}
	s, err := NewRedisSource(config.Connector{Name: "docs", Settings: config.Settings{
		"mode": "json", "match": "doc:*",
	}})
	require.NoError(t, err)

	ids, errs := readAll(t, s.WithClient(c))
	assert.Equal(t, []string{"a", "c"}, ids)
	require.Len(t, errs, 1)
	assert.True(t, errors.IsRecordLevel(errs[0]))
}
