package mongodb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

// fakeCollection refuses documents whose sku is "dup" with a duplicate
// key error.
type fakeCollection struct {
	writes []mongo.WriteModel
	err    error
}

func (c *fakeCollection) BulkWrite(ctx context.Context, writes []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
	if c.err != nil {
		return nil, c.err
	}
	var exc mongo.BulkWriteException
	for i, w := range writes {
		doc := document(w)
		if sku, _ := doc.Map()["sku"].(string); sku == "dup" {
			exc.WriteErrors = append(exc.WriteErrors, mongo.BulkWriteError{
				WriteError: mongo.WriteError{Index: i, Code: 11000, Message: "E11000 duplicate key error"},
				Request:    w,
			})
			continue
		}
		c.writes = append(c.writes, w)
	}
	if len(exc.WriteErrors) > 0 {
		return &mongo.BulkWriteResult{}, exc
	}
	return &mongo.BulkWriteResult{InsertedCount: int64(len(writes))}, nil
}

func document(w mongo.WriteModel) bson.D {
	switch m := w.(type) {
	case *mongo.InsertOneModel:
		return m.Document.(bson.D)
	case *mongo.ReplaceOneModel:
		return m.Replacement.(bson.D)
	}
	return nil
}

func newTestSink(t *testing.T, coll Collection, settings config.Settings) *MongoDBSink {
	t.Helper()
	all := config.Settings{"uri": "mongodb://localhost:27017", "database": "shop", "collection": "items"}
	for k, v := range settings {
		all[k] = v
	}
	s, err := NewMongoDBSink(config.Connector{Name: "out", Type: "mongodb", Settings: all})
	require.NoError(t, err)
	require.NoError(t, s.WithCollection(coll).Open(context.Background()))
	return s
}

func item(sku string, qty int) *models.Record {
	return models.NewBuilder(3).
		Set("sku", sku).
		Set("qty", qty).
		Set("dims", map[string]interface{}{"w": 2}).
		Build()
}

func TestMongoDBSinkUpserts(t *testing.T) {
	coll := &fakeCollection{}
	s := newTestSink(t, coll, config.Settings{"key_field": "sku"})
	ctx := context.Background()

	for _, rec := range []*models.Record{item("a", 1), item("dup", 2), models.NewBuilder(1).Set("qty", 3).Build()} {
		_, err := s.Write(ctx, rec)
		require.NoError(t, err)
	}
	ack, err := s.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ack.Written)
	require.Len(t, ack.Rejected, 2)
	for _, r := range ack.Rejected {
		assert.True(t, errors.IsRecordLevel(r))
	}

	require.Len(t, coll.writes, 1)
	replace, ok := coll.writes[0].(*mongo.ReplaceOneModel)
	require.True(t, ok)
	assert.Equal(t, bson.D{{Key: "sku", Value: "a"}}, replace.Filter)
	assert.True(t, *replace.Upsert)
	assert.Equal(t, bson.D{
		{Key: "sku", Value: "a"},
		{Key: "qty", Value: int64(1)},
		{Key: "dims", Value: bson.D{{Key: "w", Value: int64(2)}}},
	}, replace.Replacement)
}

func TestMongoDBSinkInserts(t *testing.T) {
	coll := &fakeCollection{}
	s := newTestSink(t, coll, nil)
	ctx := context.Background()

	_, err := s.Write(ctx, item("a", 1))
	require.NoError(t, err)
	ack, err := s.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ack.Written)
	_, ok := coll.writes[0].(*mongo.InsertOneModel)
	assert.True(t, ok)
}

func TestMongoDBSinkFailureKeepsBatch(t *testing.T) {
	coll := &fakeCollection{err: mongo.CommandError{Code: 91, Message: "shutdown in progress", Labels: []string{"NetworkError"}}}
	s := newTestSink(t, coll, nil)
	ctx := context.Background()

	_, err := s.Write(ctx, item("a", 1))
	require.NoError(t, err)
	_, err = s.Flush(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, 1, s.batch.Len())
}
