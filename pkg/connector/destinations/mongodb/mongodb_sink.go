// Package mongodb writes records as documents of a MongoDB collection.
package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

// Collection is the part of a mongo collection the sink uses.
type Collection interface {
	BulkWrite(ctx context.Context, writes []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
}

// MongoDBSink writes batches with unordered bulk writes. With key_field a
// document is replaced, or inserted, by that field; otherwise every
// record is a new document. Documents the server refuses are rejected and
// the rest of the batch is kept.
type MongoDBSink struct {
	*base.BaseConnector

	uri        string
	database   string
	collection string
	keyField   string
	maxWriters int

	client *mongo.Client
	coll   Collection
	batch  *base.Batcher
}

// NewMongoDBSink creates a mongodb sink from its configuration.
func NewMongoDBSink(cfg config.Connector) (*MongoDBSink, error) {
	uri, err := cfg.Settings.Require("uri")
	if err != nil {
		return nil, err
	}
	database, err := cfg.Settings.Require("database")
	if err != nil {
		return nil, err
	}
	collection, err := cfg.Settings.Require("collection")
	if err != nil {
		return nil, err
	}
	batchSize, err := cfg.Settings.Int("batch_size", 500)
	if err != nil {
		return nil, err
	}
	maxWriters, err := cfg.Settings.Int("max_writers", 4)
	if err != nil {
		return nil, err
	}
	s := &MongoDBSink{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSink),
		uri:           uri,
		database:      database,
		collection:    collection,
		keyField:      cfg.Settings.String("key_field", ""),
		maxWriters:    maxWriters,
	}
	s.batch = base.NewBatcher(batchSize, s.write)
	return s, nil
}

// WithCollection makes the sink write to c instead of connecting.
func (s *MongoDBSink) WithCollection(c Collection) *MongoDBSink {
	s.coll = c
	return s
}

func (s *MongoDBSink) MaxWriters() int { return s.maxWriters }

func (s *MongoDBSink) Open(ctx context.Context) error {
	if s.coll != nil {
		return nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.uri))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "connect to mongodb")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return classify(err, "ping mongodb")
	}
	s.client = client
	s.coll = client.Database(s.database).Collection(s.collection)
	s.Logger().Info("mongodb sink opened",
		zap.String("database", s.database),
		zap.String("collection", s.collection),
		zap.String("key_field", s.keyField))
	return nil
}

func (s *MongoDBSink) Write(ctx context.Context, rec *models.Record) (core.Ack, error) {
	if s.coll == nil {
		return core.Ack{}, errors.New(errors.ErrorTypeInternal, "mongodb sink is not open")
	}
	return s.batch.Write(ctx, rec)
}

func (s *MongoDBSink) Flush(ctx context.Context) (core.Ack, error) {
	if s.coll == nil {
		return core.Ack{}, nil
	}
	return s.batch.Flush(ctx)
}

// Document converts a record to an ordered BSON document.
func Document(rec *models.Record) bson.D {
	doc := make(bson.D, 0, rec.Len())
	for _, name := range rec.Names() {
		v, _ := rec.Get(name)
		doc = append(doc, bson.E{Key: name, Value: value(v)})
	}
	return doc
}

func value(v interface{}) interface{} {
	switch t := v.(type) {
	case *models.Record:
		return Document(t)
	case []interface{}:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = value(item)
		}
		return out
	case []*models.Record:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = Document(item)
		}
		return out
	default:
		return v
	}
}

func (s *MongoDBSink) model(rec *models.Record) (mongo.WriteModel, error) {
	doc := Document(rec)
	if s.keyField == "" {
		return mongo.NewInsertOneModel().SetDocument(doc), nil
	}
	key, ok := rec.Lookup(s.keyField)
	if !ok || key == nil {
		return nil, errors.Newf(errors.ErrorTypeWrite, "record has no %s", s.keyField)
	}
	return mongo.NewReplaceOneModel().
		SetFilter(bson.D{{Key: s.keyField, Value: value(key)}}).
		SetReplacement(doc).
		SetUpsert(true), nil
}

func (s *MongoDBSink) write(ctx context.Context, batch []*models.Record) (core.Ack, error) {
	var ack core.Ack
	writes := make([]mongo.WriteModel, 0, len(batch))
	for _, rec := range batch {
		m, err := s.model(rec)
		if err != nil {
			ack.Rejected = append(ack.Rejected, err)
			continue
		}
		writes = append(writes, m)
	}
	if len(writes) == 0 {
		return ack, nil
	}

	_, err := s.coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err == nil {
		ack.Written += len(writes)
		return ack, nil
	}
	var bulk mongo.BulkWriteException
	if !errors.As(err, &bulk) || bulk.WriteConcernError != nil || len(bulk.WriteErrors) == 0 {
		return core.Ack{}, classify(err, "bulk write to "+s.collection)
	}
	for _, we := range bulk.WriteErrors {
		ack.Rejected = append(ack.Rejected, errors.Wrap(we, errors.ErrorTypeWrite, "document rejected").WithDetail("index", we.Index))
	}
	ack.Written += len(writes) - len(bulk.WriteErrors)
	return ack, nil
}

func classify(err error, msg string) error {
	switch {
	case mongo.IsTimeout(err):
		return errors.Wrap(err, errors.ErrorTypeTimeout, msg)
	case mongo.IsNetworkError(err):
		return errors.Wrap(err, errors.ErrorTypeConnection, msg)
	}
	return base.Classify(err, msg)
}

func (s *MongoDBSink) Close(ctx context.Context) error {
	s.coll = nil
	if s.client == nil {
		return nil
	}
	err := s.client.Disconnect(ctx)
	s.client = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "disconnect from mongodb")
	}
	return nil
}
