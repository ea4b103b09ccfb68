// Package bigquery streams records into a BigQuery table.
package bigquery

import (
	"context"
	"net/http"
	"sync"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	shared "github.com/binarymachines/mercury/pkg/connector/shared/bigquery"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/formats"
	"github.com/binarymachines/mercury/pkg/models"
)

// Table is the part of a BigQuery table the sink uses.
type Table interface {
	Create(ctx context.Context, md *bigquery.TableMetadata) error
	Put(ctx context.Context, src interface{}) error
}

// Opener connects to the destination table; tests replace it.
type Opener func(ctx context.Context) (Table, error)

type clientTable struct {
	table    *bigquery.Table
	inserter *bigquery.Inserter
}

func (t clientTable) Create(ctx context.Context, md *bigquery.TableMetadata) error {
	return t.table.Create(ctx, md)
}

func (t clientTable) Put(ctx context.Context, src interface{}) error {
	return t.inserter.Put(ctx, src)
}

// row is one streaming insert. The insert id lets BigQuery drop the
// duplicates a retried batch would otherwise create.
type row struct {
	values   map[string]bigquery.Value
	insertID string
}

func (r row) Save() (map[string]bigquery.Value, string, error) {
	return r.values, r.insertID, nil
}

// BigQuerySink inserts batches of records. Rows BigQuery refuses are
// rejected one by one and the rest of the batch is kept. With
// create_table the table is created from the first batch when missing.
type BigQuerySink struct {
	*base.BaseConnector

	opts          shared.Options
	createTable   bool
	insertIDField string
	maxWriters    int
	open          Opener

	client  *bigquery.Client
	table   Table
	batch   *base.Batcher
	mu      sync.Mutex
	created bool
}

// NewBigQuerySink creates a bigquery sink from its configuration.
func NewBigQuerySink(cfg config.Connector) (*BigQuerySink, error) {
	opts, err := shared.Parse(cfg.Settings)
	if err != nil {
		return nil, err
	}
	if opts.Dataset == "" || opts.Table == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "bigquery sink needs a dataset and table")
	}
	createTable, err := cfg.Settings.Bool("create_table", false)
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
	s := &BigQuerySink{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSink),
		opts:          opts,
		createTable:   createTable,
		insertIDField: cfg.Settings.String("insert_id_field", ""),
		maxWriters:    maxWriters,
	}
	s.open = s.openClient
	s.batch = base.NewBatcher(batchSize, s.insert)
	return s, nil
}

// WithOpener replaces the BigQuery client.
func (s *BigQuerySink) WithOpener(o Opener) *BigQuerySink {
	s.open = o
	return s
}

func (s *BigQuerySink) MaxWriters() int { return s.maxWriters }

func (s *BigQuerySink) openClient(ctx context.Context) (Table, error) {
	client, err := shared.NewClient(ctx, s.opts)
	if err != nil {
		return nil, err
	}
	s.client = client
	t := client.Dataset(s.opts.Dataset).Table(s.opts.Table)
	ins := t.Inserter()
	ins.SkipInvalidRows = true
	return clientTable{table: t, inserter: ins}, nil
}

func (s *BigQuerySink) Open(ctx context.Context) error {
	if s.table != nil {
		return nil
	}
	t, err := s.open(ctx)
	if err != nil {
		return err
	}
	s.table = t
	s.Logger().Info("bigquery sink opened",
		zap.String("project", s.opts.Project),
		zap.String("dataset", s.opts.Dataset),
		zap.String("table", s.opts.Table))
	return nil
}

func (s *BigQuerySink) Write(ctx context.Context, rec *models.Record) (core.Ack, error) {
	if s.table == nil {
		return core.Ack{}, errors.New(errors.ErrorTypeInternal, "bigquery sink is not open")
	}
	return s.batch.Write(ctx, rec)
}

func (s *BigQuerySink) Flush(ctx context.Context) (core.Ack, error) {
	if s.table == nil {
		return core.Ack{}, nil
	}
	return s.batch.Flush(ctx)
}

// ensureTable creates the table from a sample batch once. An existing
// table is left as it is.
func (s *BigQuerySink) ensureTable(ctx context.Context, sample []*models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.createTable || s.created {
		return nil
	}
	md := &bigquery.TableMetadata{Schema: shared.InferSchema(sample)}
	if err := s.table.Create(ctx, md); err != nil {
		var apiErr *googleapi.Error
		if !errors.As(err, &apiErr) || apiErr.Code != http.StatusConflict {
			return shared.Classify(err, "create table "+s.opts.Table)
		}
	} else {
		s.Logger().Info("created bigquery table",
			zap.String("table", s.opts.Table),
			zap.Int("columns", len(md.Schema)))
	}
	s.created = true
	return nil
}

func (s *BigQuerySink) insert(ctx context.Context, batch []*models.Record) (core.Ack, error) {
	if err := s.ensureTable(ctx, batch); err != nil {
		return core.Ack{}, err
	}
	rows := make([]row, len(batch))
	for i, rec := range batch {
		rows[i] = row{values: shared.Row(rec)}
		if s.insertIDField == "" {
			continue
		}
		if v, ok := rec.Lookup(s.insertIDField); ok && v != nil {
			id, err := formats.Stringify(v)
			if err != nil {
				return core.Ack{}, err
			}
			rows[i].insertID = id
		}
	}

	err := s.table.Put(ctx, rows)
	if err == nil {
		return core.Ack{Written: len(rows)}, nil
	}
	var multi bigquery.PutMultiError
	if !errors.As(err, &multi) {
		return core.Ack{}, shared.Classify(err, "insert into "+s.opts.Table)
	}
	ack := core.Ack{Written: len(rows) - len(multi)}
	for _, rowErr := range multi {
		ack.Rejected = append(ack.Rejected, errors.Wrap(rowErr.Errors, errors.ErrorTypeWrite, "row rejected").WithDetail("row", rowErr.RowIndex))
	}
	return ack, nil
}

func (s *BigQuerySink) Close(ctx context.Context) error {
	s.table = nil
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "close bigquery client")
	}
	return nil
}
