// Package bigquery reads a BigQuery query result or table as records.
package bigquery

import (
	"context"
	"io"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	shared "github.com/binarymachines/mercury/pkg/connector/shared/bigquery"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

// Rows is a row iterator with the schema of its result.
type Rows interface {
	Next(dst *[]bigquery.Value) error
	Schema() bigquery.Schema
}

// Opener starts a read and returns its rows; tests replace it.
type Opener func(ctx context.Context) (Rows, error)

type iteratorRows struct {
	it *bigquery.RowIterator
}

func (r iteratorRows) Next(dst *[]bigquery.Value) error { return r.it.Next(dst) }

// Schema is known once the first page has been fetched.
func (r iteratorRows) Schema() bigquery.Schema { return r.it.Schema }

// BigQuerySource reads the rows of a query, or of a whole table when no
// query is set.
type BigQuerySource struct {
	*base.BaseConnector

	opts  shared.Options
	query string
	open  Opener

	client *bigquery.Client
	rows   Rows
	row    int64
}

// NewBigQuerySource creates a bigquery source from its configuration.
func NewBigQuerySource(cfg config.Connector) (*BigQuerySource, error) {
	opts, err := shared.Parse(cfg.Settings)
	if err != nil {
		return nil, err
	}
	query := cfg.Settings.String("query", "")
	if query == "" && (opts.Dataset == "" || opts.Table == "") {
		return nil, errors.New(errors.ErrorTypeConfig, "bigquery source needs a query or a dataset and table")
	}
	s := &BigQuerySource{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSource),
		opts:          opts,
		query:         query,
	}
	s.open = s.openClient
	return s, nil
}

// WithOpener replaces the BigQuery client.
func (s *BigQuerySource) WithOpener(o Opener) *BigQuerySource {
	s.open = o
	return s
}

func (s *BigQuerySource) Bounded() bool { return true }

func (s *BigQuerySource) openClient(ctx context.Context) (Rows, error) {
	client, err := shared.NewClient(ctx, s.opts)
	if err != nil {
		return nil, err
	}
	s.client = client

	var it *bigquery.RowIterator
	if s.query != "" {
		it, err = client.Query(s.query).Read(ctx)
	} else {
		it = client.Dataset(s.opts.Dataset).Table(s.opts.Table).Read(ctx)
	}
	if err != nil {
		return nil, shared.Classify(err, "run query")
	}
	s.Logger().Info("bigquery read started",
		zap.String("project", s.opts.Project),
		zap.Bool("query", s.query != ""),
		zap.Uint64("total_rows", it.TotalRows))
	return iteratorRows{it: it}, nil
}

func (s *BigQuerySource) Open(ctx context.Context) error {
	_ = s.Close(ctx)
	rows, err := s.open(ctx)
	if err != nil {
		_ = s.Close(ctx)
		return err
	}
	s.rows, s.row = rows, 0
	return nil
}

func (s *BigQuerySource) Read(ctx context.Context) (*models.Record, error) {
	if s.rows == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "bigquery source is not open")
	}
	var row []bigquery.Value
	if err := s.rows.Next(&row); err != nil {
		if err == iterator.Done {
			return nil, io.EOF
		}
		return nil, shared.Classify(err, "read rows")
	}
	s.row++
	rec := shared.Record(s.rows.Schema(), row)
	return rec.WithMeta(models.Metadata{Source: s.Name(), Position: s.row}), nil
}

// Discover returns the result schema. It is complete only after the first
// Read.
func (s *BigQuerySource) Discover(ctx context.Context) (*core.Schema, error) {
	if s.rows == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "bigquery source is not open")
	}
	out := &core.Schema{Name: s.Name()}
	for _, f := range s.rows.Schema() {
		out.Fields = append(out.Fields, core.Field{
			Name:        f.Name,
			Type:        shared.FieldType(f.Type),
			Nullable:    !f.Required,
			Description: f.Description,
		})
	}
	return out, nil
}

func (s *BigQuerySource) Close(ctx context.Context) error {
	s.rows = nil
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	if err != nil {
		return shared.Classify(err, "close bigquery client")
	}
	return nil
}
