package delta

import (
	"context"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/parquet-go/parquet-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/polarsignals/frostlake"
	"github.com/polarsignals/frostlake/internal/pqrow"
)

// BatchWriter appends Arrow record batches to a Format-D table, creating
// it on first use. Ported from the original source's DeltaBatchWriter:
// every WriteBatch call writes the batch through the bound record-batch
// writer, then flush-and-commits so exactly one new version appears in
// the commit log per call.
type BatchWriter struct {
	backend WriterBackend
	schema  *parquet.Schema
	logger  log.Logger
	metrics *frostlake.WriterMetrics
}

type WriterOption func(*writerOptions)

type writerOptions struct {
	logger         log.Logger
	registerer     prometheus.Registerer
	storageOptions map[string]string
}

func WithWriterLogger(l log.Logger) WriterOption {
	return func(o *writerOptions) { o.logger = l }
}

func WithWriterRegisterer(r prometheus.Registerer) WriterOption {
	return func(o *writerOptions) { o.registerer = r }
}

func WithStorageOptions(opts map[string]string) WriterOption {
	return func(o *writerOptions) { o.storageOptions = opts }
}

// NewBatchWriter opens or creates the Format-D table at path. It first
// attempts to create it with the given fields plus the special output
// field suffix; on any error (the expected case being "already exists")
// it falls back to opening the existing table.
func NewBatchWriter(ctx context.Context, path string, fields []frostlake.Field, opts ...WriterOption) (*BatchWriter, error) {
	o := writerOptions{logger: log.NewNopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	schema, err := buildParquetSchema(fields)
	if err != nil {
		return nil, frostlake.NewWriteError(err)
	}

	backend, err := createOrOpenTable(ctx, path, schema, o.storageOptions)
	if err != nil {
		return nil, frostlake.NewWriteError(err)
	}

	level.Info(o.logger).Log("msg", "opened delta table for writing", "path", path)

	return &BatchWriter{
		backend: backend,
		schema:  schema,
		logger:  o.logger,
		metrics: frostlake.NewWriterMetrics(o.registerer, frostlake.StorageTypeDelta),
	}, nil
}

// buildParquetSchema adds SpecialOutputFields, non-nullable, to the user's
// fields, mapping every field through MapType. The columns are held in a
// parquet.Group, which orders them by name: neither the user fields' order
// nor the special fields' place after them is kept in the schema.
func buildParquetSchema(fields []frostlake.Field) (*parquet.Schema, error) {
	group := parquet.Group{}
	for _, f := range fields {
		node, err := parquetNodeFor(f.Type, f.Nullable)
		if err != nil {
			return nil, err
		}
		group[f.Name] = node
	}
	for _, f := range frostlake.SpecialOutputFields {
		node, err := parquetNodeFor(f.Type, false)
		if err != nil {
			return nil, err
		}
		group[f.Name] = node
	}
	return parquet.NewSchema("frostlake", group), nil
}

func parquetNodeFor(t frostlake.Type, nullable bool) (parquet.Node, error) {
	target, err := MapType(t)
	if err != nil {
		return nil, err
	}
	var node parquet.Node
	switch target {
	case Boolean:
		node = parquet.Leaf(parquet.BooleanType)
	case Long, TimestampNtz, Timestamp:
		node = parquet.Leaf(parquet.Int64Type)
	case Double:
		node = parquet.Leaf(parquet.DoubleType)
	case String:
		node = parquet.String()
	case Binary:
		node = parquet.Leaf(parquet.ByteArrayType)
	}
	if nullable {
		node = parquet.Optional(node)
	}
	return node, nil
}

// WriteBatch writes batch through the bound writer, then flushes and
// commits. Either all of the batch's rows become visible at the next
// version, or none do.
func (w *BatchWriter) WriteBatch(ctx context.Context, batch arrow.Record) error {
	start := time.Now()
	defer func() { w.metrics.WriteDuration.Observe(time.Since(start).Seconds()) }()

	numRows := int(batch.NumRows())
	for i := 0; i < numRows; i++ {
		row, err := pqrow.RecordToRow(w.schema, batch, i)
		if err != nil {
			return frostlake.NewWriteError(err)
		}
		if err := w.backend.Write(ctx, row); err != nil {
			return frostlake.NewWriteError(err)
		}
	}

	if err := w.backend.FlushAndCommit(ctx); err != nil {
		return frostlake.NewWriteError(err)
	}

	level.Debug(w.logger).Log("msg", "committed delta batch", "rows", numRows)
	w.metrics.BatchesWritten.Inc()
	return nil
}
