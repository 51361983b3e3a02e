package delta

import (
	"context"
	"fmt"
	"sort"

	deltago "github.com/rivian/delta-go"
	"github.com/rivian/delta-go/lock/filelock"
	"github.com/rivian/delta-go/state/filestate"
	"github.com/rivian/delta-go/storage/filestore"
	"github.com/parquet-go/parquet-go"

	"github.com/polarsignals/frostlake"
)

// deltaGoBackend adapts github.com/rivian/delta-go's table/log-store client
// to the narrow ReaderBackend/WriterBackend seams the state machines in
// this package depend on. All delta-go-specific glue lives in this one
// file; reader.go and writer.go never import delta-go directly.
type deltaGoBackend struct {
	basePath string
	table    *deltago.DeltaTable
	writer   *deltago.DeltaRecordBatchWriter
}

func openTable(ctx context.Context, path string, storageOptions map[string]string) (*deltago.DeltaTable, error) {
	store, err := filestore.New(path, storageOptions)
	if err != nil {
		return nil, fmt.Errorf("open delta object store: %w", err)
	}
	lock := filelock.New(path+"/_delta_log/_commit.lock", filelock.Options{})
	state := filestate.New(path, "_delta_log/_last_checkpoint")
	table := deltago.NewDeltaTable(store, lock, state)
	if err := table.Load(ctx, nil); err != nil {
		return nil, fmt.Errorf("load delta table: %w", err)
	}
	return table, nil
}

func createOrOpenTable(ctx context.Context, path string, schema *parquet.Schema, storageOptions map[string]string) (*deltaGoBackend, error) {
	store, err := filestore.New(path, storageOptions)
	if err != nil {
		return nil, fmt.Errorf("open delta object store: %w", err)
	}
	lock := filelock.New(path+"/_delta_log/_commit.lock", filelock.Options{})
	state := filestate.New(path, "_delta_log/_last_checkpoint")
	table := deltago.NewDeltaTable(store, lock, state)

	metadata := deltago.NewTableMetaData("", "", new(deltago.Format).Default(), schemaToDeltaSchema(schema), []string{}, nil)
	if createErr := table.Create(ctx, *metadata, nil, deltago.Protocol{MinReaderVersion: 1, MinWriterVersion: 2}, nil); createErr != nil {
		if err := table.Load(ctx, nil); err != nil {
			return nil, fmt.Errorf("create delta table: %v; open existing delta table: %w", createErr, err)
		}
	}

	writer, err := deltago.NewDeltaRecordBatchWriter(table)
	if err != nil {
		return nil, fmt.Errorf("create delta batch writer: %w", err)
	}

	return &deltaGoBackend{basePath: path, table: table, writer: writer}, nil
}

func schemaToDeltaSchema(schema *parquet.Schema) deltago.StructType {
	fields := make([]deltago.StructField, 0, len(schema.Fields()))
	for _, f := range schema.Fields() {
		fields = append(fields, deltago.StructField{
			Name:     f.Name(),
			Type:     deltago.PrimitiveType(mapParquetKindToDelta(f)),
			Nullable: f.Optional(),
		})
	}
	return deltago.StructType{Type: "struct", Fields: fields}
}

func mapParquetKindToDelta(f parquet.Field) string {
	switch {
	case f.Leaf() && f.Type().Kind() == parquet.Boolean:
		return "boolean"
	case f.Leaf() && f.Type().Kind() == parquet.Int64:
		return "long"
	case f.Leaf() && f.Type().Kind() == parquet.Double:
		return "double"
	case f.Leaf() && f.Type().Kind() == parquet.ByteArray:
		return "string"
	default:
		return "string"
	}
}

func (b *deltaGoBackend) Write(ctx context.Context, row parquet.Row) error {
	return b.writer.WriteRow(ctx, row)
}

func (b *deltaGoBackend) FlushAndCommit(ctx context.Context) error {
	return b.writer.FlushAndCommit(ctx, b.table)
}

// readerBackend wraps an already-loaded *deltago.DeltaTable for the reader
// side, resolving relative file paths against basePath the same way the
// original source's ensure_absolute_path does.
type readerBackend struct {
	basePath string
	table    *deltago.DeltaTable
}

func newReaderBackend(ctx context.Context, path string, storageOptions map[string]string) (*readerBackend, error) {
	table, err := openTable(ctx, path, storageOptions)
	if err != nil {
		return nil, err
	}
	return &readerBackend{basePath: path, table: table}, nil
}

func (b *readerBackend) Version() int64 {
	return b.table.State.Version
}

func (b *readerBackend) LoadVersion(ctx context.Context, version int64) error {
	return b.table.Load(ctx, &version)
}

func (b *readerBackend) FileActions(ctx context.Context) ([]FileAction, error) {
	paths := make([]string, 0, len(b.table.State.Files))
	for path := range b.table.State.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	actions := make([]FileAction, 0, len(paths))
	for _, path := range paths {
		actions = append(actions, FileAction{
			EventType: frostlake.Insert,
			Path:      ensureAbsolutePath(path, b.basePath),
		})
	}
	return actions, nil
}

func (b *readerBackend) PeekNextCommit(ctx context.Context, after int64) (Commit, bool, error) {
	diff, err := b.table.LogStore.PeekNextCommit(ctx, after)
	if err != nil {
		return Commit{}, false, fmt.Errorf("peek next delta commit: %w", err)
	}
	if !diff.NewCommitAvailable() {
		return Commit{}, false, nil
	}

	var (
		actions     []FileAction
		dataChanged bool
	)
	for _, raw := range diff.Actions() {
		switch a := raw.(type) {
		case deltago.Remove:
			if a.DeletionVector != nil {
				return Commit{}, false, &frostlake.DeletionVectorsUnsupportedError{}
			}
			dataChanged = dataChanged || a.DataChange
			actions = append(actions, FileAction{EventType: frostlake.Delete, Path: ensureAbsolutePath(a.Path, b.basePath)})
		case deltago.Add:
			dataChanged = dataChanged || a.DataChange
			actions = append(actions, FileAction{EventType: frostlake.Insert, Path: ensureAbsolutePath(a.Path, b.basePath)})
		}
	}

	return Commit{Version: diff.Version(), Actions: actions, DataChanged: dataChanged}, true, nil
}

// ensureAbsolutePath rewrites a possibly-relative commit path into an
// absolute one, prefixing basePath unless the path already carries it.
func ensureAbsolutePath(path, basePath string) string {
	if len(path) >= len(basePath) && path[:len(basePath)] == basePath {
		return path
	}
	if len(basePath) > 0 && basePath[len(basePath)-1] == '/' {
		return basePath + path
	}
	return basePath + "/" + path
}

