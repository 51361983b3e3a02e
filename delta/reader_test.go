package delta

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/go-kit/log"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"

	"github.com/polarsignals/frostlake"
)

// memFile adapts a byte slice to frostlake.SeekableFile for tests, so the
// reader's row/footer I/O can run against in-memory fixtures instead of a
// real Delta table on disk.
type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

func newMemFile(b []byte) memFile { return memFile{bytes.NewReader(b)} }

type fakeDownloader struct {
	files map[string][]byte
}

func (d *fakeDownloader) Download(_ context.Context, path string) (frostlake.SeekableFile, error) {
	b, ok := d.files[path]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return newMemFile(b), nil
}

func testSchema(t *testing.T) *parquet.Schema {
	t.Helper()
	schema, err := schemaFromColumnTypes(map[string]frostlake.Type{
		"id":   frostlake.TypeInt64,
		"name": frostlake.TypeString,
	})
	require.NoError(t, err)
	return schema
}

// writeParquetFile builds rows keyed by column name and places each value
// at whatever index schema.Fields() actually assigns it, rather than
// assuming a fixed position — a parquet.Group is backed by a Go map, so
// its field order is the schema's to decide, not this test's.
func writeParquetFile(t *testing.T, schema *parquet.Schema, rows []map[string]any) []byte {
	t.Helper()
	fields := schema.Fields()
	buf := &bytes.Buffer{}
	w := parquet.NewWriter(buf, schema)
	for _, r := range rows {
		row := make(parquet.Row, len(fields))
		for i, f := range fields {
			v, ok := r[f.Name()]
			if !ok {
				v = int64(0)
			}
			row[i] = parquet.ValueOf(v).Level(0, 1, i)
		}
		_, err := w.WriteRows([]parquet.Row{row})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// fakeBackend is a scripted ReaderBackend: a fixed sequence of commits and
// an initial file list, enough to drive the state machine without a real
// Delta Lake table.
type fakeBackend struct {
	version    int64
	initial    []FileAction
	commits    []Commit
	commitIdx  int
	loadCalled []int64
}

func (b *fakeBackend) Version() int64 { return b.version }

func (b *fakeBackend) LoadVersion(_ context.Context, version int64) error {
	b.version = version
	b.loadCalled = append(b.loadCalled, version)
	return nil
}

func (b *fakeBackend) FileActions(_ context.Context) ([]FileAction, error) {
	return b.initial, nil
}

func (b *fakeBackend) PeekNextCommit(_ context.Context, after int64) (Commit, bool, error) {
	if b.commitIdx >= len(b.commits) {
		return Commit{}, false, nil
	}
	c := b.commits[b.commitIdx]
	if c.Version <= after {
		return Commit{}, false, nil
	}
	b.commitIdx++
	return c, true, nil
}

func ptr(v int64) *int64 { return &v }

func TestReader_InitialBackfillEmitsInserts(t *testing.T) {
	schema := testSchema(t)
	data := writeParquetFile(t, schema, []map[string]any{
		{"id": int64(1), "name": "a"},
		{"id": int64(2), "name": "b"},
		{"id": int64(3), "name": "c"},
	})

	backend := &fakeBackend{
		version: 1,
		initial: []FileAction{{EventType: frostlake.Insert, Path: "/t/file1.parquet"}},
	}
	downloader := &fakeDownloader{files: map[string][]byte{"/t/file1.parquet": data}}

	r := &Reader{
		backend:       backend,
		downloader:    downloader,
		columnTypes:   map[string]frostlake.Type{"id": frostlake.TypeInt64, "name": frostlake.TypeString},
		schema:        schema,
		streamingMode: frostlake.OneShot,
		metrics:       frostlake.NewReaderMetrics(nil, frostlake.StorageTypeDelta),
		logger:        log.NewNopLogger(),

		currentVersion: 1,
		pendingFiles:   backend.initial,
	}

	ctx := context.Background()
	var offsets []frostlake.DeltaOffset
	for i := 0; i < 3; i++ {
		res, err := r.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, frostlake.ResultData, res.Kind)
		require.Equal(t, frostlake.Insert, res.EventType)
		off, ok := res.Offset.DeltaOffset()
		require.True(t, ok)
		offsets = append(offsets, off)
	}

	require.Equal(t, int64(1), offsets[0].RowsReadWithinVersion)
	require.Equal(t, int64(2), offsets[1].RowsReadWithinVersion)
	require.Equal(t, int64(3), offsets[2].RowsReadWithinVersion)
	for _, o := range offsets {
		require.Nil(t, o.LastFullyReadVersion)
		require.Equal(t, int64(1), o.Version)
	}

	res, err := r.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, frostlake.ResultFinished, res.Kind)
}

func TestReader_AdvanceSkipsMetadataOnlyCommit(t *testing.T) {
	schema := testSchema(t)
	data := writeParquetFile(t, schema, []map[string]any{{"id": int64(4), "name": "d"}})

	backend := &fakeBackend{
		version: 1,
		commits: []Commit{
			{Version: 2, DataChanged: false}, // metadata-only, transparent
			{Version: 3, DataChanged: true, Actions: []FileAction{{EventType: frostlake.Insert, Path: "/t/file2.parquet"}}},
		},
	}
	downloader := &fakeDownloader{files: map[string][]byte{"/t/file2.parquet": data}}

	r := &Reader{
		backend:       backend,
		downloader:    downloader,
		columnTypes:   map[string]frostlake.Type{"id": frostlake.TypeInt64, "name": frostlake.TypeString},
		schema:        schema,
		streamingMode: frostlake.OneShot,
		metrics:       frostlake.NewReaderMetrics(nil, frostlake.StorageTypeDelta),
		logger:        log.NewNopLogger(),
		currentVersion: 1,
	}

	res, err := r.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, frostlake.ResultData, res.Kind)
	off, ok := res.Offset.DeltaOffset()
	require.True(t, ok)
	require.Equal(t, int64(3), off.Version)
	require.Equal(t, int64(1), off.RowsReadWithinVersion)
	require.NotNil(t, off.LastFullyReadVersion)
	require.Equal(t, int64(1), *off.LastFullyReadVersion)
}

func TestReader_DeletionVectorRejected(t *testing.T) {
	backend := &rejectingBackend{version: 1}
	r := &Reader{
		backend:       backend,
		downloader:    &fakeDownloader{},
		streamingMode: frostlake.OneShot,
		metrics:       frostlake.NewReaderMetrics(nil, frostlake.StorageTypeDelta),
		logger:        log.NewNopLogger(),
		currentVersion: 1,
	}

	_, err := r.Read(context.Background())
	require.Error(t, err)
	var dv *frostlake.DeletionVectorsUnsupportedError
	require.ErrorAs(t, err, &dv)
}

type rejectingBackend struct{ version int64 }

func (b *rejectingBackend) Version() int64                                    { return b.version }
func (b *rejectingBackend) LoadVersion(context.Context, int64) error          { return nil }
func (b *rejectingBackend) FileActions(context.Context) ([]FileAction, error) { return nil, nil }
func (b *rejectingBackend) PeekNextCommit(context.Context, int64) (Commit, bool, error) {
	return Commit{}, false, &frostlake.DeletionVectorsUnsupportedError{}
}

func TestReader_SeekMidFileRewind(t *testing.T) {
	schema := testSchema(t)
	file1 := writeParquetFile(t, schema, []map[string]any{{"id": int64(1), "name": "a"}, {"id": int64(2), "name": "b"}})
	file2 := writeParquetFile(t, schema, []map[string]any{{"id": int64(3), "name": "c"}, {"id": int64(4), "name": "d"}})

	backend := &fakeBackend{
		version: 2,
		initial: []FileAction{
			{EventType: frostlake.Insert, Path: "/t/file1.parquet"},
			{EventType: frostlake.Insert, Path: "/t/file2.parquet"},
		},
		commits: []Commit{
			{
				Version:     2,
				DataChanged: true,
				Actions: []FileAction{
					{EventType: frostlake.Insert, Path: "/t/file1.parquet"},
					{EventType: frostlake.Insert, Path: "/t/file2.parquet"},
				},
			},
		},
	}
	downloader := &fakeDownloader{files: map[string][]byte{
		"/t/file1.parquet": file1,
		"/t/file2.parquet": file2,
	}}

	r := &Reader{
		backend:       backend,
		downloader:    downloader,
		columnTypes:   map[string]frostlake.Type{"id": frostlake.TypeInt64, "name": frostlake.TypeString},
		schema:        schema,
		streamingMode: frostlake.OneShot,
		metrics:       frostlake.NewReaderMetrics(nil, frostlake.StorageTypeDelta),
		logger:        log.NewNopLogger(),
	}

	last := ptr(1)
	err := r.Seek(context.Background(), frostlake.NewOffsetAntichain().WithDeltaOffset(frostlake.DeltaOffset{
		Version:               2,
		RowsReadWithinVersion: 3,
		LastFullyReadVersion:  last,
	}))
	require.NoError(t, err)

	res, err := r.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, frostlake.ResultData, res.Kind)
	require.Equal(t, int64(4), res.Row["id"])
	off, ok := res.Offset.DeltaOffset()
	require.True(t, ok)
	require.Equal(t, int64(4), off.RowsReadWithinVersion)

	res, err = r.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, frostlake.ResultFinished, res.Kind)
}

