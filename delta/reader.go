package delta

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/parquet-go/parquet-go"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/polarsignals/frostlake"
	"github.com/polarsignals/frostlake/internal/pqrow"
)

// footerPrefetchConcurrency bounds how many parquet footers Seek reads at
// once while fast-skipping a long pending-file queue.
const footerPrefetchConcurrency = 4

const (
	initialPollDuration = 5 * time.Millisecond
	maxPollDuration     = 100 * time.Millisecond
	pollBackoffFactor   = 2
)

// rowIter wraps an open parquet file's row stream together with the
// event type every row it yields should be emitted as, and the handle
// backing it so the handle's lifetime matches the iterator's (SPEC_FULL.md
// C2 ownership note).
type rowIter struct {
	handle    frostlake.SeekableFile
	rows      parquet.Rows
	eventType frostlake.DataEventType
	buf       [1]parquet.Row
}

func (it *rowIter) next() (parquet.Row, error) {
	n, err := it.rows.ReadRows(it.buf[:])
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}
	return it.buf[0], nil
}

func (it *rowIter) close() {
	_ = it.rows.Close()
	_ = it.handle.Close()
}

// Reader streams inserts/deletes out of a Format-D table by following its
// commit log, ported from the original source's DeltaTableReader. It is
// single-owner and not safe for concurrent use (SPEC_FULL.md §5).
type Reader struct {
	backend       ReaderBackend
	downloader    frostlake.Downloader
	columnTypes   map[string]frostlake.Type
	schema        *parquet.Schema
	streamingMode frostlake.StreamingMode
	persistentID  *uint64
	logger        log.Logger
	metrics       *frostlake.ReaderMetrics

	currentVersion        int64
	lastFullyReadVersion  *int64
	rowsReadWithinVersion int64
	pendingFiles          []FileAction
	iter                  *rowIter
}

type ReaderOption func(*readerOptions)

type readerOptions struct {
	logger         log.Logger
	registerer     prometheus.Registerer
	downloader     frostlake.Downloader
	streamingMode  frostlake.StreamingMode
	persistentID   *uint64
	storageOptions map[string]string
}

func WithReaderLogger(l log.Logger) ReaderOption { return func(o *readerOptions) { o.logger = l } }
func WithReaderRegisterer(r prometheus.Registerer) ReaderOption {
	return func(o *readerOptions) { o.registerer = r }
}
func WithDownloader(d frostlake.Downloader) ReaderOption {
	return func(o *readerOptions) { o.downloader = d }
}
func WithStreamingMode(m frostlake.StreamingMode) ReaderOption {
	return func(o *readerOptions) { o.streamingMode = m }
}
func WithPersistentID(id *uint64) ReaderOption { return func(o *readerOptions) { o.persistentID = id } }
func WithReaderStorageOptions(opts map[string]string) ReaderOption {
	return func(o *readerOptions) { o.storageOptions = opts }
}

// NewReader opens the table at path and seeds the pending-file queue with
// every file in the table's current snapshot as Insert actions, so the
// first Read calls deliver the table's initial contents.
func NewReader(ctx context.Context, path string, columnTypes map[string]frostlake.Type, opts ...ReaderOption) (*Reader, error) {
	o := readerOptions{
		logger:        log.NewNopLogger(),
		downloader:    frostlake.NewLocalDownloader(),
		streamingMode: frostlake.OneShot,
	}
	for _, opt := range opts {
		opt(&o)
	}

	backend, err := newReaderBackend(ctx, path, o.storageOptions)
	if err != nil {
		return nil, err
	}

	schema, err := schemaFromColumnTypes(columnTypes)
	if err != nil {
		return nil, err
	}

	files, err := backend.FileActions(ctx)
	if err != nil {
		return nil, err
	}

	level.Info(o.logger).Log("msg", "opened delta table for reading", "path", path, "version", backend.Version())

	return &Reader{
		backend:       backend,
		downloader:    o.downloader,
		columnTypes:   columnTypes,
		schema:        schema,
		streamingMode: o.streamingMode,
		persistentID:  o.persistentID,
		logger:        o.logger,
		metrics:       frostlake.NewReaderMetrics(o.registerer, frostlake.StorageTypeDelta),

		currentVersion: backend.Version(),
		pendingFiles:   files,
	}, nil
}

func schemaFromColumnTypes(columnTypes map[string]frostlake.Type) (*parquet.Schema, error) {
	group := parquet.Group{}
	for name, t := range columnTypes {
		node, err := parquetNodeFor(t, true)
		if err != nil {
			return nil, err
		}
		group[name] = node
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

func (r *Reader) PersistentID() *uint64        { return r.persistentID }
func (r *Reader) SetPersistentID(id *uint64)   { r.persistentID = id }
func (r *Reader) StorageType() frostlake.StorageType { return frostlake.StorageTypeDelta }

// Read implements the reader's pull loop: drain the current row iterator;
// when it's empty pop the next pending file and open it; when the pending
// queue is empty, Advance to the next version with data changes.
func (r *Reader) Read(ctx context.Context) (frostlake.ReadResult, error) {
	row, eventType, err := r.pullRow(ctx, r.streamingMode.PollingEnabled())
	if err != nil {
		if err == frostlake.ErrNoObjectsToRead {
			return frostlake.FinishedResult(), nil
		}
		return frostlake.ReadResult{}, err
	}

	r.metrics.RowsRead.WithLabelValues(eventType.String()).Inc()

	values := pqrow.RowToValues(r.schema, row, r.columnTypes)
	offset := frostlake.NewOffsetAntichain().WithDeltaOffset(frostlake.DeltaOffset{
		Version:               r.currentVersion,
		RowsReadWithinVersion: r.rowsReadWithinVersion,
		LastFullyReadVersion:  r.lastFullyReadVersion,
	})

	return frostlake.DataResult(eventType, values, offset), nil
}

// pullRow fetches the next row and bumps rowsReadWithinVersion, whether
// the row is ultimately surfaced to the engine (from Read) or discarded
// while replaying a seek's slow-skip phase: either way a row has been
// consumed from the current version's diff.
func (r *Reader) pullRow(ctx context.Context, pollingEnabled bool) (parquet.Row, frostlake.DataEventType, error) {
	row, err := r.readNextRowNative(ctx, pollingEnabled)
	if err != nil {
		return nil, 0, err
	}
	r.rowsReadWithinVersion++
	return row, r.iter.eventType, nil
}

// readNextRowNative is the translation of read_next_row_native: loop
// between draining the open row iterator and opening the next pending
// file, advancing the table version when both are exhausted.
func (r *Reader) readNextRowNative(ctx context.Context, pollingEnabled bool) (parquet.Row, error) {
	for {
		if r.iter != nil {
			row, err := r.iter.next()
			if err == nil {
				return row, nil
			}
			if err != io.EOF {
				return nil, frostlake.NewParquetError(err)
			}
			r.iter.close()
			r.iter = nil
			continue
		}

		if len(r.pendingFiles) == 0 {
			if err := r.advance(ctx, pollingEnabled); err != nil {
				return nil, err
			}
			if len(r.pendingFiles) == 0 {
				return nil, frostlake.ErrNoObjectsToRead
			}
		}

		next := r.pendingFiles[0]
		r.pendingFiles = r.pendingFiles[1:]

		handle, err := r.downloader.Download(ctx, next.Path)
		if err != nil {
			return nil, err
		}
		it, err := openRowIter(handle, next.EventType)
		if err != nil {
			return nil, err
		}
		r.iter = it
	}
}

func openRowIter(handle frostlake.SeekableFile, eventType frostlake.DataEventType) (*rowIter, error) {
	size, err := handle.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := handle.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(handle, size)
	if err != nil {
		return nil, frostlake.NewParquetError(err)
	}
	return &rowIter{handle: handle, rows: pf.Rows(), eventType: eventType}, nil
}

// advance is the translation of upgrade_table_version: peek the log
// strictly after currentVersion, classify its actions, and either install
// them as the new pending-file queue (if the commit changed data) or keep
// peeking past metadata-only commits.
func (r *Reader) advance(ctx context.Context, pollingEnabled bool) error {
	sleepDuration := initialPollDuration
	for {
		commit, ok, err := r.backend.PeekNextCommit(ctx, r.currentVersion)
		if err != nil {
			return err
		}
		if !ok {
			if !pollingEnabled {
				return nil
			}
			r.metrics.PollIterations.Inc()
			level.Debug(r.logger).Log("msg", "no new delta commit yet, backing off", "sleep", sleepDuration)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleepDuration):
			}
			sleepDuration *= pollBackoffFactor
			if sleepDuration > maxPollDuration {
				sleepDuration = maxPollDuration
			}
			continue
		}

		prev := r.currentVersion
		r.lastFullyReadVersion = &prev
		r.currentVersion = commit.Version
		r.rowsReadWithinVersion = 0
		r.metrics.VersionsAdvanced.Inc()

		if commit.DataChanged {
			r.pendingFiles = commit.Actions
			level.Debug(r.logger).Log("msg", "advanced delta version", "version", commit.Version, "files", len(commit.Actions))
			return nil
		}
		level.Debug(r.logger).Log("msg", "skipping metadata-only delta commit", "version", commit.Version)
	}
}

// Seek implements precise mid-version rewind. When lastFullyReadVersion is
// set, it rebuilds exactly the diff queue that produced the events between
// it and version via a single non-polling Advance; otherwise it rebuilds
// the full file list of version. Either way it then fast-skips whole files
// via their parquet footer row counts, then slow-skips the remainder by
// actually pulling rows.
func (r *Reader) Seek(ctx context.Context, offsets frostlake.OffsetAntichain) error {
	offset, ok := offsets.DeltaOffset()
	if !ok {
		if !offsets.Empty() {
			level.Warn(r.logger).Log("msg", "incorrect offset type for delta reader")
		}
		return nil
	}
	r.metrics.SeekTotal.Inc()

	if r.iter != nil {
		r.iter.close()
		r.iter = nil
	}

	if offset.LastFullyReadVersion != nil {
		r.currentVersion = *offset.LastFullyReadVersion
		if err := r.backend.LoadVersion(ctx, r.currentVersion); err != nil {
			return err
		}
		r.pendingFiles = nil
		if err := r.advance(ctx, false); err != nil {
			return err
		}
	} else {
		r.currentVersion = offset.Version
		if err := r.backend.LoadVersion(ctx, r.currentVersion); err != nil {
			return err
		}
		files, err := r.backend.FileActions(ctx)
		if err != nil {
			return err
		}
		r.pendingFiles = files
	}

	r.rowsReadWithinVersion = 0
	target := offset.RowsReadWithinVersion

	counts, err := r.prefetchRowCounts(ctx, r.pendingFiles)
	if err != nil {
		return err
	}

	for len(r.pendingFiles) > 0 {
		next := r.pendingFiles[0]
		count := counts[next.Path]
		if r.rowsReadWithinVersion+count > target {
			break
		}
		level.Info(r.logger).Log("msg", "fast-skipping delta file", "path", next.Path, "rows", count)
		r.rowsReadWithinVersion += count
		r.pendingFiles = r.pendingFiles[1:]
	}

	remaining := target - r.rowsReadWithinVersion
	level.Info(r.logger).Log("msg", "slow-skipping delta rows", "rows", remaining)
	for i := int64(0); i < remaining; i++ {
		if _, _, err := r.pullRow(ctx, false); err != nil {
			return err
		}
	}

	return nil
}

// prefetchRowCounts reads every pending file's row-group metadata
// concurrently, bounded by footerPrefetchConcurrency, so Seek's fast-skip
// loop over a long pending-file queue doesn't pay each file's download
// latency one at a time. The loop itself stays sequential: it still stops
// at exactly the file whose cumulative count would cross target, just
// against counts that are already in hand.
func (r *Reader) prefetchRowCounts(ctx context.Context, files []FileAction) (map[string]int64, error) {
	counts := make(map[string]int64, len(files))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(footerPrefetchConcurrency)
	for _, f := range files {
		f := f
		g.Go(func() error {
			n, err := r.rowsInFileCount(gctx, f.Path)
			if err != nil {
				return err
			}
			mu.Lock()
			counts[f.Path] = n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}

// rowsInFileCount reads path's row-group metadata without decoding any
// column values, downloading it first if it is not local.
func (r *Reader) rowsInFileCount(ctx context.Context, path string) (int64, error) {
	handle, err := r.downloader.Download(ctx, path)
	if err != nil {
		return 0, err
	}
	defer handle.Close()

	size, err := handle.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	pf, err := parquet.OpenFile(handle, size)
	if err != nil {
		return 0, frostlake.NewParquetError(err)
	}

	var n int64
	for _, rg := range pf.RowGroups() {
		n += rg.NumRows()
	}
	return n, nil
}
