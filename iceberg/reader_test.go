package iceberg

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/polarsignals/frostlake"
)

// fakeReaderBackend is a scripted ReaderBackend, enough to drive the state
// machine without a real Iceberg catalog or table.
type fakeReaderBackend struct {
	snapshotFn func() (*int64, error)
	plans      map[int64]ScanPlan
	taskRows   map[string][]frostlake.Row
}

func (b *fakeReaderBackend) CurrentSnapshotID(context.Context) (*int64, error) {
	return b.snapshotFn()
}

func (b *fakeReaderBackend) PlanFiles(_ context.Context, snapshotID *int64) (ScanPlan, error) {
	if snapshotID == nil {
		return ScanPlan{}, nil
	}
	return b.plans[*snapshotID], nil
}

func (b *fakeReaderBackend) ReadTask(_ context.Context, task ScanTask) ([]frostlake.Row, error) {
	return b.taskRows[task.(string)], nil
}

func ptr(v int64) *int64 { return &v }

func TestReader_InitialBackfillEmitsInserts(t *testing.T) {
	backend := &fakeReaderBackend{
		snapshotFn: func() (*int64, error) { return ptr(1), nil },
		plans: map[int64]ScanPlan{
			1: {
				TaskKey{Path: "f1"}: "task-f1",
				TaskKey{Path: "f2"}: "task-f2",
			},
		},
		taskRows: map[string][]frostlake.Row{
			"task-f1": {{"id": int64(1)}},
			"task-f2": {{"id": int64(2)}},
		},
	}

	r := &Reader{
		backend:       backend,
		columnTypes:   map[string]frostlake.Type{"id": frostlake.TypeInt64},
		streamingMode: frostlake.OneShot,
		metrics:       frostlake.NewReaderMetrics(nil, frostlake.StorageTypeIceberg),
		logger:        log.NewNopLogger(),
		currentPlan:   ScanPlan{},
	}

	ctx := context.Background()

	res, err := r.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, frostlake.ResultNewSource, res.Kind)
	require.NotNil(t, res.NewSourceMeta.IcebergSnapID)
	require.Equal(t, int64(1), *res.NewSourceMeta.IcebergSnapID)

	var ids []int64
	for i := 0; i < 2; i++ {
		res, err = r.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, frostlake.ResultData, res.Kind)
		require.Equal(t, frostlake.Insert, res.EventType)
		ids = append(ids, res.Row["id"].(int64))
		off, ok := res.Offset.IcebergOffset()
		require.True(t, ok)
		require.Equal(t, int64(1), off.SnapshotID)
	}
	require.ElementsMatch(t, []int64{1, 2}, ids)

	res, err = r.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, frostlake.ResultFinishedSource, res.Kind)
	require.True(t, res.CommitAllowed)

	res, err = r.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, frostlake.ResultFinished, res.Kind)
}

func TestReader_SnapshotAdvanceEmitsDeleteForRemovedFile(t *testing.T) {
	backend := &fakeReaderBackend{
		snapshotFn: func() (*int64, error) { return ptr(2), nil },
		plans: map[int64]ScanPlan{
			2: {},
		},
		taskRows: map[string][]frostlake.Row{
			"task-f1": {{"id": int64(1)}},
		},
	}

	r := &Reader{
		backend:           backend,
		columnTypes:       map[string]frostlake.Type{"id": frostlake.TypeInt64},
		streamingMode:     frostlake.OneShot,
		metrics:           frostlake.NewReaderMetrics(nil, frostlake.StorageTypeIceberg),
		logger:            log.NewNopLogger(),
		currentPlan:       ScanPlan{TaskKey{Path: "f1"}: "task-f1"},
		currentSnapshotID: ptr(1),
	}

	ctx := context.Background()

	res, err := r.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, frostlake.ResultNewSource, res.Kind)
	require.Equal(t, int64(2), *res.NewSourceMeta.IcebergSnapID)

	res, err = r.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, frostlake.ResultData, res.Kind)
	require.Equal(t, frostlake.Delete, res.EventType)
	require.Equal(t, int64(1), res.Row["id"])

	res, err = r.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, frostlake.ResultFinishedSource, res.Kind)

	res, err = r.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, frostlake.ResultFinished, res.Kind)
}

func TestReader_StreamingBlocksUntilContextCancelled(t *testing.T) {
	backend := &fakeReaderBackend{
		snapshotFn: func() (*int64, error) { return nil, nil },
		plans:      map[int64]ScanPlan{},
		taskRows:   map[string][]frostlake.Row{},
	}

	r := &Reader{
		backend:       backend,
		streamingMode: frostlake.Streaming,
		metrics:       frostlake.NewReaderMetrics(nil, frostlake.StorageTypeIceberg),
		logger:        log.NewNopLogger(),
		currentPlan:   ScanPlan{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.Read(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReader_SeekLoadsPlanAtSnapshot(t *testing.T) {
	backend := &fakeReaderBackend{
		plans: map[int64]ScanPlan{
			5: {TaskKey{Path: "f9"}: "task-f9"},
		},
	}

	r := &Reader{
		backend:     backend,
		metrics:     frostlake.NewReaderMetrics(nil, frostlake.StorageTypeIceberg),
		logger:      log.NewNopLogger(),
		currentPlan: ScanPlan{},
	}

	err := r.Seek(context.Background(), frostlake.NewOffsetAntichain().WithIcebergOffset(frostlake.IcebergOffset{SnapshotID: 5}))
	require.NoError(t, err)
	require.NotNil(t, r.currentSnapshotID)
	require.Equal(t, int64(5), *r.currentSnapshotID)
	require.Contains(t, r.currentPlan, TaskKey{Path: "f9"})
}
