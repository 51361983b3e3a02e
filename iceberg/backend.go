package iceberg

import (
	"context"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/polarsignals/frostlake"
)

// TaskKey identifies a file scan task the way FileScanTaskDescriptor does in
// the original source: by the triple that makes two tasks the same unit of
// work even across independently-built plans, so plan diffs can be computed
// as a plain set difference over keys.
type TaskKey struct {
	Path   string
	Start  int64
	Length int64
}

// ScanTask is an opaque, backend-specific handle for one file scan task.
// The reader state machine never inspects it, only threads it back into
// ReaderBackend.ReadTask.
type ScanTask any

// ScanPlan is a snapshot's file plan, keyed for diffing against another
// plan from a different snapshot.
type ScanPlan map[TaskKey]ScanTask

// ReaderBackend is the seam between the reader state machine (C6) and the
// underlying Iceberg catalog/table, mirroring the delta package's
// ReaderBackend seam for the same reason: isolate an unverifiable
// third-party API surface behind an interface the state machine can be
// tested against with a fake.
type ReaderBackend interface {
	// CurrentSnapshotID returns the table's current snapshot id, or nil if
	// the table has no snapshot yet.
	CurrentSnapshotID(ctx context.Context) (*int64, error)
	// PlanFiles returns the file plan as of snapshotID, or the table's
	// current snapshot if snapshotID is nil.
	PlanFiles(ctx context.Context, snapshotID *int64) (ScanPlan, error)
	// ReadTask decodes every row scan task scans into frostlake.Row values
	// keyed by column name.
	ReadTask(ctx context.Context, task ScanTask) ([]frostlake.Row, error)
}

// WriterBackend is the seam between the batch writer (C4) and the
// underlying Iceberg catalog/table.
type WriterBackend interface {
	// AppendBatch writes batch to a new data file and fast-appends it in a
	// single commit, reloading the table afterward.
	AppendBatch(ctx context.Context, batch arrow.Record) error
}
