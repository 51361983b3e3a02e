package delta

import (
	"context"

	"github.com/parquet-go/parquet-go"

	"github.com/polarsignals/frostlake"
)

// FileAction is one Add or Remove entry out of a commit, already resolved
// to an absolute path.
type FileAction struct {
	EventType frostlake.DataEventType
	Path      string
}

// Commit is the strictly-newer commit returned by PeekNextCommit.
type Commit struct {
	Version     int64
	Actions     []FileAction
	DataChanged bool
}

// ReaderBackend is the seam between the reader state machine (C5, the
// part this spec cares about) and the underlying Delta Lake log store.
// Keeping it as an interface lets the state machine be tested against a
// fake log without a real table on disk.
type ReaderBackend interface {
	Version() int64
	LoadVersion(ctx context.Context, version int64) error
	// FileActions returns every file in the table's current snapshot, each
	// as an Insert action, used to seed the reader's initial/full backfill.
	FileActions(ctx context.Context) ([]FileAction, error)
	// PeekNextCommit returns the commit strictly after `after`, or
	// ok=false if none exists yet.
	PeekNextCommit(ctx context.Context, after int64) (commit Commit, ok bool, err error)
}

// WriterBackend is the seam between the batch writer (C3) and the
// underlying Delta Lake table.
type WriterBackend interface {
	Write(ctx context.Context, row parquet.Row) error
	FlushAndCommit(ctx context.Context) error
}
