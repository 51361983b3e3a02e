package frostlake

import (
	"context"

	"github.com/apache/arrow/go/v17/arrow"
)

// DataEventType distinguishes an inserted row from a deleted one.
type DataEventType int

const (
	Insert DataEventType = iota
	Delete
)

func (t DataEventType) String() string {
	if t == Insert {
		return "Insert"
	}
	return "Delete"
}

// StorageType identifies which table format a reader or writer is bound
// to; exposed to the engine so it can route offsets to the right decoder.
type StorageType int

const (
	StorageTypeDelta StorageType = iota
	StorageTypeIceberg
)

func (t StorageType) String() string {
	if t == StorageTypeDelta {
		return "FormatD"
	}
	return "FormatI"
}

// StreamingMode controls whether Read blocks waiting for new table
// versions/snapshots (Streaming) or returns Finished once the current tail
// is drained (OneShot).
type StreamingMode int

const (
	OneShot StreamingMode = iota
	Streaming
)

func (m StreamingMode) PollingEnabled() bool { return m == Streaming }

// Row is a decoded change event's column values, keyed by field name.
type Row map[string]any

// SourceMetadata carries format-specific bookkeeping for a NewSource
// marker; readers populate it with whatever identifies the version or
// snapshot the following batch of events belongs to.
type SourceMetadata struct {
	DeltaVersion  *int64
	IcebergSnapID *int64
}

// ReadResult is the tagged union Read returns: exactly one of Data,
// Finished, NewSource or FinishedSource is populated; Kind says which.
type ReadResultKind int

const (
	ResultData ReadResultKind = iota
	ResultFinished
	ResultNewSource
	ResultFinishedSource
)

type ReadResult struct {
	Kind ReadResultKind

	EventType DataEventType
	Row       Row
	Offset    OffsetAntichain

	NewSourceMeta SourceMetadata

	CommitAllowed bool
}

func DataResult(eventType DataEventType, row Row, offset OffsetAntichain) ReadResult {
	return ReadResult{Kind: ResultData, EventType: eventType, Row: row, Offset: offset}
}

func FinishedResult() ReadResult {
	return ReadResult{Kind: ResultFinished}
}

func NewSourceResult(meta SourceMetadata) ReadResult {
	return ReadResult{Kind: ResultNewSource, NewSourceMeta: meta}
}

func FinishedSourceResult(commitAllowed bool) ReadResult {
	return ReadResult{Kind: ResultFinishedSource, CommitAllowed: commitAllowed}
}

// Reader is the engine-facing contract both the delta and iceberg readers
// implement. A Reader is owned by a single goroutine; none of its methods
// are safe to call concurrently (see SPEC_FULL.md §5).
type Reader interface {
	Read(ctx context.Context) (ReadResult, error)
	Seek(ctx context.Context, offsets OffsetAntichain) error
	PersistentID() *uint64
	SetPersistentID(id *uint64)
	StorageType() StorageType
}

// Writer is the engine-facing contract both batch writers implement.
type Writer interface {
	WriteBatch(ctx context.Context, batch arrow.Record) error
}
