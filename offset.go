package frostlake

import "fmt"

// OffsetKey identifies one independent position stream within a frontier.
// Both format readers only ever use a single, unnamed stream, matching the
// original source's `OffsetKey::Empty`, but the key is kept so a frontier
// can, in principle, track more than one reader's progress at once.
type OffsetKey struct{}

// DeltaOffset is the resume position for the Format-D reader.
//
// Invariant: if LastFullyReadVersion is set to v0, the record immediately
// preceding this offset is the RowsReadWithinVersion-th row of the diff
// from v0 to Version. If LastFullyReadVersion is unset, the reader has not
// yet crossed a version boundary and RowsReadWithinVersion counts into the
// initial full snapshot at Version.
type DeltaOffset struct {
	Version               int64
	RowsReadWithinVersion int64
	LastFullyReadVersion  *int64
}

func (o DeltaOffset) String() string {
	if o.LastFullyReadVersion == nil {
		return fmt.Sprintf("delta(version=%d, rows=%d, last=none)", o.Version, o.RowsReadWithinVersion)
	}
	return fmt.Sprintf("delta(version=%d, rows=%d, last=%d)", o.Version, o.RowsReadWithinVersion, *o.LastFullyReadVersion)
}

// IcebergOffset is the resume position for the Format-I reader: all events
// produced up to and including the full diff that yields SnapshotID have
// been committed.
type IcebergOffset struct {
	SnapshotID int64
}

func (o IcebergOffset) String() string {
	return fmt.Sprintf("iceberg(snapshot=%d)", o.SnapshotID)
}

// OffsetAntichain is a durable, checkpointable record of reader progress.
// It is deliberately a thin map rather than a single offset value so a
// future multi-stream reader can be layered on without changing the
// interface readers are pulled through.
type OffsetAntichain struct {
	values map[OffsetKey]any
}

func NewOffsetAntichain() OffsetAntichain {
	return OffsetAntichain{values: make(map[OffsetKey]any)}
}

func (a OffsetAntichain) WithDeltaOffset(o DeltaOffset) OffsetAntichain {
	a.values[OffsetKey{}] = o
	return a
}

func (a OffsetAntichain) WithIcebergOffset(o IcebergOffset) OffsetAntichain {
	a.values[OffsetKey{}] = o
	return a
}

// DeltaOffset returns the stored offset, if the frontier holds one of this
// type for the default key.
func (a OffsetAntichain) DeltaOffset() (DeltaOffset, bool) {
	v, ok := a.values[OffsetKey{}]
	if !ok {
		return DeltaOffset{}, false
	}
	o, ok := v.(DeltaOffset)
	return o, ok
}

// IcebergOffset returns the stored offset, if the frontier holds one of
// this type for the default key.
func (a OffsetAntichain) IcebergOffset() (IcebergOffset, bool) {
	v, ok := a.values[OffsetKey{}]
	if !ok {
		return IcebergOffset{}, false
	}
	o, ok := v.(IcebergOffset)
	return o, ok
}

// Empty reports whether the frontier carries no offset at all, i.e. Seek
// should be a no-op.
func (a OffsetAntichain) Empty() bool {
	return len(a.values) == 0
}
