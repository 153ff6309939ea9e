// Package tierfabric implements the multi-tier cache fabric (§4.C): an
// in-memory LRU, a networked remote cache, a durable local filesystem
// store, a low-latency key-value document store, and a blob object store,
// fanned out to with independent sampling rates and guarded by per-tier
// circuit breakers.
package tierfabric

import "time"

// EntryKind discriminates the three CacheEntry shapes a tier key can hold
// (§3 data model).
type EntryKind int

const (
	// EntryRaw holds the raw bytes of a data item (or bundle member).
	EntryRaw EntryKind = iota
	// EntryMetadata holds (payloadContentType, payloadDataStart) for an
	// item whose raw bytes live elsewhere.
	EntryMetadata
	// EntryNestedOffset describes a data item nested inside a parent
	// bundle: (parentId, parentPayloadStart, startInRawParent, rawLen,
	// contentType, payloadStart).
	EntryNestedOffset
)

// Metadata is the EntryMetadata payload.
type Metadata struct {
	PayloadContentType string
	PayloadDataStart   int64
}

// NestedOffset is the EntryNestedOffset payload: coordinates to slice a
// nested item's bytes out of its already-stored parent bundle.
type NestedOffset struct {
	ParentID           string
	ParentPayloadStart int64
	StartInRawParent   int64
	RawLen             int64
	ContentType        string
	PayloadStart       int64
}

// Entry is a single tier record. Exactly one of Raw, Meta, Nested is
// meaningful, selected by Kind.
type Entry struct {
	Kind     EntryKind
	Raw      []byte
	Meta     Metadata
	Nested   NestedOffset
	TTL      time.Duration
	StoredAt time.Time
}

// KeyState is the per-cache-key lifecycle state machine (§4.C closing
// paragraph): Absent -> Writing -> Committed -> Quarantined -> Absent(TTL).
// TierFabric.State reports the current state for a given id.
type KeyState int

const (
	StateAbsent KeyState = iota
	StateWriting
	StateCommitted
	StateQuarantined
)
