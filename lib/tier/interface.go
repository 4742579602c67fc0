// Package tier defines the storage capability implemented by each physical
// tier (hot/warm/cold) of the engine, plus the versioned key codec shared by
// every backend. A tier stores raw versioned entries; all multi-version
// semantics (version resolution, merging, retention) live above it.
package tier

// --------------------------------------------------------------------------
// Core Types
// --------------------------------------------------------------------------

// CommitVersion is the monotonically increasing 64-bit version assigned to
// each commit by an external authority. Versions are never reused.
type CommitVersion uint64

// MaxVersion is the highest possible commit version. It encodes to the
// byte-lexicographically smallest version suffix (see keycodec.go).
const MaxVersion = CommitVersion(^uint64(0))

// EntryKind is the tier-local namespace tag a logical key is routed into.
// The same key always lands in the same namespace on both the write and the
// read path.
type EntryKind uint8

const (
	// KindMulti holds regular multi-version user data.
	KindMulti EntryKind = iota
	// KindSystem holds single-version-semantics engine state
	// (consumer checkpoints and similar ephemeral keys).
	KindSystem
	// KindCDC holds the derived change log, one entry per commit.
	KindCDC
)

// String returns a human-readable name for the entry kind.
func (k EntryKind) String() string {
	switch k {
	case KindMulti:
		return "multi"
	case KindSystem:
		return "system"
	case KindCDC:
		return "cdc"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Write Types
// --------------------------------------------------------------------------

// WriteKind selects what a single Write does to a versioned entry.
type WriteKind uint8

const (
	// WritePut stores a value for a versioned key.
	WritePut WriteKind = iota
	// WriteTombstone stores an explicit deleted-at-this-version marker.
	// A tombstone is distinct from the absence of any entry.
	WriteTombstone
	// WriteDelete physically purges a versioned entry. Used by retention
	// drops; readers can no longer observe the purged version.
	WriteDelete
)

// Write is one mutation of a versioned entry inside a tier. Key is the full
// versioned key (logical key + encoded version), produced by EncodeVersioned.
type Write struct {
	Key   []byte
	Value []byte // ignored for WriteTombstone and WriteDelete
	Kind  WriteKind
}

// --------------------------------------------------------------------------
// Read Types
// --------------------------------------------------------------------------

// ValueStatus reports the outcome of a versioned point lookup.
type ValueStatus uint8

const (
	// StatusNotFound means no entry exists at or below the requested version.
	StatusNotFound ValueStatus = iota
	// StatusValue means a live value was found.
	StatusValue
	// StatusTombstone means the most recent entry at or below the requested
	// version is a deletion marker.
	StatusTombstone
)

// VersionedValue is the result of GetAtVersion. Version is the version the
// resolved entry was written at, which may be lower than the requested one.
type VersionedValue struct {
	Status  ValueStatus
	Value   []byte
	Version CommitVersion
}

// RawEntry is one physical versioned entry returned by a chunked range scan.
// Key is the full versioned key; decoding is the caller's concern.
type RawEntry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Cursor tracks the resume position of a chunked range scan within one tier.
// A cursor is owned exclusively by the caller of a range operation and must
// never be shared across goroutines.
type Cursor struct {
	// LastKey is the versioned key of the last entry returned by the
	// previous chunk, or nil if the scan has not started. The next chunk
	// resumes strictly past it.
	LastKey []byte
	// Exhausted is set once the tier has no further entries in range.
	Exhausted bool
}

// --------------------------------------------------------------------------
// Storage Interface
// --------------------------------------------------------------------------

// Storage is the capability each physical tier implements. Bounds passed to
// the range methods are full versioned keys and are inclusive on both ends;
// nil means unbounded.
//
// Thread-safety: implementations must support concurrent reads and must apply
// a single Set call as one atomic unit with respect to concurrent readers.
type Storage interface {
	// GetAtVersion resolves the most recent entry for the logical key with
	// a version at or below the requested one.
	GetAtVersion(kind EntryKind, key []byte, version CommitVersion) (VersionedValue, error)

	// RangeNext returns the next chunk of raw entries in ascending key
	// order, resuming from the cursor. At most chunkSize entries are
	// returned; a short chunk marks the cursor exhausted.
	RangeNext(kind EntryKind, cursor *Cursor, lower, upper []byte, chunkSize int) ([]RawEntry, error)

	// RangeRevNext is RangeNext in descending key order.
	RangeRevNext(kind EntryKind, cursor *Cursor, lower, upper []byte, chunkSize int) ([]RawEntry, error)

	// Set applies all writes, grouped by namespace, as one atomic unit.
	Set(batches map[EntryKind][]Write) error

	// Close releases all resources held by the tier.
	Close() error
}
