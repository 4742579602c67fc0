package store

import "github.com/avollmer/strataKV/lib/tier"

// --------------------------------------------------------------------------
// Delta Model
// --------------------------------------------------------------------------

// DeltaOp discriminates the three mutation intents a commit may carry.
type DeltaOp uint8

const (
	// OpSet inserts or replaces the value of a key at the commit version.
	OpSet DeltaOp = iota
	// OpRemove writes a tombstone for a key at the commit version.
	OpRemove
	// OpDrop purges historical versions of a key. It is a structural
	// retention directive: no tombstone is written and no CDC change is
	// derived from it.
	OpDrop
)

// Delta is one key-level mutation submitted as part of a commit. It is
// produced once by the caller and consumed exactly once by Commit.
type Delta struct {
	Op    DeltaOp
	Key   []byte
	Value []byte // OpSet only

	// Drop constraints. Both nil purges every version. When both are set
	// they combine with AND semantics: a version is dropped only if it is
	// below UpToVersion and outside the KeepLastVersions most recent ones.
	UpToVersion      *tier.CommitVersion
	KeepLastVersions *int
}

// NewSet creates a value mutation.
func NewSet(key, value []byte) Delta {
	return Delta{Op: OpSet, Key: key, Value: value}
}

// NewRemove creates a deletion mutation.
func NewRemove(key []byte) Delta {
	return Delta{Op: OpRemove, Key: key}
}

// NewDrop creates a retention directive. Either constraint may be nil.
func NewDrop(key []byte, upToVersion *tier.CommitVersion, keepLastVersions *int) Delta {
	return Delta{
		Op:               OpDrop,
		Key:              key,
		UpToVersion:      upToVersion,
		KeepLastVersions: keepLastVersions,
	}
}

// --------------------------------------------------------------------------
// Read-Path Results
// --------------------------------------------------------------------------

// MultiVersionValues is the read-path result: the value of a key together
// with the version it was written at.
type MultiVersionValues struct {
	Key     []byte
	Value   []byte
	Version tier.CommitVersion
}

// PreviousVersionInfo describes the most recent prior committed state of a
// key, resolved once per commit for stats and CDC linkage.
type PreviousVersionInfo struct {
	Version    tier.CommitVersion
	KeyBytes   int
	ValueBytes int
}
