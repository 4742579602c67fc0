package store

import (
	"bytes"

	"github.com/avollmer/strataKV/lib/tier"
)

// --------------------------------------------------------------------------
// Key Router
// --------------------------------------------------------------------------
//
// Pure, deterministic classification of logical keys into tier-local
// namespaces, used identically on the write and read paths so a key always
// lands in the same namespace.

var (
	sysPrefix = []byte("!sys!")
	cdcPrefix = []byte("!cdc!")
)

// Classify routes a logical key into its namespace.
func Classify(key []byte) tier.EntryKind {
	switch {
	case bytes.HasPrefix(key, sysPrefix):
		return tier.KindSystem
	case bytes.HasPrefix(key, cdcPrefix):
		return tier.KindCDC
	default:
		return tier.KindMulti
	}
}

// ClassifyRange routes a logical key range by its start key. Unbounded
// starts fall back to the regular namespace.
func ClassifyRange(lower, upper []byte) tier.EntryKind {
	if lower != nil {
		return Classify(lower)
	}
	if upper != nil {
		return Classify(upper)
	}
	return tier.KindMulti
}

// IsSingleVersionKey reports whether a key has single-version semantics:
// its readers only ever need the latest value, so older versions are
// reclaimed aggressively by the drop worker. This is the default predicate;
// callers may override it via Options.
func IsSingleVersionKey(key []byte) bool {
	return bytes.HasPrefix(key, sysPrefix)
}
