package store

import (
	"bytes"
	"sort"

	"github.com/avollmer/strataKV/lib/tier"
)

// --------------------------------------------------------------------------
// Version Reclamation
// --------------------------------------------------------------------------

// dropScanChunkSize is the number of versioned entries fetched per chunk
// while enumerating a key's versions.
const dropScanChunkSize = 1024

// dropEntry is one physical entry selected for purging, tagged with the
// tier that owns it so the deletion lands in the right batch.
type dropEntry struct {
	tierIdx      int
	versionedKey []byte
	version      tier.CommitVersion
	valueBytes   int
}

// findEntriesToDrop enumerates the versioned entries of one logical key
// across all present tiers and selects the ones to purge.
//
// Constraint semantics (AND-combined when both are set):
//   - upToVersion: only versions strictly below the threshold are candidates
//   - keepLastVersions: the N most recent versions are always protected
//   - both nil: every version is purged
//
// pendingVersion names a write of the same key in the in-flight commit. It
// counts as an additional live version for retention and is never dropped,
// which prevents a race where the scan runs before the pending write lands.
func (s *Store) findEntriesToDrop(
	kind tier.EntryKind,
	key []byte,
	upToVersion *tier.CommitVersion,
	keepLastVersions *int,
	pendingVersion *tier.CommitVersion,
) ([]dropEntry, error) {
	lower, upper := tier.KeyVersionBounds(key)

	// Enumerate every version of the key, in every tier
	var entries []dropEntry
	seen := make(map[tier.CommitVersion]struct{})
	for i, t := range s.tiers {
		if t == nil {
			continue
		}
		var cursor tier.Cursor
		for !cursor.Exhausted {
			chunk, err := t.RangeNext(kind, &cursor, lower, upper, dropScanChunkSize)
			if err != nil {
				return nil, WrapError(RetCInternalError, "drop scan failed", err)
			}
			for _, raw := range chunk {
				entryKey, entryVersion, ok := tier.DecodeVersioned(raw.Key)
				if !ok || !bytes.Equal(entryKey, key) {
					// Malformed or prefix-sharing foreign entry
					continue
				}
				entries = append(entries, dropEntry{
					tierIdx:      i,
					versionedKey: raw.Key,
					version:      entryVersion,
					valueBytes:   len(raw.Value),
				})
				seen[entryVersion] = struct{}{}
			}
		}
	}

	// The pending write is not in storage yet but counts toward retention
	if pendingVersion != nil {
		if _, dup := seen[*pendingVersion]; !dup {
			entries = append(entries, dropEntry{
				tierIdx: -1,
				version: *pendingVersion,
			})
		}
	}

	if len(entries) == 0 {
		return nil, nil
	}

	// Rank versions newest first. The same version may exist in several
	// tiers; it occupies one retention slot and all of its physical
	// entries share one fate.
	versions := make([]tier.CommitVersion, 0, len(seen)+1)
	for v := range seen {
		versions = append(versions, v)
	}
	if pendingVersion != nil {
		if _, dup := seen[*pendingVersion]; !dup {
			versions = append(versions, *pendingVersion)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })

	dropVersion := make(map[tier.CommitVersion]bool, len(versions))
	for idx, v := range versions {
		var drop bool
		switch {
		case upToVersion == nil && keepLastVersions == nil:
			drop = true
		case upToVersion != nil && keepLastVersions == nil:
			drop = v < *upToVersion
		case upToVersion == nil && keepLastVersions != nil:
			drop = idx >= *keepLastVersions
		default:
			drop = v < *upToVersion && idx >= *keepLastVersions
		}
		if drop && pendingVersion != nil && v == *pendingVersion {
			// The version being written in this commit is never dropped
			drop = false
		}
		dropVersion[v] = drop
	}

	out := make([]dropEntry, 0, len(entries))
	for _, e := range entries {
		if e.tierIdx < 0 {
			continue // pending placeholder, nothing physical to delete
		}
		if dropVersion[e.version] {
			out = append(out, e)
		}
	}
	return out, nil
}
