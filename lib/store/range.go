package store

import (
	"bytes"
	"sort"

	"github.com/avollmer/strataKV/lib/tier"
)

// --------------------------------------------------------------------------
// Range Scan Engine
// --------------------------------------------------------------------------

// tierScanChunkSize is the number of versioned entries fetched per tier per
// merge iteration.
const tierScanChunkSize = 4096

// collectedEntry is the per-logical-key merge state: the highest visible
// version wins; tombstoned winners are filtered at delivery.
type collectedEntry struct {
	version   tier.CommitVersion
	value     []byte
	tombstone bool
}

// RangeCursor tracks a cross-tier scan. Each tier advances independently;
// merged entries that cannot be delivered yet (the batch was full, or a
// slower tier may still hold a higher version of the key) are carried to
// the next batch, so no key is lost or duplicated regardless of batch size.
//
// Thread-safety: a cursor is owned exclusively by one scan and must not be
// shared across goroutines.
type RangeCursor struct {
	tiers     [numTiers]tier.Cursor
	carry     map[string]collectedEntry
	exhausted bool
}

// Exhausted reports whether every tier has been fully consumed. Carried
// entries may still be pending delivery.
func (c *RangeCursor) Exhausted() bool {
	return c.exhausted
}

// drained reports whether the scan can produce no further items.
func (c *RangeCursor) drained() bool {
	return c.exhausted && len(c.carry) == 0
}

// rangeNext fetches the next batch of at most batchSize unique logical keys
// within [lowerKey, upperKey] (inclusive, nil = unbounded) visible at the
// snapshot version.
//
// A key is only delivered once every tier has scanned past all of its
// possible versions (the scan frontier); until then it waits in the carry
// map. This keeps batches duplicate-free and complete even when tiers
// advance at different speeds.
func (s *Store) rangeNext(
	cursor *RangeCursor,
	lowerKey, upperKey []byte,
	version tier.CommitVersion,
	batchSize int,
	reverse bool,
) (items []MultiVersionValues, hasMore bool, err error) {
	if batchSize <= 0 || cursor.drained() {
		return nil, false, nil
	}
	if cursor.carry == nil {
		cursor.carry = make(map[string]collectedEntry)
	}

	kind := ClassifyRange(lowerKey, upperKey)
	lower, upper := tier.RangeScanBounds(lowerKey, upperKey)

	var keys []string
	var deliverable int
	for {
		keys = sortedKeys(cursor.carry, reverse)
		deliverable = s.deliverableCount(cursor, keys, reverse)
		if deliverable >= batchSize || cursor.exhausted {
			break
		}

		anyProgress := false
		for i, t := range s.tiers {
			if t == nil || cursor.tiers[i].Exhausted {
				continue
			}
			var chunk []tier.RawEntry
			if reverse {
				chunk, err = t.RangeRevNext(kind, &cursor.tiers[i], lower, upper, tierScanChunkSize)
			} else {
				chunk, err = t.RangeNext(kind, &cursor.tiers[i], lower, upper, tierScanChunkSize)
			}
			if err != nil {
				return nil, false, WrapError(RetCInternalError, "tier range scan failed", err)
			}
			if len(chunk) == 0 {
				continue
			}
			anyProgress = true
			mergeChunk(chunk, version, lowerKey, upperKey, cursor.carry)
		}

		if !anyProgress {
			cursor.exhausted = true
		}
	}

	if deliverable > batchSize {
		deliverable = batchSize
	}

	items = make([]MultiVersionValues, 0, deliverable)
	for _, k := range keys[:deliverable] {
		e := cursor.carry[k]
		delete(cursor.carry, k)
		if e.tombstone {
			continue
		}
		items = append(items, MultiVersionValues{
			Key:     []byte(k),
			Value:   e.value,
			Version: e.version,
		})
	}

	hasMore = len(items) >= batchSize || !cursor.drained()
	return items, hasMore, nil
}

// mergeChunk folds one tier chunk into the carry map, keeping only the
// highest visible version per logical key.
func mergeChunk(
	chunk []tier.RawEntry,
	version tier.CommitVersion,
	lowerKey, upperKey []byte,
	carry map[string]collectedEntry,
) {
	for _, raw := range chunk {
		key, entryVersion, ok := tier.DecodeVersioned(raw.Key)
		if !ok {
			// Malformed encodings are skipped, not fatal
			continue
		}
		if entryVersion > version {
			continue
		}
		if lowerKey != nil && bytes.Compare(key, lowerKey) < 0 {
			continue
		}
		if upperKey != nil && bytes.Compare(key, upperKey) > 0 {
			continue
		}

		existing, seen := carry[string(key)]
		if seen && entryVersion <= existing.version {
			continue
		}
		carry[string(key)] = collectedEntry{
			version:   entryVersion,
			value:     raw.Value,
			tombstone: raw.Tombstone,
		}
	}
}

// sortedKeys orders the carried logical keys per scan direction.
func sortedKeys(carry map[string]collectedEntry, reverse bool) []string {
	keys := make([]string, 0, len(carry))
	for k := range carry {
		keys = append(keys, k)
	}
	if reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	} else {
		sort.Strings(keys)
	}
	return keys
}

// deliverableCount returns how many of the sorted keys, from the front, lie
// fully behind the scan frontier. Delivery stops at the first key a tier
// could still hold an unscanned version of; keys after it wait even when
// they themselves are fully scanned, preserving output order.
func (s *Store) deliverableCount(cursor *RangeCursor, keys []string, reverse bool) int {
	frontier, bounded := s.scanFrontier(cursor, reverse)
	if !bounded {
		return len(keys)
	}

	count := 0
	for _, k := range keys {
		if !keyFullyScanned([]byte(k), frontier, reverse) {
			break
		}
		count++
	}
	return count
}

// scanFrontier is the most conservative position among the tiers that are
// still scanning. Entries at or before the frontier (in scan direction)
// have been seen by every tier. bounded is false once all tiers finished.
func (s *Store) scanFrontier(cursor *RangeCursor, reverse bool) (frontier []byte, bounded bool) {
	for i := range cursor.tiers {
		c := &cursor.tiers[i]
		if s.tiers[i] == nil || c.Exhausted {
			continue
		}
		if !bounded {
			frontier = c.LastKey
			bounded = true
			continue
		}
		// The least-advanced cursor bounds the frontier: the smallest
		// position for forward scans, the largest for reverse scans.
		if reverse {
			if bytes.Compare(c.LastKey, frontier) > 0 {
				frontier = c.LastKey
			}
		} else {
			if bytes.Compare(c.LastKey, frontier) < 0 {
				frontier = c.LastKey
			}
		}
	}
	return frontier, bounded
}

// keyFullyScanned reports whether every possible version encoding of the
// key lies behind the frontier.
func keyFullyScanned(key, frontier []byte, reverse bool) bool {
	if reverse {
		// A reverse scan has covered the key once it passed the key's
		// smallest (newest-version) encoding.
		return bytes.Compare(tier.EncodeVersioned(key, tier.MaxVersion), frontier) >= 0
	}
	// A forward scan has covered the key once it passed the key's
	// largest (oldest-version) encoding.
	return bytes.Compare(tier.EncodeVersioned(key, 0), frontier) <= 0
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

// Iterator is a single-threaded, pull-based range iterator. It drains one
// fetched batch at a time and transparently re-fetches when drained.
// Iterators are not restartable after an error; reissue the query instead.
type Iterator struct {
	store     *Store
	cursor    RangeCursor
	lowerKey  []byte
	upperKey  []byte
	version   tier.CommitVersion
	batchSize int
	reverse   bool

	batch []MultiVersionValues
	idx   int
	item  MultiVersionValues
	err   error
}

// Next advances to the next entry. It returns false once the scan is
// drained or an error occurred.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}

	for {
		if it.idx < len(it.batch) {
			it.item = it.batch[it.idx]
			it.idx++
			return true
		}
		if it.cursor.drained() {
			return false
		}

		items, _, err := it.store.rangeNext(
			&it.cursor, it.lowerKey, it.upperKey, it.version, it.batchSize, it.reverse)
		if err != nil {
			it.err = err
			return false
		}
		it.batch = items
		it.idx = 0
		// An all-tombstone batch can be empty with the scan still
		// open; keep fetching until data or exhaustion.
	}
}

// Value returns the entry the iterator currently points at.
func (it *Iterator) Value() MultiVersionValues {
	return it.item
}

// Err returns the error that terminated iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}
