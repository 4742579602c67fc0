// Package memory provides the in-memory tier backend. Entries are kept in
// one ordered index per namespace, which makes it suitable as the hot tier
// of an engine or as the only tier in tests.
package memory

import (
	"bytes"
	"sort"
	"sync"

	"github.com/avollmer/strataKV/lib/tier"
	"github.com/google/btree"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Internal Structures
// --------------------------------------------------------------------------

// btreeDegree is the branching factor of the per-namespace index.
const btreeDegree = 32

// item is one stored versioned entry.
type item struct {
	key       []byte
	value     []byte
	tombstone bool
}

func lessItem(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// table is one namespace: an ordered index guarded by its own lock.
type table struct {
	mu  sync.RWMutex
	idx *btree.BTreeG[item]
}

func newTable() *table {
	return &table{idx: btree.NewG[item](btreeDegree, lessItem)}
}

// memoryTier implements tier.Storage backed by in-process btrees.
type memoryTier struct {
	tables *xsync.MapOf[tier.EntryKind, *table]
}

// New creates an empty in-memory tier.
//
// Thread-safety: the returned storage supports concurrent reads; a Set call
// is atomic with respect to readers of the namespaces it touches.
func New() tier.Storage {
	return &memoryTier{
		tables: xsync.NewMapOf[tier.EntryKind, *table](),
	}
}

// table returns the index for a namespace, creating it on first use.
func (m *memoryTier) table(kind tier.EntryKind) *table {
	t, _ := m.tables.LoadOrCompute(kind, newTable)
	return t
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (m *memoryTier) Set(batches map[tier.EntryKind][]tier.Write) error {
	if len(batches) == 0 {
		return nil
	}

	// Lock all touched namespaces in a fixed order so concurrent Set calls
	// cannot deadlock and readers observe the batch as one unit.
	kinds := make([]tier.EntryKind, 0, len(batches))
	for kind := range batches {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	tables := make([]*table, len(kinds))
	for i, kind := range kinds {
		tables[i] = m.table(kind)
		tables[i].mu.Lock()
	}
	defer func() {
		for _, t := range tables {
			t.mu.Unlock()
		}
	}()

	for i, kind := range kinds {
		applyWrites(tables[i], batches[kind])
	}
	return nil
}

// applyWrites mutates one namespace index. The caller holds the write lock.
func applyWrites(t *table, writes []tier.Write) {
	for _, w := range writes {
		switch w.Kind {
		case tier.WritePut:
			t.idx.ReplaceOrInsert(item{
				key:   append([]byte(nil), w.Key...),
				value: append([]byte(nil), w.Value...),
			})
		case tier.WriteTombstone:
			t.idx.ReplaceOrInsert(item{
				key:       append([]byte(nil), w.Key...),
				tombstone: true,
			})
		case tier.WriteDelete:
			t.idx.Delete(item{key: w.Key})
		}
	}
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

func (m *memoryTier) GetAtVersion(kind tier.EntryKind, key []byte, version tier.CommitVersion) (tier.VersionedValue, error) {
	t, ok := m.tables.Load(kind)
	if !ok {
		return tier.VersionedValue{Status: tier.StatusNotFound}, nil
	}

	// Versions encode descending, so the newest entry at or below the
	// requested version is the first one at or past encode(key, version).
	// Longer keys sharing the prefix can interleave among the version
	// suffixes, so foreign keys are skipped instead of ending the scan.
	pivot := tier.EncodeVersioned(key, version)
	upperBound := tier.EncodeVersioned(key, 0)

	t.mu.RLock()
	defer t.mu.RUnlock()

	result := tier.VersionedValue{Status: tier.StatusNotFound}
	t.idx.AscendGreaterOrEqual(item{key: pivot}, func(it item) bool {
		if bytes.Compare(it.key, upperBound) > 0 {
			return false
		}
		entryKey, entryVersion, ok := tier.DecodeVersioned(it.key)
		if !ok || !bytes.Equal(entryKey, key) {
			return true
		}
		if it.tombstone {
			result = tier.VersionedValue{Status: tier.StatusTombstone, Version: entryVersion}
		} else {
			result = tier.VersionedValue{
				Status:  tier.StatusValue,
				Value:   append([]byte(nil), it.value...),
				Version: entryVersion,
			}
		}
		return false
	})
	return result, nil
}

func (m *memoryTier) RangeNext(kind tier.EntryKind, cursor *tier.Cursor, lower, upper []byte, chunkSize int) ([]tier.RawEntry, error) {
	if cursor.Exhausted || chunkSize <= 0 {
		return nil, nil
	}
	t, ok := m.tables.Load(kind)
	if !ok {
		cursor.Exhausted = true
		return nil, nil
	}

	// Resume strictly past the cursor position, otherwise at the lower bound.
	var pivot []byte
	if cursor.LastKey != nil {
		pivot = append(append([]byte(nil), cursor.LastKey...), 0x00)
	} else {
		pivot = lower
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]tier.RawEntry, 0, chunkSize)
	collect := func(it item) bool {
		if upper != nil && bytes.Compare(it.key, upper) > 0 {
			return false
		}
		entries = append(entries, copyEntry(it))
		return len(entries) < chunkSize
	}
	if pivot != nil {
		t.idx.AscendGreaterOrEqual(item{key: pivot}, collect)
	} else {
		t.idx.Ascend(collect)
	}

	advanceCursor(cursor, entries, chunkSize)
	return entries, nil
}

func (m *memoryTier) RangeRevNext(kind tier.EntryKind, cursor *tier.Cursor, lower, upper []byte, chunkSize int) ([]tier.RawEntry, error) {
	if cursor.Exhausted || chunkSize <= 0 {
		return nil, nil
	}
	t, ok := m.tables.Load(kind)
	if !ok {
		cursor.Exhausted = true
		return nil, nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]tier.RawEntry, 0, chunkSize)
	collect := func(it item) bool {
		// DescendLessOrEqual includes the pivot itself; the cursor
		// position was already returned by the previous chunk.
		if cursor.LastKey != nil && bytes.Equal(it.key, cursor.LastKey) {
			return true
		}
		if lower != nil && bytes.Compare(it.key, lower) < 0 {
			return false
		}
		entries = append(entries, copyEntry(it))
		return len(entries) < chunkSize
	}

	switch {
	case cursor.LastKey != nil:
		t.idx.DescendLessOrEqual(item{key: cursor.LastKey}, collect)
	case upper != nil:
		t.idx.DescendLessOrEqual(item{key: upper}, collect)
	default:
		t.idx.Descend(collect)
	}

	advanceCursor(cursor, entries, chunkSize)
	return entries, nil
}

func (m *memoryTier) Close() error {
	m.tables.Clear()
	return nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func copyEntry(it item) tier.RawEntry {
	return tier.RawEntry{
		Key:       append([]byte(nil), it.key...),
		Value:     append([]byte(nil), it.value...),
		Tombstone: it.tombstone,
	}
}

// advanceCursor records the resume position and marks short chunks exhausted.
func advanceCursor(cursor *tier.Cursor, entries []tier.RawEntry, chunkSize int) {
	if len(entries) > 0 {
		last := entries[len(entries)-1].Key
		cursor.LastKey = append([]byte(nil), last...)
	}
	if len(entries) < chunkSize {
		cursor.Exhausted = true
	}
}
