// Package pebble provides the persistent tier backend on top of a pebble
// LSM store. Namespaces are mapped to a one-byte key prefix and tombstones
// to a one-byte value marker, so one pebble instance holds all namespaces
// of one tier.
package pebble

import (
	"bytes"

	"github.com/avollmer/strataKV/lib/tier"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// --------------------------------------------------------------------------
// Physical Layout
// --------------------------------------------------------------------------
//
// key   = [1 byte namespace][versioned key]
// value = [1 byte marker][payload]         marker 0 = value, 1 = tombstone

const (
	markerValue     byte = 0
	markerTombstone byte = 1
)

// physKey prefixes a versioned key with its namespace byte.
func physKey(kind tier.EntryKind, versionedKey []byte) []byte {
	out := make([]byte, 1+len(versionedKey))
	out[0] = byte(kind)
	copy(out[1:], versionedKey)
	return out
}

// keyAfter returns the smallest key strictly greater than k, used to turn
// an inclusive bound into pebble's exclusive upper bound.
func keyAfter(k []byte) []byte {
	return append(append([]byte(nil), k...), 0x00)
}

// namespaceEnd returns the exclusive upper bound of a whole namespace.
func namespaceEnd(kind tier.EntryKind) []byte {
	return []byte{byte(kind) + 1}
}

// --------------------------------------------------------------------------
// Tier Implementation
// --------------------------------------------------------------------------

// pebbleTier implements tier.Storage on a single pebble database.
type pebbleTier struct {
	db *pebble.DB
}

// New opens (or creates) a persistent tier at the given directory.
func New(dir string) (tier.Storage, error) {
	return open(dir, nil)
}

// NewMem opens a tier on an in-memory filesystem. Intended for tests.
func NewMem() (tier.Storage, error) {
	return open("", vfs.NewMem())
}

func open(dir string, fs vfs.FS) (tier.Storage, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, err
	}
	return &pebbleTier{db: db}, nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (p *pebbleTier) Set(batches map[tier.EntryKind][]tier.Write) error {
	if len(batches) == 0 {
		return nil
	}

	batch := p.db.NewBatch()
	defer batch.Close()

	for kind, writes := range batches {
		for _, w := range writes {
			key := physKey(kind, w.Key)
			switch w.Kind {
			case tier.WritePut:
				value := make([]byte, 1+len(w.Value))
				value[0] = markerValue
				copy(value[1:], w.Value)
				if err := batch.Set(key, value, nil); err != nil {
					return err
				}
			case tier.WriteTombstone:
				if err := batch.Set(key, []byte{markerTombstone}, nil); err != nil {
					return err
				}
			case tier.WriteDelete:
				if err := batch.Delete(key, nil); err != nil {
					return err
				}
			}
		}
	}

	return batch.Commit(pebble.Sync)
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

func (p *pebbleTier) GetAtVersion(kind tier.EntryKind, key []byte, version tier.CommitVersion) (tier.VersionedValue, error) {
	// Versions encode descending: the newest entry at or below the
	// requested version is the first match at or past encode(key, version).
	iter := p.db.NewIter(&pebble.IterOptions{
		LowerBound: physKey(kind, tier.EncodeVersioned(key, version)),
		UpperBound: keyAfter(physKey(kind, tier.EncodeVersioned(key, 0))),
	})
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		entryKey, entryVersion, ok := tier.DecodeVersioned(iter.Key()[1:])
		if !ok || !bytes.Equal(entryKey, key) {
			// Longer keys sharing the prefix interleave among the
			// version suffixes; skip them.
			continue
		}
		value := iter.Value()
		if len(value) == 0 || value[0] == markerTombstone {
			return tier.VersionedValue{Status: tier.StatusTombstone, Version: entryVersion}, iter.Error()
		}
		return tier.VersionedValue{
			Status:  tier.StatusValue,
			Value:   append([]byte(nil), value[1:]...),
			Version: entryVersion,
		}, iter.Error()
	}
	if err := iter.Error(); err != nil {
		return tier.VersionedValue{}, err
	}
	return tier.VersionedValue{Status: tier.StatusNotFound}, nil
}

func (p *pebbleTier) RangeNext(kind tier.EntryKind, cursor *tier.Cursor, lower, upper []byte, chunkSize int) ([]tier.RawEntry, error) {
	if cursor.Exhausted || chunkSize <= 0 {
		return nil, nil
	}

	// Resume strictly past the cursor position, otherwise at the lower bound.
	start := []byte{byte(kind)}
	if cursor.LastKey != nil {
		start = keyAfter(physKey(kind, cursor.LastKey))
	} else if lower != nil {
		start = physKey(kind, lower)
	}
	end := namespaceEnd(kind)
	if upper != nil {
		end = keyAfter(physKey(kind, upper))
	}

	iter := p.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	defer iter.Close()

	entries := make([]tier.RawEntry, 0, chunkSize)
	for iter.First(); iter.Valid() && len(entries) < chunkSize; iter.Next() {
		entries = append(entries, rawEntry(iter))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	advanceCursor(cursor, entries, chunkSize)
	return entries, nil
}

func (p *pebbleTier) RangeRevNext(kind tier.EntryKind, cursor *tier.Cursor, lower, upper []byte, chunkSize int) ([]tier.RawEntry, error) {
	if cursor.Exhausted || chunkSize <= 0 {
		return nil, nil
	}

	start := []byte{byte(kind)}
	if lower != nil {
		start = physKey(kind, lower)
	}
	// Resume strictly below the cursor position, otherwise at the upper bound.
	end := namespaceEnd(kind)
	if cursor.LastKey != nil {
		end = physKey(kind, cursor.LastKey)
	} else if upper != nil {
		end = keyAfter(physKey(kind, upper))
	}

	iter := p.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	defer iter.Close()

	entries := make([]tier.RawEntry, 0, chunkSize)
	for iter.Last(); iter.Valid() && len(entries) < chunkSize; iter.Prev() {
		entries = append(entries, rawEntry(iter))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	advanceCursor(cursor, entries, chunkSize)
	return entries, nil
}

func (p *pebbleTier) Close() error {
	return p.db.Close()
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func rawEntry(iter *pebble.Iterator) tier.RawEntry {
	key := append([]byte(nil), iter.Key()[1:]...)
	value := iter.Value()
	if len(value) == 0 || value[0] == markerTombstone {
		return tier.RawEntry{Key: key, Tombstone: true}
	}
	return tier.RawEntry{Key: key, Value: append([]byte(nil), value[1:]...)}
}

// advanceCursor records the resume position and marks short chunks exhausted.
func advanceCursor(cursor *tier.Cursor, entries []tier.RawEntry, chunkSize int) {
	if len(entries) > 0 {
		cursor.LastKey = append([]byte(nil), entries[len(entries)-1].Key...)
	}
	if len(entries) < chunkSize {
		cursor.Exhausted = true
	}
}
