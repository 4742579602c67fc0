// Package tiertest provides a shared conformance test suite that every
// tier.Storage backend must pass.
package tiertest

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/avollmer/strataKV/lib/tier"
)

// StorageFactory creates a fresh, empty storage instance for one test.
type StorageFactory func(t *testing.T) tier.Storage

// RunStorageTests runs the full conformance suite against a backend.
func RunStorageTests(t *testing.T, name string, factory StorageFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("GetAtVersion", func(t *testing.T) {
			testGetAtVersion(t, factory(t))
		})

		t.Run("Tombstone", func(t *testing.T) {
			testTombstone(t, factory(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(t))
		})

		t.Run("NamespaceIsolation", func(t *testing.T) {
			testNamespaceIsolation(t, factory(t))
		})

		t.Run("PrefixKeys", func(t *testing.T) {
			testPrefixKeys(t, factory(t))
		})

		t.Run("RangeNext", func(t *testing.T) {
			testRangeNext(t, factory(t))
		})

		t.Run("RangeRevNext", func(t *testing.T) {
			testRangeRevNext(t, factory(t))
		})

		t.Run("RangeBounds", func(t *testing.T) {
			testRangeBounds(t, factory(t))
		})

		t.Run("CursorResume", func(t *testing.T) {
			testCursorResume(t, factory(t))
		})

		t.Run("AtomicBatch", func(t *testing.T) {
			testAtomicBatch(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func mustSet(t *testing.T, s tier.Storage, kind tier.EntryKind, writes ...tier.Write) {
	t.Helper()
	if err := s.Set(map[tier.EntryKind][]tier.Write{kind: writes}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
}

func put(key []byte, version tier.CommitVersion, value string) tier.Write {
	return tier.Write{Key: tier.EncodeVersioned(key, version), Value: []byte(value), Kind: tier.WritePut}
}

func tombstone(key []byte, version tier.CommitVersion) tier.Write {
	return tier.Write{Key: tier.EncodeVersioned(key, version), Kind: tier.WriteTombstone}
}

func del(key []byte, version tier.CommitVersion) tier.Write {
	return tier.Write{Key: tier.EncodeVersioned(key, version), Kind: tier.WriteDelete}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testGetAtVersion(t *testing.T, s tier.Storage) {
	defer s.Close()

	key := []byte("user/1")
	mustSet(t, s, tier.KindMulti,
		put(key, 10, "v10"),
		put(key, 20, "v20"),
		put(key, 30, "v30"),
	)

	cases := []struct {
		version tier.CommitVersion
		status  tier.ValueStatus
		value   string
		at      tier.CommitVersion
	}{
		{5, tier.StatusNotFound, "", 0},
		{10, tier.StatusValue, "v10", 10},
		{15, tier.StatusValue, "v10", 10},
		{20, tier.StatusValue, "v20", 20},
		{25, tier.StatusValue, "v20", 20},
		{30, tier.StatusValue, "v30", 30},
		{tier.MaxVersion, tier.StatusValue, "v30", 30},
	}

	for _, c := range cases {
		got, err := s.GetAtVersion(tier.KindMulti, key, c.version)
		if err != nil {
			t.Fatalf("GetAtVersion(%d) failed: %v", c.version, err)
		}
		if got.Status != c.status {
			t.Errorf("GetAtVersion(%d): status %d, want %d", c.version, got.Status, c.status)
			continue
		}
		if c.status == tier.StatusValue {
			if string(got.Value) != c.value {
				t.Errorf("GetAtVersion(%d): value %q, want %q", c.version, got.Value, c.value)
			}
			if got.Version != c.at {
				t.Errorf("GetAtVersion(%d): resolved version %d, want %d", c.version, got.Version, c.at)
			}
		}
	}

	// Unknown key
	got, err := s.GetAtVersion(tier.KindMulti, []byte("missing"), tier.MaxVersion)
	if err != nil {
		t.Fatalf("GetAtVersion failed: %v", err)
	}
	if got.Status != tier.StatusNotFound {
		t.Errorf("expected NotFound for unknown key, got status %d", got.Status)
	}
}

func testTombstone(t *testing.T, s tier.Storage) {
	defer s.Close()

	key := []byte("doomed")
	mustSet(t, s, tier.KindMulti, put(key, 1, "alive"))
	mustSet(t, s, tier.KindMulti, tombstone(key, 2))

	// At version 1 the value is still visible
	got, err := s.GetAtVersion(tier.KindMulti, key, 1)
	if err != nil {
		t.Fatalf("GetAtVersion failed: %v", err)
	}
	if got.Status != tier.StatusValue || string(got.Value) != "alive" {
		t.Errorf("expected live value at version 1, got status %d value %q", got.Status, got.Value)
	}

	// At version 2 and above the tombstone wins
	got, err = s.GetAtVersion(tier.KindMulti, key, 2)
	if err != nil {
		t.Fatalf("GetAtVersion failed: %v", err)
	}
	if got.Status != tier.StatusTombstone {
		t.Errorf("expected tombstone at version 2, got status %d", got.Status)
	}
	if got.Version != 2 {
		t.Errorf("expected tombstone version 2, got %d", got.Version)
	}
}

func testDelete(t *testing.T, s tier.Storage) {
	defer s.Close()

	key := []byte("purged")
	mustSet(t, s, tier.KindMulti, put(key, 1, "old"), put(key, 2, "new"))

	// Physically remove version 1; version 2 must survive
	mustSet(t, s, tier.KindMulti, del(key, 1))

	got, err := s.GetAtVersion(tier.KindMulti, key, 1)
	if err != nil {
		t.Fatalf("GetAtVersion failed: %v", err)
	}
	if got.Status != tier.StatusNotFound {
		t.Errorf("expected NotFound after delete, got status %d", got.Status)
	}

	got, err = s.GetAtVersion(tier.KindMulti, key, 2)
	if err != nil {
		t.Fatalf("GetAtVersion failed: %v", err)
	}
	if got.Status != tier.StatusValue || string(got.Value) != "new" {
		t.Errorf("expected surviving version 2, got status %d value %q", got.Status, got.Value)
	}
}

func testNamespaceIsolation(t *testing.T, s tier.Storage) {
	defer s.Close()

	key := []byte("shared-name")
	mustSet(t, s, tier.KindMulti, put(key, 1, "multi"))
	mustSet(t, s, tier.KindSystem, put(key, 1, "system"))

	got, err := s.GetAtVersion(tier.KindMulti, key, 1)
	if err != nil {
		t.Fatalf("GetAtVersion failed: %v", err)
	}
	if string(got.Value) != "multi" {
		t.Errorf("multi namespace returned %q", got.Value)
	}

	got, err = s.GetAtVersion(tier.KindSystem, key, 1)
	if err != nil {
		t.Fatalf("GetAtVersion failed: %v", err)
	}
	if string(got.Value) != "system" {
		t.Errorf("system namespace returned %q", got.Value)
	}

	got, err = s.GetAtVersion(tier.KindCDC, key, 1)
	if err != nil {
		t.Fatalf("GetAtVersion failed: %v", err)
	}
	if got.Status != tier.StatusNotFound {
		t.Errorf("cdc namespace should be empty, got status %d", got.Status)
	}
}

// testPrefixKeys covers version resolution when a longer key shares the
// shorter key's bytes and its entries interleave among the version suffixes.
func testPrefixKeys(t *testing.T, s tier.Storage) {
	defer s.Close()

	short := []byte("a")
	long := []byte("ab")
	mustSet(t, s, tier.KindMulti,
		put(short, 3, "short-3"),
		put(long, 5, "long-5"),
	)

	got, err := s.GetAtVersion(tier.KindMulti, short, tier.MaxVersion)
	if err != nil {
		t.Fatalf("GetAtVersion failed: %v", err)
	}
	if got.Status != tier.StatusValue || string(got.Value) != "short-3" {
		t.Errorf("short key resolved to status %d value %q", got.Status, got.Value)
	}

	got, err = s.GetAtVersion(tier.KindMulti, long, tier.MaxVersion)
	if err != nil {
		t.Fatalf("GetAtVersion failed: %v", err)
	}
	if got.Status != tier.StatusValue || string(got.Value) != "long-5" {
		t.Errorf("long key resolved to status %d value %q", got.Status, got.Value)
	}
}

func testRangeNext(t *testing.T, s tier.Storage) {
	defer s.Close()

	var writes []tier.Write
	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("key-%02d", i))
		writes = append(writes, put(key, 1, fmt.Sprintf("value-%02d", i)))
	}
	mustSet(t, s, tier.KindMulti, writes...)

	var cursor tier.Cursor
	entries, err := s.RangeNext(tier.KindMulti, &cursor, nil, nil, 100)
	if err != nil {
		t.Fatalf("RangeNext failed: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(entries))
	}
	if !cursor.Exhausted {
		t.Error("expected cursor to be exhausted after short chunk")
	}
	for i := 1; i < len(entries); i++ {
		if bytes.Compare(entries[i-1].Key, entries[i].Key) >= 0 {
			t.Fatal("entries not in ascending key order")
		}
	}

	// Exhausted cursor yields nothing
	entries, err = s.RangeNext(tier.KindMulti, &cursor, nil, nil, 100)
	if err != nil {
		t.Fatalf("RangeNext failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("exhausted cursor returned %d entries", len(entries))
	}
}

func testRangeRevNext(t *testing.T, s tier.Storage) {
	defer s.Close()

	var writes []tier.Write
	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("key-%02d", i))
		writes = append(writes, put(key, 1, fmt.Sprintf("value-%02d", i)))
	}
	mustSet(t, s, tier.KindMulti, writes...)

	var cursor tier.Cursor
	entries, err := s.RangeRevNext(tier.KindMulti, &cursor, nil, nil, 100)
	if err != nil {
		t.Fatalf("RangeRevNext failed: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(entries))
	}
	if !cursor.Exhausted {
		t.Error("expected cursor to be exhausted after short chunk")
	}
	for i := 1; i < len(entries); i++ {
		if bytes.Compare(entries[i-1].Key, entries[i].Key) <= 0 {
			t.Fatal("entries not in descending key order")
		}
	}
}

func testRangeBounds(t *testing.T, s tier.Storage) {
	defer s.Close()

	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}
	var writes []tier.Write
	for _, key := range keys {
		writes = append(writes, put(key, 1, string(key)))
	}
	mustSet(t, s, tier.KindMulti, writes...)

	lower, upper := tier.RangeScanBounds([]byte("b"), []byte("c"))

	var cursor tier.Cursor
	entries, err := s.RangeNext(tier.KindMulti, &cursor, lower, upper, 100)
	if err != nil {
		t.Fatalf("RangeNext failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries within bounds, got %d", len(entries))
	}
	for i, want := range []string{"b", "c"} {
		key, _, ok := tier.DecodeVersioned(entries[i].Key)
		if !ok || string(key) != want {
			t.Errorf("entry %d: got key %q, want %q", i, key, want)
		}
	}

	var revCursor tier.Cursor
	entries, err = s.RangeRevNext(tier.KindMulti, &revCursor, lower, upper, 100)
	if err != nil {
		t.Fatalf("RangeRevNext failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 reverse entries within bounds, got %d", len(entries))
	}
	for i, want := range []string{"c", "b"} {
		key, _, ok := tier.DecodeVersioned(entries[i].Key)
		if !ok || string(key) != want {
			t.Errorf("reverse entry %d: got key %q, want %q", i, key, want)
		}
	}
}

func testCursorResume(t *testing.T, s tier.Storage) {
	defer s.Close()

	const total = 25
	var writes []tier.Write
	for i := 0; i < total; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		writes = append(writes, put(key, 1, "v"))
	}
	mustSet(t, s, tier.KindMulti, writes...)

	// Drain in small chunks; every entry must appear exactly once, in order
	var cursor tier.Cursor
	var all []tier.RawEntry
	for !cursor.Exhausted {
		entries, err := s.RangeNext(tier.KindMulti, &cursor, nil, nil, 4)
		if err != nil {
			t.Fatalf("RangeNext failed: %v", err)
		}
		all = append(all, entries...)
	}
	if len(all) != total {
		t.Fatalf("expected %d entries across chunks, got %d", total, len(all))
	}
	for i := 1; i < len(all); i++ {
		if bytes.Compare(all[i-1].Key, all[i].Key) >= 0 {
			t.Fatal("resumed scan broke ordering or repeated an entry")
		}
	}

	// Same in reverse
	var revCursor tier.Cursor
	all = all[:0]
	for !revCursor.Exhausted {
		entries, err := s.RangeRevNext(tier.KindMulti, &revCursor, nil, nil, 4)
		if err != nil {
			t.Fatalf("RangeRevNext failed: %v", err)
		}
		all = append(all, entries...)
	}
	if len(all) != total {
		t.Fatalf("expected %d reverse entries across chunks, got %d", total, len(all))
	}
	for i := 1; i < len(all); i++ {
		if bytes.Compare(all[i-1].Key, all[i].Key) <= 0 {
			t.Fatal("resumed reverse scan broke ordering or repeated an entry")
		}
	}
}

func testAtomicBatch(t *testing.T, s tier.Storage) {
	defer s.Close()

	// One Set call spanning namespaces applies completely
	err := s.Set(map[tier.EntryKind][]tier.Write{
		tier.KindMulti:  {put([]byte("m"), 1, "multi")},
		tier.KindSystem: {put([]byte("s"), 1, "system")},
		tier.KindCDC:    {put([]byte("c"), 1, "cdc")},
	})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	for _, c := range []struct {
		kind  tier.EntryKind
		key   string
		value string
	}{
		{tier.KindMulti, "m", "multi"},
		{tier.KindSystem, "s", "system"},
		{tier.KindCDC, "c", "cdc"},
	} {
		got, err := s.GetAtVersion(c.kind, []byte(c.key), 1)
		if err != nil {
			t.Fatalf("GetAtVersion failed: %v", err)
		}
		if got.Status != tier.StatusValue || string(got.Value) != c.value {
			t.Errorf("namespace %v: got status %d value %q", c.kind, got.Status, got.Value)
		}
	}
}
