package store

import (
	"fmt"
	"testing"

	"github.com/avollmer/strataKV/lib/tier"
)

// collectRange drains an iterator and fails the test on scan errors.
func collectRange(t *testing.T, it *Iterator) []MultiVersionValues {
	t.Helper()
	var out []MultiVersionValues
	for it.Next() {
		out = append(out, it.Value())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("range scan failed: %v", err)
	}
	return out
}

func expectKeys(t *testing.T, got []MultiVersionValues, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		gotKeys := make([]string, len(got))
		for i, v := range got {
			gotKeys[i] = string(v.Key)
		}
		t.Fatalf("expected %d entries %v, got %d: %v", len(want), want, len(got), gotKeys)
	}
	for i, w := range want {
		if string(got[i].Key) != w {
			t.Errorf("entry %d: expected key %q, got %q", i, w, got[i].Key)
		}
	}
}

func TestRangeAscendingOrder(t *testing.T) {
	s := newTestStore(t)
	mustCommit(t, s, 1,
		NewSet([]byte("c"), []byte("3")),
		NewSet([]byte("a"), []byte("1")),
		NewSet([]byte("b"), []byte("2")),
	)

	got := collectRange(t, s.Range(nil, nil, tier.MaxVersion, 100))
	expectKeys(t, got, "a", "b", "c")
}

func TestRangeDescendingOrder(t *testing.T) {
	s := newTestStore(t)
	mustCommit(t, s, 1,
		NewSet([]byte("a"), []byte("1")),
		NewSet([]byte("b"), []byte("2")),
		NewSet([]byte("c"), []byte("3")),
	)

	got := collectRange(t, s.RangeRev(nil, nil, tier.MaxVersion, 100))
	expectKeys(t, got, "c", "b", "a")
}

func TestRangeBoundsInclusive(t *testing.T) {
	s := newTestStore(t)
	mustCommit(t, s, 1,
		NewSet([]byte("a"), []byte("1")),
		NewSet([]byte("b"), []byte("2")),
		NewSet([]byte("c"), []byte("3")),
		NewSet([]byte("d"), []byte("4")),
		NewSet([]byte("e"), []byte("5")),
	)

	got := collectRange(t, s.Range([]byte("b"), []byte("d"), tier.MaxVersion, 100))
	expectKeys(t, got, "b", "c", "d")

	got = collectRange(t, s.RangeRev([]byte("b"), []byte("d"), tier.MaxVersion, 100))
	expectKeys(t, got, "d", "c", "b")
}

func TestRangeCompletenessAnyBatchSize(t *testing.T) {
	s, warm := newTieredTestStore(t)

	// Spread 20 keys over both tiers so every batch has to merge
	want := make([]string, 20)
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("key-%03d", i)
		want[i] = key
		if i%2 == 0 {
			seedTier(t, warm, key, 1, "warm")
		} else {
			mustCommit(t, s, tier.CommitVersion(10+i), NewSet([]byte(key), []byte("hot")))
		}
	}

	for _, batchSize := range []int{1, 2, 3, 7, 19, 20, 100} {
		got := collectRange(t, s.Range(nil, nil, tier.MaxVersion, batchSize))
		expectKeys(t, got, want...)

		got = collectRange(t, s.RangeRev(nil, nil, tier.MaxVersion, batchSize))
		rev := make([]string, len(want))
		for i, k := range want {
			rev[len(want)-1-i] = k
		}
		expectKeys(t, got, rev...)
	}
}

func TestRangeCompletenessAcrossChunkBoundaries(t *testing.T) {
	s, warm := newTieredTestStore(t)

	// Each tier holds more entries than one scan chunk, with disjoint
	// prefixes so the cursors move through unrelated key space at very
	// different speeds.
	const perTier = tierScanChunkSize + 1000

	deltas := make([]Delta, perTier)
	for i := range deltas {
		deltas[i] = NewSet([]byte(fmt.Sprintf("a-%05d", i)), []byte("hot"))
	}
	mustCommit(t, s, 1, deltas...)
	for i := 0; i < perTier; i++ {
		seedTier(t, warm, fmt.Sprintf("b-%05d", i), 1, "warm")
	}

	// A newer version in the slower tier of a key the faster tier also
	// holds: the merge must wait for the slower tier to pass the key
	// before delivering it, in both scan directions.
	shadowed := fmt.Sprintf("a-%05d", 4000)
	seedTier(t, warm, shadowed, 2, "newer")

	for _, reverse := range []bool{false, true} {
		var it *Iterator
		if reverse {
			it = s.RangeRev(nil, nil, tier.MaxVersion, 64)
		} else {
			it = s.Range(nil, nil, tier.MaxVersion, 64)
		}
		got := collectRange(t, it)

		if len(got) != 2*perTier {
			t.Fatalf("reverse=%v: expected %d unique keys, got %d", reverse, 2*perTier, len(got))
		}
		seen := make(map[string]struct{}, len(got))
		for i, v := range got {
			key := string(v.Key)
			if _, dup := seen[key]; dup {
				t.Fatalf("reverse=%v: key %q delivered twice", reverse, key)
			}
			seen[key] = struct{}{}
			if i > 0 {
				prev := string(got[i-1].Key)
				if (reverse && key >= prev) || (!reverse && key <= prev) {
					t.Fatalf("reverse=%v: keys out of order: %q after %q", reverse, key, prev)
				}
			}
			if key == shadowed && (string(v.Value) != "newer" || v.Version != 2) {
				t.Errorf("reverse=%v: %q = %q@%d, want \"newer\"@2", reverse, key, v.Value, v.Version)
			}
		}
	}
}

func TestRangeNewestVersionWinsAcrossTiers(t *testing.T) {
	s, warm := newTieredTestStore(t)

	seedTier(t, warm, "a", 1, "stale")
	mustCommit(t, s, 5, NewSet([]byte("a"), []byte("fresh")))

	got := collectRange(t, s.Range(nil, nil, tier.MaxVersion, 100))
	expectKeys(t, got, "a")
	if string(got[0].Value) != "fresh" || got[0].Version != 5 {
		t.Errorf("expected fresh@5, got %q@%d", got[0].Value, got[0].Version)
	}
}

func TestRangeFiltersTombstones(t *testing.T) {
	s := newTestStore(t)
	mustCommit(t, s, 1,
		NewSet([]byte("a"), []byte("1")),
		NewSet([]byte("b"), []byte("2")),
		NewSet([]byte("c"), []byte("3")),
	)
	mustCommit(t, s, 2, NewRemove([]byte("b")))

	got := collectRange(t, s.Range(nil, nil, tier.MaxVersion, 100))
	expectKeys(t, got, "a", "c")

	// The tombstone only hides the key from that version on
	got = collectRange(t, s.Range(nil, nil, 1, 100))
	expectKeys(t, got, "a", "b", "c")
}

func TestRangeAllTombstonesWithTinyBatch(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 8; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		mustCommit(t, s, tier.CommitVersion(2*i+1), NewSet(key, []byte("v")))
		mustCommit(t, s, tier.CommitVersion(2*i+2), NewRemove(key))
	}

	// Every merged batch is empty; the iterator must still terminate
	got := collectRange(t, s.Range(nil, nil, tier.MaxVersion, 2))
	if len(got) != 0 {
		t.Fatalf("expected empty scan, got %d entries", len(got))
	}
}

func TestRangeSnapshotVersion(t *testing.T) {
	s := newTestStore(t)
	mustCommit(t, s, 2, NewSet([]byte("a"), []byte("1")))
	mustCommit(t, s, 4, NewSet([]byte("b"), []byte("2")))

	got := collectRange(t, s.Range(nil, nil, 3, 100))
	expectKeys(t, got, "a")

	got = collectRange(t, s.Range(nil, nil, 1, 100))
	expectKeys(t, got)
}

func TestRangeEmptyStore(t *testing.T) {
	s := newTestStore(t)

	it := s.Range(nil, nil, tier.MaxVersion, 10)
	if it.Next() {
		t.Fatal("empty store should yield no entries")
	}
	if it.Err() != nil {
		t.Fatalf("unexpected error: %v", it.Err())
	}
}
