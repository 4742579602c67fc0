package store

import (
	"bytes"
	"testing"

	"github.com/avollmer/strataKV/lib/tier"
	"github.com/avollmer/strataKV/lib/tier/memory"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Options{Hot: memory.New()})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newTieredTestStore opens a store with a hot and a warm tier and returns
// the warm tier for direct seeding.
func newTieredTestStore(t *testing.T) (*Store, tier.Storage) {
	t.Helper()
	warm := memory.New()
	s, err := NewStore(Options{Hot: memory.New(), Warm: warm})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, warm
}

func mustCommit(t *testing.T, s *Store, version tier.CommitVersion, deltas ...Delta) {
	t.Helper()
	if err := s.Commit(deltas, version); err != nil {
		t.Fatalf("commit at version %d failed: %v", version, err)
	}
}

// seedTier writes one versioned value directly into a tier, bypassing the
// commit pipeline.
func seedTier(t *testing.T, st tier.Storage, key string, version tier.CommitVersion, value string) {
	t.Helper()
	err := st.Set(map[tier.EntryKind][]tier.Write{
		tier.KindMulti: {{
			Key:   tier.EncodeVersioned([]byte(key), version),
			Value: []byte(value),
			Kind:  tier.WritePut,
		}},
	})
	if err != nil {
		t.Fatalf("failed to seed tier: %v", err)
	}
}

func expectValue(t *testing.T, s *Store, key string, version tier.CommitVersion, want string, wantVersion tier.CommitVersion) {
	t.Helper()
	v, ok, err := s.Get([]byte(key), version)
	if err != nil {
		t.Fatalf("get %q at %d failed: %v", key, version, err)
	}
	if !ok {
		t.Fatalf("get %q at %d: expected %q, key not visible", key, version, want)
	}
	if !bytes.Equal(v.Value, []byte(want)) || v.Version != wantVersion {
		t.Fatalf("get %q at %d = %q@%d, want %q@%d", key, version, v.Value, v.Version, want, wantVersion)
	}
}

func expectMissing(t *testing.T, s *Store, key string, version tier.CommitVersion) {
	t.Helper()
	_, ok, err := s.Get([]byte(key), version)
	if err != nil {
		t.Fatalf("get %q at %d failed: %v", key, version, err)
	}
	if ok {
		t.Fatalf("get %q at %d: expected key to be invisible", key, version)
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestCommitReadYourWrite(t *testing.T) {
	s := newTestStore(t)

	mustCommit(t, s, 1, NewSet([]byte("a"), []byte("hello")))

	expectValue(t, s, "a", 1, "hello", 1)
	expectValue(t, s, "a", tier.MaxVersion, "hello", 1)
	expectMissing(t, s, "a", 0)
}

func TestRemoveHidesKey(t *testing.T) {
	s := newTestStore(t)

	mustCommit(t, s, 1, NewSet([]byte("a"), []byte("v1")))
	mustCommit(t, s, 2, NewRemove([]byte("a")))

	expectValue(t, s, "a", 1, "v1", 1)
	expectMissing(t, s, "a", 2)
	expectMissing(t, s, "a", tier.MaxVersion)

	ok, err := s.Contains([]byte("a"), tier.MaxVersion)
	if err != nil {
		t.Fatalf("contains failed: %v", err)
	}
	if ok {
		t.Error("removed key should not be contained")
	}
}

func TestSnapshotReads(t *testing.T) {
	s := newTestStore(t)

	mustCommit(t, s, 1, NewSet([]byte("a"), []byte("old")))
	mustCommit(t, s, 3, NewSet([]byte("a"), []byte("new")))

	expectValue(t, s, "a", 1, "old", 1)
	expectValue(t, s, "a", 2, "old", 1)
	expectValue(t, s, "a", 3, "new", 3)
	expectValue(t, s, "a", tier.MaxVersion, "new", 3)
}

func TestCommitBatchIsAtomicallyVisible(t *testing.T) {
	s := newTestStore(t)

	mustCommit(t, s, 5,
		NewSet([]byte("a"), []byte("1")),
		NewSet([]byte("b"), []byte("2")),
		NewRemove([]byte("c")),
	)

	expectValue(t, s, "a", 5, "1", 5)
	expectValue(t, s, "b", 5, "2", 5)
	expectMissing(t, s, "c", 5)
}

func TestTierFallthrough(t *testing.T) {
	s, warm := newTieredTestStore(t)

	// A key only present in the slower tier is still readable
	seedTier(t, warm, "cold-key", 1, "archived")
	expectValue(t, s, "cold-key", tier.MaxVersion, "archived", 1)

	// A newer commit lands in the hot tier and shadows the warm entry
	mustCommit(t, s, 5, NewSet([]byte("cold-key"), []byte("fresh")))
	expectValue(t, s, "cold-key", tier.MaxVersion, "fresh", 5)
	expectValue(t, s, "cold-key", 4, "archived", 1)
}

func TestTierPrioritySameVersion(t *testing.T) {
	s, warm := newTieredTestStore(t)

	// The same (key, version) in two tiers resolves to the faster tier
	seedTier(t, warm, "a", 2, "warm-copy")
	mustCommit(t, s, 2, NewSet([]byte("a"), []byte("hot-copy")))

	expectValue(t, s, "a", 2, "hot-copy", 2)
}

func TestGetPrevious(t *testing.T) {
	s := newTestStore(t)

	mustCommit(t, s, 1, NewSet([]byte("a"), []byte("first")))
	mustCommit(t, s, 3, NewSet([]byte("a"), []byte("second")))

	prev, ok, err := s.GetPrevious([]byte("a"), 3)
	if err != nil {
		t.Fatalf("get previous failed: %v", err)
	}
	if !ok || prev.Version != 1 {
		t.Fatalf("expected previous version 1, got %+v ok=%v", prev, ok)
	}
	if prev.KeyBytes != 1 || prev.ValueBytes != len("first") {
		t.Errorf("unexpected previous sizes: %+v", prev)
	}

	if _, ok, _ := s.GetPrevious([]byte("a"), 1); ok {
		t.Error("no version exists before the first commit")
	}

	mustCommit(t, s, 4, NewRemove([]byte("a")))
	if _, ok, _ := s.GetPrevious([]byte("a"), 5); ok {
		t.Error("a tombstone is not a previous value")
	}
}

func TestInBatchSetRemoveLeavesNoTrace(t *testing.T) {
	s := newTestStore(t)

	mustCommit(t, s, 1,
		NewSet([]byte("a"), []byte("transient")),
		NewRemove([]byte("a")),
	)

	expectMissing(t, s, "a", tier.MaxVersion)

	records, err := s.FetchRecords(0, 10)
	if err != nil {
		t.Fatalf("fetch records failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("annihilated pair should derive no change record, got %d", len(records))
	}
}

func TestSingleVersionKeyReclaimedInBackground(t *testing.T) {
	s := newTestStore(t)
	key := []byte("!sys!counter")

	mustCommit(t, s, 1, NewSet(key, []byte("1")))
	mustCommit(t, s, 2, NewSet(key, []byte("2")))
	mustCommit(t, s, 3, NewSet(key, []byte("3")))

	// Drain the deferred reclamation queue deterministically
	s.dropper.Close()

	expectValue(t, s, "!sys!counter", tier.MaxVersion, "3", 3)
	expectMissing(t, s, "!sys!counter", 2)
	expectMissing(t, s, "!sys!counter", 1)
}

func TestMultiVersionKeysKeepHistory(t *testing.T) {
	s := newTestStore(t)

	mustCommit(t, s, 1, NewSet([]byte("a"), []byte("v1")))
	mustCommit(t, s, 2, NewSet([]byte("a"), []byte("v2")))

	s.dropper.Close()

	// No implicit reclamation for regular keys
	expectValue(t, s, "a", 1, "v1", 1)
	expectValue(t, s, "a", 2, "v2", 2)
}

func TestNewStoreRequiresATier(t *testing.T) {
	if _, err := NewStore(Options{}); err == nil {
		t.Fatal("expected error for store without tiers")
	}
}
