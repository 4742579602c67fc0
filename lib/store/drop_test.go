package store

import (
	"testing"

	"github.com/avollmer/strataKV/lib/tier"
)

func versionPtr(v tier.CommitVersion) *tier.CommitVersion { return &v }
func intPtr(n int) *int                                   { return &n }

// seedVersions commits one value per version for the key.
func seedVersions(t *testing.T, s *Store, key string, versions ...tier.CommitVersion) {
	t.Helper()
	for _, v := range versions {
		mustCommit(t, s, v, NewSet([]byte(key), []byte{byte(v)}))
	}
}

func TestDropAllVersions(t *testing.T) {
	s := newTestStore(t)
	seedVersions(t, s, "a", 1, 2, 3)

	mustCommit(t, s, 4, NewDrop([]byte("a"), nil, nil))

	for v := tier.CommitVersion(1); v <= 3; v++ {
		expectMissing(t, s, "a", v)
	}
	expectMissing(t, s, "a", tier.MaxVersion)
}

func TestDropUpToVersion(t *testing.T) {
	s := newTestStore(t)
	seedVersions(t, s, "a", 1, 2, 3, 4)

	// The threshold is exclusive: version 3 survives
	mustCommit(t, s, 5, NewDrop([]byte("a"), versionPtr(3), nil))

	expectMissing(t, s, "a", 1)
	expectMissing(t, s, "a", 2)
	expectValue(t, s, "a", 3, string([]byte{3}), 3)
	expectValue(t, s, "a", tier.MaxVersion, string([]byte{4}), 4)
}

func TestDropKeepLast(t *testing.T) {
	s := newTestStore(t)
	seedVersions(t, s, "a", 1, 2, 3, 4)

	mustCommit(t, s, 5, NewDrop([]byte("a"), nil, intPtr(2)))

	expectMissing(t, s, "a", 1)
	expectMissing(t, s, "a", 2)
	expectValue(t, s, "a", 3, string([]byte{3}), 3)
	expectValue(t, s, "a", 4, string([]byte{4}), 4)
}

func TestDropKeepMoreThanExists(t *testing.T) {
	s := newTestStore(t)
	seedVersions(t, s, "a", 1, 2)

	mustCommit(t, s, 3, NewDrop([]byte("a"), nil, intPtr(5)))

	expectValue(t, s, "a", 1, string([]byte{1}), 1)
	expectValue(t, s, "a", 2, string([]byte{2}), 2)
}

func TestDropKeepZero(t *testing.T) {
	s := newTestStore(t)
	seedVersions(t, s, "a", 1, 2)

	mustCommit(t, s, 3, NewDrop([]byte("a"), nil, intPtr(0)))

	expectMissing(t, s, "a", tier.MaxVersion)
}

func TestDropCombinedConstraints(t *testing.T) {
	s := newTestStore(t)
	seedVersions(t, s, "a", 1, 2, 3, 4, 5)

	// Dropped only when below the threshold AND outside the newest two:
	// versions 5, 4 are protected by keep-last, 3 by the threshold.
	mustCommit(t, s, 6, NewDrop([]byte("a"), versionPtr(3), intPtr(2)))

	expectMissing(t, s, "a", 1)
	expectMissing(t, s, "a", 2)
	expectValue(t, s, "a", 3, string([]byte{3}), 3)
	expectValue(t, s, "a", 4, string([]byte{4}), 4)
	expectValue(t, s, "a", 5, string([]byte{5}), 5)
}

func TestDropSparesOtherKeys(t *testing.T) {
	s := newTestStore(t)
	seedVersions(t, s, "a", 1)
	seedVersions(t, s, "ab", 2)
	seedVersions(t, s, "b", 3)

	mustCommit(t, s, 4, NewDrop([]byte("a"), nil, nil))

	expectMissing(t, s, "a", tier.MaxVersion)
	expectValue(t, s, "ab", tier.MaxVersion, string([]byte{2}), 2)
	expectValue(t, s, "b", tier.MaxVersion, string([]byte{3}), 3)
}

func TestDropProtectsSameCommitWrite(t *testing.T) {
	s := newTestStore(t)
	seedVersions(t, s, "a", 1, 2)

	// The in-flight write occupies the single retention slot, so every
	// stored version goes, but the new one must survive.
	mustCommit(t, s, 3,
		NewSet([]byte("a"), []byte("fresh")),
		NewDrop([]byte("a"), nil, intPtr(1)),
	)

	expectMissing(t, s, "a", 2)
	expectValue(t, s, "a", tier.MaxVersion, "fresh", 3)
}

func TestDropAcrossTiers(t *testing.T) {
	s, warm := newTieredTestStore(t)

	// Version 2 exists in both tiers; it occupies one retention slot and
	// both physical copies share its fate.
	seedTier(t, warm, "a", 1, "w1")
	seedTier(t, warm, "a", 2, "w2")
	mustCommit(t, s, 2, NewSet([]byte("a"), []byte("h2")))
	mustCommit(t, s, 3, NewSet([]byte("a"), []byte("h3")))

	mustCommit(t, s, 4, NewDrop([]byte("a"), nil, intPtr(2)))

	expectMissing(t, s, "a", 1)
	expectValue(t, s, "a", tier.MaxVersion, "h3", 3)

	// Both copies of version 2 survived, including the warm one
	vv, err := warm.GetAtVersion(tier.KindMulti, []byte("a"), 2)
	if err != nil {
		t.Fatalf("warm lookup failed: %v", err)
	}
	if vv.Status != tier.StatusValue || string(vv.Value) != "w2" {
		t.Fatalf("expected warm copy of version 2 to survive, got %+v", vv)
	}
	if vv, _ := warm.GetAtVersion(tier.KindMulti, []byte("a"), 1); vv.Status != tier.StatusNotFound {
		t.Fatalf("expected warm version 1 to be purged, got %+v", vv)
	}
}

func TestFindEntriesToDropEmptyKey(t *testing.T) {
	s := newTestStore(t)

	entries, err := s.findEntriesToDrop(tier.KindMulti, []byte("ghost"), nil, nil, nil)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries for unknown key, got %d", len(entries))
	}
}
