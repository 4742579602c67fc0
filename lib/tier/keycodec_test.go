package tier

import (
	"bytes"
	"testing"
)

func TestEncodeVersionedOrdering(t *testing.T) {
	key := []byte("some-key")

	// Higher versions must sort before lower ones in byte order
	pairs := []struct {
		high, low CommitVersion
	}{
		{1, 0},
		{2, 1},
		{100, 99},
		{MaxVersion, 0},
		{MaxVersion, MaxVersion - 1},
		{1 << 40, 1 << 20},
	}

	for _, p := range pairs {
		encHigh := EncodeVersioned(key, p.high)
		encLow := EncodeVersioned(key, p.low)
		if bytes.Compare(encHigh, encLow) >= 0 {
			t.Errorf("encode(k, %d) should sort before encode(k, %d)", p.high, p.low)
		}
	}
}

func TestEncodeVersionedRoundTrip(t *testing.T) {
	keys := [][]byte{
		{},
		[]byte("a"),
		[]byte("some longer key with spaces"),
		{0x00, 0xFF, 0x00},
	}
	versions := []CommitVersion{0, 1, 1 << 32, MaxVersion - 1, MaxVersion}

	for _, key := range keys {
		for _, version := range versions {
			enc := EncodeVersioned(key, version)

			gotKey, gotVersion, ok := DecodeVersioned(enc)
			if !ok {
				t.Fatalf("decode failed for key=%q version=%d", key, version)
			}
			if !bytes.Equal(gotKey, key) {
				t.Errorf("key mismatch: got %q, want %q", gotKey, key)
			}
			if gotVersion != version {
				t.Errorf("version mismatch: got %d, want %d", gotVersion, version)
			}
		}
	}
}

func TestDecodeVersionedMalformed(t *testing.T) {
	for _, data := range [][]byte{nil, {}, {1}, {1, 2, 3, 4, 5, 6, 7}} {
		if _, _, ok := DecodeVersioned(data); ok {
			t.Errorf("expected decode to reject %d-byte input", len(data))
		}
	}
}

func TestKeyVersionBounds(t *testing.T) {
	key := []byte("k")
	lower, upper := KeyVersionBounds(key)

	// Every version of the key must fall within [lower, upper]
	for _, version := range []CommitVersion{0, 1, 1 << 30, MaxVersion} {
		enc := EncodeVersioned(key, version)
		if bytes.Compare(enc, lower) < 0 || bytes.Compare(enc, upper) > 0 {
			t.Errorf("version %d falls outside key bounds", version)
		}
	}

	// A different key must fall outside
	other := EncodeVersioned([]byte("l"), 1)
	if bytes.Compare(other, lower) >= 0 && bytes.Compare(other, upper) <= 0 {
		t.Error("foreign key falls inside key bounds")
	}
}

func TestRangeScanBounds(t *testing.T) {
	lower, upper := RangeScanBounds([]byte("a"), []byte("c"))

	// All versions of both boundary keys must be covered
	for _, key := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		for _, version := range []CommitVersion{0, 7, MaxVersion} {
			enc := EncodeVersioned(key, version)
			if bytes.Compare(enc, lower) < 0 || bytes.Compare(enc, upper) > 0 {
				t.Errorf("key %q version %d falls outside scan bounds", key, version)
			}
		}
	}

	// Unbounded sides stay nil
	lower, upper = RangeScanBounds(nil, nil)
	if lower != nil || upper != nil {
		t.Error("unbounded range should produce nil bounds")
	}
}
