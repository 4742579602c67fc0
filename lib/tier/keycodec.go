package tier

import "encoding/binary"

// --------------------------------------------------------------------------
// Versioned Key Codec
// --------------------------------------------------------------------------
//
// A versioned key is the logical key followed by an 8-byte big-endian
// encoding of (MaxVersion - version). The inversion makes byte-lexicographic
// order DESCENDING version order within one logical key: for the same key,
// a higher version always sorts before a lower one. Version resolution is
// therefore a forward seek, and the newest visible version is the first hit.
//
// Range bounds exploit the inversion asymmetrically: the start bound of a
// logical range is encoded with version MaxVersion (the smallest suffix, so
// every version of the start key is included) and the end bound with version
// 0 (the largest suffix, so every version of the end key is included).

// versionSuffixLen is the fixed length of the encoded version suffix.
const versionSuffixLen = 8

// EncodeVersioned builds the physical versioned key for (key, version).
func EncodeVersioned(key []byte, version CommitVersion) []byte {
	out := make([]byte, len(key)+versionSuffixLen)
	copy(out, key)
	binary.BigEndian.PutUint64(out[len(key):], uint64(MaxVersion-version))
	return out
}

// DecodeVersioned splits a versioned key back into its logical key and
// version. Malformed input (too short to carry a version suffix) returns
// ok = false; callers skip such records instead of failing the scan.
func DecodeVersioned(versionedKey []byte) (key []byte, version CommitVersion, ok bool) {
	if len(versionedKey) < versionSuffixLen {
		return nil, 0, false
	}
	split := len(versionedKey) - versionSuffixLen
	inverted := binary.BigEndian.Uint64(versionedKey[split:])
	return versionedKey[:split], MaxVersion - CommitVersion(inverted), true
}

// KeyVersionBounds returns the inclusive byte range covering every version
// of one logical key, newest first.
func KeyVersionBounds(key []byte) (lower, upper []byte) {
	return EncodeVersioned(key, MaxVersion), EncodeVersioned(key, 0)
}

// RangeScanBounds converts a logical key range (nil = unbounded) into the
// inclusive versioned byte bounds for tier scans. The start bound uses
// version MaxVersion and the end bound version 0, so boundary keys keep all
// of their versions.
func RangeScanBounds(lowerKey, upperKey []byte) (lower, upper []byte) {
	if lowerKey != nil {
		lower = EncodeVersioned(lowerKey, MaxVersion)
	}
	if upperKey != nil {
		upper = EncodeVersioned(upperKey, 0)
	}
	return lower, upper
}
