// Package cdc defines the change-data-capture record model, its binary
// encoding, and the poll-based consumer boundary. One record is derived per
// commit that produced at least one externally visible change; the changes
// keep the commit's delta order.
package cdc

import (
	"encoding/binary"
	"fmt"

	"github.com/avollmer/strataKV/lib/tier"
)

// --------------------------------------------------------------------------
// Record Model
// --------------------------------------------------------------------------

// ChangeKind discriminates the three externally visible change types.
type ChangeKind uint8

const (
	// ChangeInsert is a Set with no visible prior value.
	ChangeInsert ChangeKind = iota
	// ChangeUpdate is a Set replacing a visible prior value.
	ChangeUpdate
	// ChangeDelete is a Remove of a visible prior value.
	ChangeDelete
)

// Change is one entry of a record's ordered change list.
// PreVersion is set for updates and deletes, PostVersion for inserts and
// updates.
type Change struct {
	Kind        ChangeKind
	Key         []byte
	PreVersion  tier.CommitVersion
	PostVersion tier.CommitVersion
}

// Record is the change log entry of one commit.
type Record struct {
	Version   tier.CommitVersion
	Timestamp uint64 // unix milliseconds
	Changes   []Change
}

// --------------------------------------------------------------------------
// Binary Codec
// --------------------------------------------------------------------------
//
// Layout:
//   u64 version | u64 timestamp | u32 change count
//   per change: 1 flag byte | u32 key length | key bytes
//               [u64 pre version]  if flagged
//               [u64 post version] if flagged
// The low two flag bits carry the change kind.

const (
	kindMask   byte = 0x03
	hasPre     byte = 1 << 6
	hasPost    byte = 1 << 7
	headerSize      = 8 + 8 + 4
)

// Encode serializes a record into its storage representation.
func Encode(r Record) []byte {
	result := make([]byte, sizeBytes(r))

	binary.BigEndian.PutUint64(result[0:8], uint64(r.Version))
	binary.BigEndian.PutUint64(result[8:16], r.Timestamp)
	binary.BigEndian.PutUint32(result[16:20], uint32(len(r.Changes)))

	pos := headerSize
	for _, c := range r.Changes {
		flags := byte(c.Kind) & kindMask
		if c.Kind == ChangeUpdate || c.Kind == ChangeDelete {
			flags |= hasPre
		}
		if c.Kind == ChangeInsert || c.Kind == ChangeUpdate {
			flags |= hasPost
		}
		result[pos] = flags
		pos++

		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(c.Key)))
		pos += 4
		copy(result[pos:pos+len(c.Key)], c.Key)
		pos += len(c.Key)

		if flags&hasPre != 0 {
			binary.BigEndian.PutUint64(result[pos:pos+8], uint64(c.PreVersion))
			pos += 8
		}
		if flags&hasPost != 0 {
			binary.BigEndian.PutUint64(result[pos:pos+8], uint64(c.PostVersion))
			pos += 8
		}
	}

	return result
}

// Decode parses a stored record. It validates all length fields so a
// truncated or foreign payload yields an error instead of a panic.
func Decode(data []byte, r *Record) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for record header")
	}

	r.Version = tier.CommitVersion(binary.BigEndian.Uint64(data[0:8]))
	r.Timestamp = binary.BigEndian.Uint64(data[8:16])
	count := binary.BigEndian.Uint32(data[16:20])

	r.Changes = make([]Change, 0, count)
	pos := headerSize

	for i := uint32(0); i < count; i++ {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for change flags")
		}
		flags := data[pos]
		pos++

		if pos+4 > len(data) {
			return fmt.Errorf("data too short for key length")
		}
		keyLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(keyLen) > len(data) {
			return fmt.Errorf("data too short for key data")
		}
		c := Change{
			Kind: ChangeKind(flags & kindMask),
			Key:  append([]byte(nil), data[pos:pos+int(keyLen)]...),
		}
		pos += int(keyLen)

		if flags&hasPre != 0 {
			if pos+8 > len(data) {
				return fmt.Errorf("data too short for pre version")
			}
			c.PreVersion = tier.CommitVersion(binary.BigEndian.Uint64(data[pos : pos+8]))
			pos += 8
		}
		if flags&hasPost != 0 {
			if pos+8 > len(data) {
				return fmt.Errorf("data too short for post version")
			}
			c.PostVersion = tier.CommitVersion(binary.BigEndian.Uint64(data[pos : pos+8]))
			pos += 8
		}

		r.Changes = append(r.Changes, c)
	}

	return nil
}

// sizeBytes calculates the total size needed for serialization
func sizeBytes(r Record) int {
	size := headerSize
	for _, c := range r.Changes {
		size += 1 + 4 + len(c.Key)
		if c.Kind == ChangeUpdate || c.Kind == ChangeDelete {
			size += 8
		}
		if c.Kind == ChangeInsert || c.Kind == ChangeUpdate {
			size += 8
		}
	}
	return size
}
