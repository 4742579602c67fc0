package store

import (
	"encoding/binary"
	"fmt"

	"github.com/avollmer/strataKV/lib/cdc"
	"github.com/avollmer/strataKV/lib/tier"
)

// --------------------------------------------------------------------------
// Change Stream Source
// --------------------------------------------------------------------------
//
// The store itself backs the change stream: commit records live in the CDC
// namespace keyed by commit version, consumer checkpoints are single-version
// system keys. This file implements cdc.Source on *Store.

// Compile-time check that *Store can feed a cdc.PollConsumer.
var _ cdc.Source = (*Store)(nil)

var checkpointPrefix = []byte("!sys!ckpt!")

// recordKey is the logical key a commit's change record is stored under.
// Big-endian version bytes keep records ordered by commit version.
func recordKey(version tier.CommitVersion) []byte {
	key := make([]byte, 0, len(cdcPrefix)+8)
	key = append(key, cdcPrefix...)
	return binary.BigEndian.AppendUint64(key, uint64(version))
}

// checkpointKey is the logical key a consumer's checkpoint is stored under.
func checkpointKey(consumerID string) []byte {
	return append(append([]byte{}, checkpointPrefix...), consumerID...)
}

// FetchRecords returns up to maxRecords change records with commit versions
// strictly greater than after, oldest first. Records that fail to decode are
// logged and skipped rather than wedging the consumer.
func (s *Store) FetchRecords(
	after tier.CommitVersion, maxRecords int,
) ([]cdc.Record, error) {
	if maxRecords <= 0 || after == tier.MaxVersion {
		return nil, nil
	}

	it := s.Range(recordKey(after+1), recordKey(tier.MaxVersion), tier.MaxVersion, maxRecords)

	var records []cdc.Record
	for len(records) < maxRecords && it.Next() {
		var r cdc.Record
		if err := cdc.Decode(it.Value().Value, &r); err != nil {
			s.log.Errorf("skipping undecodable change record %q: %v", it.Value().Key, err)
			continue
		}
		records = append(records, r)
	}
	if err := it.Err(); err != nil {
		return nil, WrapError(RetCInternalError, "change record scan failed", err)
	}
	return records, nil
}

// ReadCheckpoint returns a consumer's last acknowledged commit version, or 0
// if the consumer has no checkpoint yet.
func (s *Store) ReadCheckpoint(consumerID string) (tier.CommitVersion, error) {
	v, ok, err := s.Get(checkpointKey(consumerID), tier.MaxVersion)
	if err != nil || !ok {
		return 0, err
	}
	if len(v.Value) != 8 {
		return 0, NewError(RetCDecodingError,
			fmt.Sprintf("checkpoint for consumer %q has %d bytes, want 8", consumerID, len(v.Value)))
	}
	return tier.CommitVersion(binary.BigEndian.Uint64(v.Value)), nil
}

// WriteCheckpoint persists a consumer's checkpoint as a regular commit at
// the given version. The checkpoint key is a system key, so the commit
// derives no change record of its own.
func (s *Store) WriteCheckpoint(
	consumerID string, checkpoint, commitVersion tier.CommitVersion,
) error {
	value := binary.BigEndian.AppendUint64(nil, uint64(checkpoint))
	return s.Commit([]Delta{NewSet(checkpointKey(consumerID), value)}, commitVersion)
}
