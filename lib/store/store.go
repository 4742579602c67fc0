// Package store implements the tiered, multi-version storage engine: commits
// apply ordered delta batches atomically per tier, reads resolve the newest
// visible version across tiers, and range scans merge all tiers into one
// ordered, deduplicated stream. Historical versions are reclaimed either
// synchronously via Drop deltas or asynchronously by the drop worker.
package store

import (
	"sync"
	"time"

	"github.com/avollmer/strataKV/lib/cdc"
	"github.com/avollmer/strataKV/lib/logging"
	"github.com/avollmer/strataKV/lib/stats"
	"github.com/avollmer/strataKV/lib/tier"
	"github.com/lni/dragonboat/v4/logger"
)

// Tier indices, ordered from fastest to slowest. New writes always land in
// the fastest tier that is configured.
const (
	tierHot = iota
	tierWarm
	tierCold
	numTiers
)

// defaultRangeBatchSize is used when a range query passes no batch size.
const defaultRangeBatchSize = 1024

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// Options configures a Store. At least one tier must be set; missing tiers
// are simply skipped on every path.
type Options struct {
	Hot  tier.Storage
	Warm tier.Storage
	Cold tier.Storage

	// Stats receives one sample per successful commit. Optional; the
	// collector's lifecycle stays with the caller.
	Stats *stats.Collector

	// SingleVersionKey overrides the predicate for keys whose readers only
	// ever need the latest value. Defaults to IsSingleVersionKey.
	SingleVersionKey func(key []byte) bool

	// DropQueueSize bounds the deferred reclamation queue. 0 uses the
	// default.
	DropQueueSize int
}

// Store is the tiered engine. It never mints commit versions; callers pass
// the version with each commit and versions must strictly increase.
//
// Thread-safety: reads and range scans may run concurrently with each other
// and with commits; commits are serialized internally.
type Store struct {
	tiers     [numTiers]tier.Storage
	writeTier int

	commitMu        sync.Mutex
	dropper         *dropWorker
	stats           *stats.Collector
	isSingleVersion func(key []byte) bool

	log logger.ILogger
}

// NewStore assembles the engine and starts its drop worker.
func NewStore(opts Options) (*Store, error) {
	s := &Store{
		tiers: [numTiers]tier.Storage{
			tierHot:  opts.Hot,
			tierWarm: opts.Warm,
			tierCold: opts.Cold,
		},
		writeTier:       -1,
		stats:           opts.Stats,
		isSingleVersion: opts.SingleVersionKey,
		log:             logging.GetLogger("store"),
	}
	for i, t := range s.tiers {
		if t != nil {
			s.writeTier = i
			break
		}
	}
	if s.writeTier < 0 {
		return nil, NewError(RetCInvalidOperation, "at least one tier must be configured")
	}
	if s.isSingleVersion == nil {
		s.isSingleVersion = IsSingleVersionKey
	}

	s.dropper = newDropWorker(s, opts.DropQueueSize, logging.GetLogger("store"))
	s.log.Infof("store opened, write tier %d", s.writeTier)
	return s, nil
}

// Close drains the drop worker and closes every tier. A stats collector
// passed in via Options is not closed; its lifecycle stays with the caller.
func (s *Store) Close() error {
	s.dropper.Close()

	var firstErr error
	for _, t := range s.tiers {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = WrapError(RetCInternalError, "tier close failed", err)
		}
	}
	return firstErr
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// lookupVersioned resolves the newest entry of a key with version <= the
// snapshot, across all tiers. Tombstones are returned as such; visibility is
// the caller's concern.
//
// All tiers are consulted and the highest version wins, rather than stopping
// at the first tier that has the key. Commits only land in the write tier,
// so a faster tier can never hold a stale shadow of a slower one, but a key
// migrated downward keeps resolving correctly even while a copy lingers
// above. Ties go to the faster tier via the strict comparison below.
func (s *Store) lookupVersioned(
	kind tier.EntryKind, key []byte, version tier.CommitVersion,
) (tier.VersionedValue, error) {
	best := tier.VersionedValue{Status: tier.StatusNotFound}
	for _, t := range s.tiers {
		if t == nil {
			continue
		}
		vv, err := t.GetAtVersion(kind, key, version)
		if err != nil {
			return best, WrapError(RetCInternalError, "tier lookup failed", err)
		}
		if vv.Status == tier.StatusNotFound {
			continue
		}
		if best.Status == tier.StatusNotFound || vv.Version > best.Version {
			best = vv
		}
	}
	return best, nil
}

// Get returns the value of a key as visible at the snapshot version. A key
// whose newest visible entry is a tombstone does not exist.
func (s *Store) Get(key []byte, version tier.CommitVersion) (MultiVersionValues, bool, error) {
	vv, err := s.lookupVersioned(Classify(key), key, version)
	if err != nil || vv.Status != tier.StatusValue {
		return MultiVersionValues{}, false, err
	}
	return MultiVersionValues{Key: key, Value: vv.Value, Version: vv.Version}, true, nil
}

// Contains reports whether a key is visible at the snapshot version.
func (s *Store) Contains(key []byte, version tier.CommitVersion) (bool, error) {
	_, ok, err := s.Get(key, version)
	return ok, err
}

// GetPrevious resolves the most recent committed state of a key strictly
// before the given version. Tombstoned and absent keys report ok=false.
func (s *Store) GetPrevious(
	key []byte, before tier.CommitVersion,
) (PreviousVersionInfo, bool, error) {
	vv, err := s.previousVersion(Classify(key), key, before)
	if err != nil || vv.Status != tier.StatusValue {
		return PreviousVersionInfo{}, false, err
	}
	return PreviousVersionInfo{
		Version:    vv.Version,
		KeyBytes:   len(key),
		ValueBytes: len(vv.Value),
	}, true, nil
}

func (s *Store) previousVersion(
	kind tier.EntryKind, key []byte, before tier.CommitVersion,
) (tier.VersionedValue, error) {
	if before == 0 {
		return tier.VersionedValue{Status: tier.StatusNotFound}, nil
	}
	return s.lookupVersioned(kind, key, before-1)
}

// --------------------------------------------------------------------------
// Range Scans
// --------------------------------------------------------------------------

// Range scans [lowerKey, upperKey] in ascending key order as visible at the
// snapshot version. Both bounds are inclusive; nil means unbounded.
// batchSize controls the fetch granularity, not the result size.
func (s *Store) Range(
	lowerKey, upperKey []byte, version tier.CommitVersion, batchSize int,
) *Iterator {
	return s.newIterator(lowerKey, upperKey, version, batchSize, false)
}

// RangeRev scans [lowerKey, upperKey] in descending key order.
func (s *Store) RangeRev(
	lowerKey, upperKey []byte, version tier.CommitVersion, batchSize int,
) *Iterator {
	return s.newIterator(lowerKey, upperKey, version, batchSize, true)
}

func (s *Store) newIterator(
	lowerKey, upperKey []byte, version tier.CommitVersion, batchSize int, reverse bool,
) *Iterator {
	if batchSize <= 0 {
		batchSize = defaultRangeBatchSize
	}
	return &Iterator{
		store:     s,
		lowerKey:  lowerKey,
		upperKey:  upperKey,
		version:   version,
		batchSize: batchSize,
		reverse:   reverse,
	}
}

// --------------------------------------------------------------------------
// Commit Pipeline
// --------------------------------------------------------------------------

// Commit applies a delta batch at the given version. The batch is atomic per
// tier: a tier write failure aborts the whole commit and nothing deferred
// (drop jobs, stats) is submitted.
func (s *Store) Commit(deltas []Delta, version tier.CommitVersion) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	deltas = optimizeDeltas(deltas)
	if len(deltas) == 0 {
		return nil
	}

	// Keys written in this same commit; their in-flight version counts
	// toward retention when a Drop targets them.
	setKeys := make(map[string]struct{})
	for _, d := range deltas {
		if d.Op == OpSet {
			setKeys[string(d.Key)] = struct{}{}
		}
	}

	var batches [numTiers]map[tier.EntryKind][]tier.Write
	addWrite := func(tierIdx int, kind tier.EntryKind, w tier.Write) {
		if batches[tierIdx] == nil {
			batches[tierIdx] = make(map[tier.EntryKind][]tier.Write)
		}
		batches[tierIdx][kind] = append(batches[tierIdx][kind], w)
	}

	sample := stats.CommitStats{Version: version}
	var changes []cdc.Change
	var dropJobs []dropJob

	for _, d := range deltas {
		kind := Classify(d.Key)

		switch d.Op {
		case OpSet:
			prev, err := s.previousVersion(kind, d.Key, version)
			if err != nil {
				return err
			}
			addWrite(s.writeTier, kind, tier.Write{
				Key:   tier.EncodeVersioned(d.Key, version),
				Value: d.Value,
				Kind:  tier.WritePut,
			})
			sample.Writes = append(sample.Writes, stats.EntryStat{
				Key: d.Key, ValueBytes: len(d.Value),
			})

			// Change records are derived for regular keys only; system
			// keys include consumer checkpoints, which must not feed
			// back into the change stream.
			if kind == tier.KindMulti {
				if prev.Status == tier.StatusValue {
					changes = append(changes, cdc.Change{
						Kind:        cdc.ChangeUpdate,
						Key:         d.Key,
						PreVersion:  prev.Version,
						PostVersion: version,
					})
				} else {
					changes = append(changes, cdc.Change{
						Kind:        cdc.ChangeInsert,
						Key:         d.Key,
						PostVersion: version,
					})
				}
			}

			if s.isSingleVersion(d.Key) {
				keep := 1
				pending := version
				dropJobs = append(dropJobs, dropJob{
					kind:             kind,
					key:              d.Key,
					keepLastVersions: &keep,
					pendingVersion:   &pending,
				})
			}

		case OpRemove:
			prev, err := s.previousVersion(kind, d.Key, version)
			if err != nil {
				return err
			}
			addWrite(s.writeTier, kind, tier.Write{
				Key:  tier.EncodeVersioned(d.Key, version),
				Kind: tier.WriteTombstone,
			})
			sample.Deletes = append(sample.Deletes, stats.EntryStat{
				Key: d.Key, ValueBytes: len(prev.Value),
			})

			// A Remove of a key that was never visible produces no change
			if kind == tier.KindMulti && prev.Status == tier.StatusValue {
				changes = append(changes, cdc.Change{
					Kind:       cdc.ChangeDelete,
					Key:        d.Key,
					PreVersion: prev.Version,
				})
			}

		case OpDrop:
			var pending *tier.CommitVersion
			if _, ok := setKeys[string(d.Key)]; ok {
				v := version
				pending = &v
			}
			entries, err := s.findEntriesToDrop(
				kind, d.Key, d.UpToVersion, d.KeepLastVersions, pending)
			if err != nil {
				return err
			}
			for _, e := range entries {
				addWrite(e.tierIdx, kind, tier.Write{
					Key:  e.versionedKey,
					Kind: tier.WriteDelete,
				})
				sample.Drops = append(sample.Drops, stats.EntryStat{
					Key: d.Key, ValueBytes: e.valueBytes,
				})
			}
		}
	}

	if len(changes) > 0 {
		record := cdc.Record{
			Version:   version,
			Timestamp: uint64(time.Now().UnixMilli()),
			Changes:   changes,
		}
		payload := cdc.Encode(record)
		addWrite(s.writeTier, tier.KindCDC, tier.Write{
			Key:   tier.EncodeVersioned(recordKey(version), version),
			Value: payload,
			Kind:  tier.WritePut,
		})
		sample.CDCBytes = len(payload)
	}

	for i, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		if err := s.tiers[i].Set(batch); err != nil {
			return WrapError(RetCInternalError, "tier write failed, commit aborted", err)
		}
	}

	// Deferred work is submitted only once every tier write succeeded
	for _, job := range dropJobs {
		s.dropper.enqueue(job)
	}
	if s.stats != nil {
		s.stats.Record(sample)
	}
	return nil
}
