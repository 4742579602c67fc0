// Package stats implements the asynchronous statistics collector fed by the
// commit pipeline. Recording is best-effort: the commit path never blocks on
// it and a full queue drops the sample instead of failing the commit.
package stats

import (
	"io"
	"sync"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/avollmer/strataKV/lib/logging"
	"github.com/avollmer/strataKV/lib/tier"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

// --------------------------------------------------------------------------
// Sample Types
// --------------------------------------------------------------------------

// EntryStat describes one written, deleted or dropped entry.
type EntryStat struct {
	Key        []byte
	ValueBytes int
}

// CommitStats is one sample pushed by the commit pipeline after a
// successful commit.
type CommitStats struct {
	Version  tier.CommitVersion
	Writes   []EntryStat
	Deletes  []EntryStat
	Drops    []EntryStat
	CDCBytes int
}

// Snapshot is a point-in-time view of the collected totals.
type Snapshot struct {
	Commits        uint64
	Writes         uint64
	Deletes        uint64
	Drops          uint64
	CDCRecords     uint64
	WriteBytes     uint64
	MeanValueBytes float64
	LastVersion    tier.CommitVersion
}

// --------------------------------------------------------------------------
// Collector
// --------------------------------------------------------------------------

// defaultQueueSize bounds the number of pending samples.
const defaultQueueSize = 1024

// Collector consumes commit samples on a dedicated goroutine.
//
// Thread-safety: Record may be called concurrently; Close must be called
// exactly once after all recorders have stopped submitting.
type Collector struct {
	mu     sync.RWMutex
	closed bool
	queue  chan CommitStats
	done   chan struct{}

	set         *vm.Set
	commits     *vm.Counter
	writes      *vm.Counter
	deletes     *vm.Counter
	drops       *vm.Counter
	cdcRecords  *vm.Counter
	writeBytes  *vm.Counter
	lastVersion *vm.Counter

	valueSizes gometrics.Histogram

	log logger.ILogger
}

// NewCollector creates a collector and starts its background worker.
// A queueSize of 0 uses the default.
func NewCollector(queueSize int) *Collector {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	set := vm.NewSet()
	c := &Collector{
		queue:       make(chan CommitStats, queueSize),
		done:        make(chan struct{}),
		set:         set,
		commits:     set.NewCounter("strata_commits_total"),
		writes:      set.NewCounter("strata_writes_total"),
		deletes:     set.NewCounter("strata_deletes_total"),
		drops:       set.NewCounter("strata_drops_total"),
		cdcRecords:  set.NewCounter("strata_cdc_records_total"),
		writeBytes:  set.NewCounter("strata_write_bytes_total"),
		lastVersion: set.NewCounter("strata_last_commit_version"),
		valueSizes:  gometrics.NewHistogram(gometrics.NewExpDecaySample(1028, 0.015)),
		log:         logging.GetLogger("stats"),
	}

	go c.run()
	return c
}

// Record submits one sample. It never blocks: if the queue is full the
// sample is dropped and the commit proceeds unaffected.
func (c *Collector) Record(s CommitStats) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return
	}
	select {
	case c.queue <- s:
	default:
		c.log.Warningf("stats queue full, dropping sample for version %d", s.Version)
	}
}

// Close drains all pending samples and stops the worker.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	<-c.done
}

// run is the worker loop. It exits once the queue is closed and drained.
func (c *Collector) run() {
	defer close(c.done)
	for s := range c.queue {
		c.apply(s)
	}
}

func (c *Collector) apply(s CommitStats) {
	c.commits.Inc()
	c.writes.Add(len(s.Writes))
	c.deletes.Add(len(s.Deletes))
	c.drops.Add(len(s.Drops))
	if s.CDCBytes > 0 {
		c.cdcRecords.Inc()
	}

	var bytes int
	for _, w := range s.Writes {
		bytes += w.ValueBytes
		c.valueSizes.Update(int64(w.ValueBytes))
	}
	c.writeBytes.Add(bytes)

	// Counters only go up; versions strictly increase across commits
	if v := uint64(s.Version); v > c.lastVersion.Get() {
		c.lastVersion.Set(v)
	}
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Snapshot returns the current totals. Samples still in the queue are not
// included until the worker has consumed them.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Commits:        c.commits.Get(),
		Writes:         c.writes.Get(),
		Deletes:        c.deletes.Get(),
		Drops:          c.drops.Get(),
		CDCRecords:     c.cdcRecords.Get(),
		WriteBytes:     c.writeBytes.Get(),
		MeanValueBytes: c.valueSizes.Mean(),
		LastVersion:    tier.CommitVersion(c.lastVersion.Get()),
	}
}

// WritePrometheus writes all counters in prometheus exposition format.
func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}
