package cdc

import (
	"fmt"
	"sync"
	"time"

	"github.com/avollmer/strataKV/lib/logging"
	"github.com/avollmer/strataKV/lib/tier"
	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Consumer Boundary
// --------------------------------------------------------------------------

// Source is the narrow view of the storage engine a consumer needs. It is
// implemented by the store; the consumer itself holds no storage state.
type Source interface {
	// FetchRecords returns up to maxRecords change records with a version
	// strictly greater than after, in ascending version order.
	FetchRecords(after tier.CommitVersion, maxRecords int) ([]Record, error)

	// ReadCheckpoint returns the last durably consumed version for a
	// consumer id, or 0 if the consumer has never checkpointed.
	ReadCheckpoint(consumerID string) (tier.CommitVersion, error)

	// WriteCheckpoint durably advances a consumer's checkpoint via a
	// normal commit at the given commit version.
	WriteCheckpoint(consumerID string, checkpoint, commitVersion tier.CommitVersion) error
}

// VersionSource mints the commit version used for a checkpoint advance.
// Version assignment is owned by an external authority, never by the engine.
type VersionSource func() tier.CommitVersion

// ConsumeFunc processes one batch of records. Returning an error withholds
// the checkpoint advance, so the next poll redelivers the identical batch.
type ConsumeFunc func(records []Record) error

// ConsumerOptions configures one poll consumer.
type ConsumerOptions struct {
	// ConsumerID identifies the checkpoint; distinct ids progress
	// independently.
	ConsumerID string
	// PollInterval is the delay between polls (0 = default 100ms).
	PollInterval time.Duration
	// MaxBatchSize caps the number of changes delivered per poll
	// (0 = unlimited). One commit's changes are never split, so a single
	// record may exceed the cap; it is then delivered alone.
	MaxBatchSize int
	// VersionSource provides commit versions for checkpoint advances.
	VersionSource VersionSource
}

// defaultPollInterval is used when no interval is configured.
const defaultPollInterval = 100 * time.Millisecond

// defaultFetchRecords bounds one poll's fetch when no batch cap is set.
const defaultFetchRecords = 256

// --------------------------------------------------------------------------
// Poll Consumer
// --------------------------------------------------------------------------

// PollConsumer periodically delivers new change records to a callback with
// at-least-once semantics per consumer id.
//
// Thread-safety: Start, Stop and IsRunning may be called concurrently; the
// callback is only ever invoked from the consumer's own goroutine.
type PollConsumer struct {
	source  Source
	consume ConsumeFunc
	opts    ConsumerOptions
	log     logger.ILogger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewPollConsumer creates a consumer. It does not start polling.
func NewPollConsumer(source Source, consume ConsumeFunc, opts ConsumerOptions) *PollConsumer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &PollConsumer{
		source:  source,
		consume: consume,
		opts:    opts,
		log:     logging.GetLogger("cdc"),
	}
}

// Start launches the polling goroutine. Starting a running consumer is an
// error.
func (p *PollConsumer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("consumer %q already running", p.opts.ConsumerID)
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go p.run(p.stop, p.done)
	return nil
}

// Stop halts polling and waits for the in-flight poll to finish. The
// consumer can be started again afterwards and resumes from its checkpoint.
func (p *PollConsumer) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	done := p.done
	p.mu.Unlock()

	<-done
}

// IsRunning reports whether the polling goroutine is active.
func (p *PollConsumer) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *PollConsumer) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := p.Poll(); err != nil {
				// Failed polls retry on the next tick; the
				// checkpoint was not advanced.
				p.log.Warningf("consumer %q poll failed: %v", p.opts.ConsumerID, err)
			}
		}
	}
}

// Poll performs one delivery cycle: fetch records past the checkpoint,
// deliver one batch, and advance the checkpoint on success. Exported so
// callers can drive delivery without the background goroutine.
func (p *PollConsumer) Poll() error {
	checkpoint, err := p.source.ReadCheckpoint(p.opts.ConsumerID)
	if err != nil {
		return err
	}

	maxRecords := defaultFetchRecords
	if p.opts.MaxBatchSize > 0 {
		// Every record carries at least one change, so the cap is also
		// an upper bound on the records one batch can hold.
		maxRecords = p.opts.MaxBatchSize
	}
	records, err := p.source.FetchRecords(checkpoint, maxRecords)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	batch := p.capBatch(records)
	if err := p.consume(batch); err != nil {
		return fmt.Errorf("consumer %q callback failed: %w", p.opts.ConsumerID, err)
	}

	newCheckpoint := batch[len(batch)-1].Version
	if err := p.source.WriteCheckpoint(p.opts.ConsumerID, newCheckpoint, p.opts.VersionSource()); err != nil {
		return err
	}

	p.log.Debugf("consumer %q advanced checkpoint to %d (%d records)",
		p.opts.ConsumerID, newCheckpoint, len(batch))
	return nil
}

// capBatch trims the fetched records to the configured change cap without
// ever splitting one record's changes. At least one record is delivered.
func (p *PollConsumer) capBatch(records []Record) []Record {
	if p.opts.MaxBatchSize <= 0 {
		return records
	}

	batch := records[:1]
	changes := len(records[0].Changes)
	for _, r := range records[1:] {
		if changes+len(r.Changes) > p.opts.MaxBatchSize {
			break
		}
		batch = records[:len(batch)+1]
		changes += len(r.Changes)
	}
	return batch
}
