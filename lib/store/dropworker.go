package store

import (
	"container/list"
	"sync"

	"github.com/avollmer/strataKV/lib/tier"
	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Drop / Compaction Worker
// --------------------------------------------------------------------------

// defaultDropQueueSize bounds the number of pending reclamation jobs.
const defaultDropQueueSize = 4096

// dropJob is one deferred reclamation request for a single key.
type dropJob struct {
	kind             tier.EntryKind
	key              []byte
	upToVersion      *tier.CommitVersion
	keepLastVersions *int
	pendingVersion   *tier.CommitVersion
}

// dropWorker reclaims versions off the commit's critical path: one FIFO
// queue, one background goroutine, one key per job. The lock is scoped to
// the queue only, never to tier storage, so reclamation scans run without
// blocking commits or reads.
//
// A newer job for a key supersedes an older queued one; with implicit
// keep-last-one jobs the newest pending version subsumes all earlier
// requests for that key.
type dropWorker struct {
	store *Store

	mu      sync.Mutex
	queue   *list.List               // of dropJob
	pending map[string]*list.Element // key -> queued job, for supersede
	maxSize int
	closed  bool

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}

	log logger.ILogger
}

func newDropWorker(store *Store, maxSize int, log logger.ILogger) *dropWorker {
	if maxSize <= 0 {
		maxSize = defaultDropQueueSize
	}
	w := &dropWorker{
		store:   store,
		queue:   list.New(),
		pending: make(map[string]*list.Element),
		maxSize: maxSize,
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     log,
	}
	go w.run()
	return w
}

// enqueue submits a job without blocking. A job for an already queued key
// replaces the queued one; a full queue rejects the job with a warning,
// since deferred reclamation is best-effort.
func (w *dropWorker) enqueue(job dropJob) {
	w.mu.Lock()

	if w.closed {
		w.mu.Unlock()
		return
	}
	if el, ok := w.pending[string(job.key)]; ok {
		el.Value = job
		w.mu.Unlock()
		return
	}
	if w.queue.Len() >= w.maxSize {
		w.mu.Unlock()
		w.log.Warningf("drop queue full, rejecting job for key %q", job.key)
		return
	}
	w.pending[string(job.key)] = w.queue.PushBack(job)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Close stops the worker after draining all queued jobs.
func (w *dropWorker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	<-w.done
}

// run dequeues and executes jobs one key at a time.
func (w *dropWorker) run() {
	defer close(w.done)

	for {
		job, ok := w.next()
		if ok {
			w.process(job)
			continue
		}

		select {
		case <-w.notify:
		case <-w.stop:
			// Drain whatever arrived before the queue closed
			for {
				job, ok := w.next()
				if !ok {
					return
				}
				w.process(job)
			}
		}
	}
}

// next pops the oldest queued job. The queue lock is held only here.
func (w *dropWorker) next() (dropJob, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	front := w.queue.Front()
	if front == nil {
		return dropJob{}, false
	}
	w.queue.Remove(front)
	job := front.Value.(dropJob)
	delete(w.pending, string(job.key))
	return job, true
}

// process runs the same scan-and-delete logic as a synchronous Drop delta.
// Failures are logged and swallowed; the job is lost, not retried.
func (w *dropWorker) process(job dropJob) {
	entries, err := w.store.findEntriesToDrop(
		job.kind, job.key, job.upToVersion, job.keepLastVersions, job.pendingVersion)
	if err != nil {
		w.log.Errorf("deferred drop scan for key %q failed: %v", job.key, err)
		return
	}
	if len(entries) == 0 {
		return
	}

	// Route each deletion to the tier that owns the entry
	batches := make(map[int]map[tier.EntryKind][]tier.Write)
	for _, e := range entries {
		if batches[e.tierIdx] == nil {
			batches[e.tierIdx] = make(map[tier.EntryKind][]tier.Write)
		}
		batches[e.tierIdx][job.kind] = append(batches[e.tierIdx][job.kind], tier.Write{
			Key:  e.versionedKey,
			Kind: tier.WriteDelete,
		})
	}
	for tierIdx, batch := range batches {
		if err := w.store.tiers[tierIdx].Set(batch); err != nil {
			w.log.Errorf("deferred drop write for key %q failed: %v", job.key, err)
		}
	}

	w.log.Debugf("deferred drop purged %d entries for key %q", len(entries), job.key)
}
