// SPDX-License-Identifier: MIT

// Package dispatcher implements the engine's single control loop (C5):
// one goroutine that pops requests off the priority queue, reserves a
// credential, and launches a per-request worker goroutine to run the
// upstream adapter's retry/rotation state machine. The control loop never
// blocks on upstream I/O — only workers do.
//
// The worker lifecycle (context cancellation, WaitGroup draining, a
// sync.Once-guarded Stop) follows the same shape the teacher's background
// job pool uses, generalized from a fixed worker count to one goroutine
// per in-flight request bounded by MaxConcurrent.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/genrelay/genrelay/internal/adapter"
	"github.com/genrelay/genrelay/internal/clock"
	"github.com/genrelay/genrelay/internal/credential"
	"github.com/genrelay/genrelay/internal/log"
	"github.com/genrelay/genrelay/internal/queue"
	"github.com/genrelay/genrelay/internal/store"
	"github.com/genrelay/genrelay/internal/types"
)

// Config holds the dispatcher's tunable parameters (§6 configuration).
type Config struct {
	MaxConcurrent int
	MaxRotations  int
	MaxAttempts   int // retries per credential before rotating (A in §4.6)
	RetryBackoff  time.Duration
	ResultTTL     time.Duration

	// QueueEmptyWait, ConcurrencyWait, and CredentialWait bound how long
	// the control loop waits on each condition before re-checking; an
	// enqueue or a worker completion wakes the loop earlier via signal
	// channels (§4.5: "event-driven implementation is preferred").
	QueueEmptyWait  time.Duration
	ConcurrencyWait time.Duration
	CredentialWait  time.Duration
}

// DefaultConfig returns the configuration values named in §6.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   25,
		MaxRotations:    2,
		MaxAttempts:     1,
		RetryBackoff:    3 * time.Second,
		ResultTTL:       3600 * time.Second,
		QueueEmptyWait:  500 * time.Millisecond,
		ConcurrencyWait: 100 * time.Millisecond,
		CredentialWait:  200 * time.Millisecond,
	}
}

// Dispatcher is the C5 control loop plus the §4.6 adapter retry/rotation
// state machine run by each worker.
type Dispatcher struct {
	cfg     Config
	clock   clock.Clock
	queue   *queue.Queue
	store   *store.Store
	pool    *credential.Pool
	adapter adapter.Adapter

	inFlight int64 // atomic

	enqueueSignal    chan struct{}
	completionSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New constructs a Dispatcher. Call Start to begin the control loop.
func New(cfg Config, c clock.Clock, q *queue.Queue, s *store.Store, pool *credential.Pool, ad adapter.Adapter) *Dispatcher {
	if c == nil {
		c = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:              cfg,
		clock:            c,
		queue:            q,
		store:            s,
		pool:             pool,
		adapter:          ad,
		enqueueSignal:    make(chan struct{}, 1),
		completionSignal: make(chan struct{}, 1),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// NotifyEnqueued wakes the control loop if it is idle waiting on an empty
// queue. Safe to call from any goroutine; non-blocking.
func (d *Dispatcher) NotifyEnqueued() {
	signal(d.enqueueSignal)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// InFlight returns the current number of in-flight (Processing) requests.
func (d *Dispatcher) InFlight() int {
	return int(atomic.LoadInt64(&d.inFlight))
}

// Start launches the control loop goroutine. Safe to call once.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop cancels the control loop and waits for it, and every in-flight
// worker, to exit. Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		d.cancel()
	})
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		d.store.GC(d.cfg.ResultTTL)

		if d.queue.Empty() {
			d.wait(d.cfg.QueueEmptyWait, d.enqueueSignal)
			continue
		}

		if atomic.LoadInt64(&d.inFlight) >= int64(d.cfg.MaxConcurrent) {
			d.wait(d.cfg.ConcurrencyWait, d.completionSignal)
			continue
		}

		credID := d.pool.Acquire()
		if credID == credential.NoCredential {
			d.wait(d.cfg.CredentialWait, nil)
			continue
		}

		entry, ok := d.queue.Pop()
		if !ok {
			// Queue emptied between the Empty() check and Pop; the
			// credential was only selected, never used.
			continue
		}

		rec, ok := d.store.Get(entry.ID)
		if !ok || rec.Status != types.RequestStatusPending {
			// Stale entry (e.g. cancelled while queued). The reserved
			// credential was selected but not used — no RecordUse call.
			continue
		}

		err := d.store.Transition(entry.ID, types.RequestStatusProcessing, func(r *store.Record) {
			r.AssignedCredential = credID
		})
		if err != nil {
			// Lost a race (e.g. concurrent cancellation); credential
			// selection without use is allowed.
			continue
		}

		d.pool.RecordUse(credID)
		atomic.AddInt64(&d.inFlight, 1)

		d.wg.Add(1)
		go d.runWorker(entry.ID, credID)
	}
}

// wait blocks until either ctx is cancelled, sig fires (if non-nil), or
// timeout elapses — whichever comes first. timeout is an upper bound on
// dispatch latency, not a source of jitter the caller should rely on.
func (d *Dispatcher) wait(timeout time.Duration, sig chan struct{}) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if sig == nil {
		select {
		case <-d.ctx.Done():
		case <-timer.C:
		}
		return
	}

	select {
	case <-d.ctx.Done():
	case <-sig:
	case <-timer.C:
	}
}

// runWorker executes the §4.6 retry/rotation state machine for one
// request, then releases its in-flight slot.
func (d *Dispatcher) runWorker(requestID, firstCredential string) {
	defer func() {
		if r := recover(); r != nil {
			log.L().Error().Interface("panic", r).Str("request_id", requestID).Msg("worker panic recovered")
			_ = d.store.Transition(requestID, types.RequestStatusFailed, func(rec *store.Record) {
				rec.Err = &types.RequestError{Kind: types.ErrorKindInternal, Message: "worker panic"}
			})
		}
		atomic.AddInt64(&d.inFlight, -1)
		signal(d.completionSignal)
		d.wg.Done()
	}()

	rec, ok := d.store.Get(requestID)
	if !ok {
		return
	}

	newWorkerRun(d, requestID, rec.Operation, rec.Args, firstCredential).execute()
}
