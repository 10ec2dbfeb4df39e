// SPDX-License-Identifier: MIT

// Package engine is the dispatch core's public facade: it wires together
// the clock, credential pool, request store, priority queue, and
// dispatcher that internal/dispatcher, internal/credential, and
// internal/store each implement in isolation, and exposes exactly the
// operations named in §6 (Enqueue, Poll, Cancel, Stats, Wait).
//
// Everything here is explicitly constructed and passed by reference — no
// package-level state, no singleton accessor — satisfying the §9 design
// note against the teacher's global-singleton anti-pattern.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/genrelay/genrelay/internal/adapter"
	"github.com/genrelay/genrelay/internal/clock"
	"github.com/genrelay/genrelay/internal/credential"
	"github.com/genrelay/genrelay/internal/dispatcher"
	"github.com/genrelay/genrelay/internal/queue"
	"github.com/genrelay/genrelay/internal/store"
	"github.com/genrelay/genrelay/internal/types"
	"github.com/google/uuid"
)

// Operation and Args are re-exported at the engine boundary: callers of
// Enqueue construct these without reaching into internal/store directly.
type (
	Operation = store.Operation
	Args      = store.Args
)

const (
	OperationGenerate       = store.OperationGenerate
	OperationGenerateStream = store.OperationGenerateStream
	OperationEmbed          = store.OperationEmbed
	OperationCountTokens    = store.OperationCountTokens
)

// NewArgs constructs an opaque Args payload for the given operation.
func NewArgs(op Operation, payload []byte) Args { return store.NewArgs(op, payload) }

// ErrNotFound is returned by Poll and Wait for an unknown id (Cancel
// reports CancelNotFound instead).
var ErrNotFound = store.ErrNotFound

// CancelOutcome reports what Cancel actually did (§6).
type CancelOutcome string

const (
	CancelAccepted CancelOutcome = "accepted"
	CancelNotFound CancelOutcome = "not-found"
	CancelTerminal CancelOutcome = "terminal"
)

// PollResult is the snapshot returned by Poll and Wait.
type PollResult struct {
	ID                 string
	Status             types.RequestStatus
	Result             []byte
	Err                *types.RequestError
	AssignedCredential string
	EnqueuedAt         time.Time
	TerminalAt         time.Time
}

// Stats is the engine-wide snapshot returned by Stats() (§6).
type Stats struct {
	QueueSize             int
	Pending               int
	Processing            int
	Completed             int
	Failed                int
	InFlight              int
	TotalRPM              int
	PerCredentialSnapshot []credential.Snapshot
}

// Config bundles the engine's own tunables on top of dispatcher.Config.
type Config struct {
	Dispatcher        dispatcher.Config
	WaitTimeoutUnary  time.Duration
	WaitTimeoutStream time.Duration
	WaitPollInterval  time.Duration
}

// DefaultConfig returns the values named in §6.
func DefaultConfig() Config {
	return Config{
		Dispatcher:        dispatcher.DefaultConfig(),
		WaitTimeoutUnary:  120 * time.Second,
		WaitTimeoutStream: 180 * time.Second,
		WaitPollInterval:  10 * time.Millisecond,
	}
}

// Engine is the dispatch core's facade.
type Engine struct {
	cfg        Config
	clock      clock.Clock
	queue      *queue.Queue
	store      *store.Store
	pool       *credential.Pool
	dispatcher *dispatcher.Dispatcher
}

// New constructs an Engine from its already-constructed collaborators. The
// caller owns the adapter and the credential pool's id list; New wires the
// remaining internal plumbing (queue, store, dispatcher) and starts the
// dispatcher's control loop.
func New(cfg Config, c clock.Clock, pool *credential.Pool, ad adapter.Adapter) *Engine {
	if c == nil {
		c = clock.New()
	}
	q := queue.New()
	s := store.New(c)
	d := dispatcher.New(cfg.Dispatcher, c, q, s, pool, ad)
	d.Start()

	return &Engine{
		cfg:        cfg,
		clock:      c,
		queue:      q,
		store:      s,
		pool:       pool,
		dispatcher: d,
	}
}

// Close stops the dispatcher's control loop and drains in-flight workers.
func (e *Engine) Close() {
	e.dispatcher.Stop()
}

// Enqueue accepts a new request and returns its id (§6).
func (e *Engine) Enqueue(clientCredential string, priority int, operation Operation, args Args) string {
	id := uuid.NewString()
	now := e.clock.Now()

	e.store.Insert(&store.Record{
		ID:               id,
		ClientCredential: clientCredential,
		EnqueuedAt:       now,
		Priority:         priority,
		Operation:        operation,
		Args:             args,
		Status:           types.RequestStatusPending,
	})
	e.queue.Push(queue.Entry{ID: id, Priority: priority, EnqueuedAt: now})
	e.dispatcher.NotifyEnqueued()

	return id
}

// Poll returns the current state of a request (§6).
func (e *Engine) Poll(id string) (PollResult, error) {
	rec, ok := e.store.Get(id)
	if !ok {
		return PollResult{}, ErrNotFound
	}
	return toPollResult(rec), nil
}

// Cancel attempts to cancel a request (§6 / §5's cancellation semantics).
//
// Both Pending and Processing records are marked FAILED=CANCELLED
// immediately. For a Pending request this is straightforward: the
// dispatcher skips it on pop without ever assigning a credential. For a
// Processing request this dispatch core has no cross-goroutine preemption
// of an in-flight upstream call, so the adapter invocation runs to
// completion regardless — but the record is already terminal by the time
// it finishes, and the worker's later Processing->Completed (or
// Processing->Failed) transition attempt is rejected by the store's
// terminal-transition guard and discarded, so the client never observes
// the late result.
func (e *Engine) Cancel(id string) CancelOutcome {
	rec, ok := e.store.Get(id)
	if !ok {
		return CancelNotFound
	}
	if rec.Status.IsTerminal() {
		return CancelTerminal
	}

	err := e.store.Transition(id, types.RequestStatusFailed, func(r *store.Record) {
		r.Err = &types.RequestError{Kind: types.ErrorKindCancelled, Message: "cancelled by client"}
	})
	if err != nil {
		return CancelTerminal
	}
	return CancelAccepted
}

// Wait polls for a terminal result, blocking until one is reached, ctx is
// cancelled, or timeout elapses.
func (e *Engine) Wait(ctx context.Context, id string, timeout time.Duration) (PollResult, error) {
	deadline := e.clock.Now().Add(timeout)
	ticker := time.NewTicker(e.cfg.WaitPollInterval)
	defer ticker.Stop()

	for {
		rec, ok := e.store.Get(id)
		if !ok {
			return PollResult{}, ErrNotFound
		}
		if rec.Status.IsTerminal() {
			return toPollResult(rec), nil
		}
		if !e.clock.Now().Before(deadline) {
			result := toPollResult(rec)
			return result, errTimeout
		}

		select {
		case <-ctx.Done():
			return PollResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

var errTimeout = errors.New("engine: wait timed out before request reached a terminal state")

// ErrWaitTimeout is returned by Wait when the deadline elapses first.
func ErrWaitTimeout() error { return errTimeout }

// Stats returns the engine-wide snapshot (§6).
func (e *Engine) Stats() Stats {
	counts := e.store.CountByStatus()
	snaps := e.pool.Snapshot()

	totalRPM := len(snaps) * e.pool.RPMPerKey()

	return Stats{
		QueueSize:             e.queue.Len(),
		Pending:               counts[types.RequestStatusPending],
		Processing:            counts[types.RequestStatusProcessing],
		Completed:             counts[types.RequestStatusCompleted],
		Failed:                counts[types.RequestStatusFailed],
		InFlight:              e.dispatcher.InFlight(),
		TotalRPM:              totalRPM,
		PerCredentialSnapshot: snaps,
	}
}

func toPollResult(rec store.Record) PollResult {
	return PollResult{
		ID:                 rec.ID,
		Status:             rec.Status,
		Result:             rec.Result,
		Err:                rec.Err,
		AssignedCredential: rec.AssignedCredential,
		EnqueuedAt:         rec.EnqueuedAt,
		TerminalAt:         rec.TerminalAt,
	}
}
