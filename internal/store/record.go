// SPDX-License-Identifier: MIT

// Package store implements the dispatch engine's request store: the
// authoritative, terminality-enforcing record of every request the engine
// has accepted. Each record is guarded by its own lock so that concurrent
// pollers never block the dispatcher's transition calls, while a
// map-level RWMutex protects the store's own insert/lookup structure —
// the same two-tier locking shape the teacher uses for its job registry.
package store

import (
	"sync"
	"time"

	"github.com/genrelay/genrelay/internal/types"
)

// Record is one request's full lifecycle state. Fields are only ever
// mutated through Store.Transition, which enforces the state machine in
// types.RequestStatus.
type Record struct {
	mu sync.Mutex

	ID                string
	ClientCredential  string
	EnqueuedAt        time.Time
	Priority          int
	Operation         Operation
	Args              Args
	Status            types.RequestStatus
	Result            []byte
	Err               *types.RequestError
	AssignedCredential string
	TerminalAt        time.Time
}

// snapshot returns a value copy of the record's externally visible fields,
// safe to read without holding the caller's own lock.
func (r *Record) snapshot() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Record{
		ID:                 r.ID,
		ClientCredential:   r.ClientCredential,
		EnqueuedAt:         r.EnqueuedAt,
		Priority:           r.Priority,
		Operation:          r.Operation,
		Args:               r.Args,
		Status:             r.Status,
		Result:             r.Result,
		Err:                r.Err,
		AssignedCredential: r.AssignedCredential,
		TerminalAt:         r.TerminalAt,
	}
}
