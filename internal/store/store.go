// SPDX-License-Identifier: MIT

package store

import (
	"errors"
	"sync"
	"time"

	"github.com/genrelay/genrelay/internal/clock"
	"github.com/genrelay/genrelay/internal/types"
)

var (
	// ErrNotFound is returned when an id has no corresponding record.
	ErrNotFound = errors.New("store: request not found")

	// ErrInvalidTransition is returned when a transition would violate the
	// request status state machine.
	ErrInvalidTransition = errors.New("store: invalid status transition")

	// ErrAlreadyAssigned is returned when a mutator attempts to set
	// AssignedCredential on a record that already has one (§3: "assigned
	// at most once").
	ErrAlreadyAssigned = errors.New("store: credential already assigned")
)

// Mutator applies additional field changes as part of a Transition call,
// under the record's own lock. It must not change Status or ID.
type Mutator func(*Record)

// Store is the concurrency-safe registry of request records.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	clock   clock.Clock
}

// New constructs an empty Store.
func New(c clock.Clock) *Store {
	if c == nil {
		c = clock.New()
	}
	return &Store{
		records: make(map[string]*Record),
		clock:   c,
	}
}

// Insert adds a new record, which must start in RequestStatusPending.
func (s *Store) Insert(r *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = r
}

// Get returns a point-in-time copy of the record with the given id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	r, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	return r.snapshot(), true
}

// Transition moves the record with the given id to newStatus, applying
// mutator under the record's lock first. It enforces:
//   - the state machine in types.RequestStatus
//   - terminal immutability (a terminal record can never transition again)
//   - AssignedCredential is set at most once
//   - Result is present iff the resulting status is Completed
//   - Err is present iff the resulting status is Failed
func (s *Store) Transition(id string, newStatus types.RequestStatus, mutator Mutator) error {
	s.mu.RLock()
	r, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.Status.CanTransitionTo(newStatus) {
		return ErrInvalidTransition
	}

	prevAssigned := r.AssignedCredential

	if mutator != nil {
		mutator(r)
	}

	if prevAssigned != "" && r.AssignedCredential != "" && r.AssignedCredential != prevAssigned {
		r.AssignedCredential = prevAssigned
		return ErrAlreadyAssigned
	}

	switch newStatus {
	case types.RequestStatusCompleted:
		if r.Err != nil {
			return ErrInvalidTransition
		}
		if r.Result == nil {
			return ErrInvalidTransition
		}
	case types.RequestStatusFailed:
		if r.Err == nil {
			return ErrInvalidTransition
		}
		r.Result = nil
	}

	r.Status = newStatus
	if newStatus.IsTerminal() {
		r.TerminalAt = s.clock.Now()
	}
	return nil
}

// GC removes terminal records whose TerminalAt is older than maxAge. It is
// intended to run once per dispatcher tick (§4.3).
func (s *Store) GC(maxAge time.Duration) int {
	now := s.clock.Now()
	cutoff := now.Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, r := range s.records {
		r.mu.Lock()
		terminal := r.Status.IsTerminal()
		terminalAt := r.TerminalAt
		r.mu.Unlock()

		if terminal && terminalAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

// Len returns the current number of tracked records, terminal or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// CountByStatus returns how many records are currently in each status,
// feeding the stats() contract in §6.
func (s *Store) CountByStatus() map[types.RequestStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[types.RequestStatus]int, 4)
	for _, r := range s.records {
		r.mu.Lock()
		counts[r.Status]++
		r.mu.Unlock()
	}
	return counts
}
