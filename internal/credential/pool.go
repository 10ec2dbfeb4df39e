// SPDX-License-Identifier: MIT

// Package credential implements the dispatch engine's credential pool: a
// set of independently rate-limited upstream credentials from which the
// dispatcher reserves one slot per in-flight request. All eligibility
// checks and reservations happen under a single pool-wide mutex — §4.2 of
// the engine's design explicitly permits this for "tens of credentials",
// and a per-credential lock would buy nothing at that scale while making
// the tie-break logic harder to reason about.
package credential

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/genrelay/genrelay/internal/clock"
	"github.com/genrelay/genrelay/internal/log"
	"github.com/genrelay/genrelay/internal/resilience"
	"github.com/google/renameio/v2"
)

// NoCredential is returned by Acquire when no credential is currently
// eligible for a reservation.
const NoCredential = ""

// minIntervalFatalThreshold is the number of FATAL invocation outcomes
// within the breaker's one-minute sliding window (with at least as many
// recorded outcomes in that window) that trips a credential's circuit
// breaker, marking it unusable without waiting for an operator to notice.
// Non-FATAL outcomes in between do not reset the count. See RecordOutcome.
const minIntervalFatalThreshold = 3

// state is the mutable per-credential bookkeeping the pool guards under its
// single mutex. The ring buffer holds invocation timestamps at twice the
// per-minute quota (§3) to absorb entries that are about to roll off the
// 60s window on the next prune rather than being evicted prematurely.
type state struct {
	id            string
	usable        bool
	ring          []time.Time
	lastInvokedAt time.Time
	breaker       *resilience.CircuitBreaker
}

// Snapshot is the read-only, point-in-time view of one credential returned
// by Pool.Snapshot, matching the per_credential_snapshot shape in §6.
type Snapshot struct {
	ID                 string    `json:"id"`
	Usable             bool      `json:"usable"`
	InFlightRPMUsage   int       `json:"rpm_usage"`
	AvailableCapacity  int       `json:"available_capacity"`
	LastInvokedAt      time.Time `json:"last_invoked_at,omitempty"`
	CircuitBreakerOpen bool      `json:"circuit_breaker_open"`
}

// Pool manages a fixed set of upstream credentials, each bound by the same
// requests-per-minute quota.
type Pool struct {
	mu          sync.Mutex
	order       []string // stable iteration / tie-break order by insertion
	states      map[string]*state
	clock       clock.Clock
	rpmPerKey   int
	ringCap     int
	persistPath string
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithClock overrides the pool's time source; production code should never
// need this, tests always will.
func WithClock(c clock.Clock) Option {
	return func(p *Pool) { p.clock = c }
}

// WithPersistDisabled enables the optional disabled-credential sidecar file
// described in SPEC_FULL.md's supplemented-features section: on
// MarkUnusable, the full set of currently-unusable credential ids is
// written to path, and New will consult it on startup so an operator does
// not have to relearn a dead key across restarts. Off by default.
func WithPersistDisabled(path string) Option {
	return func(p *Pool) { p.persistPath = path }
}

// New constructs a Pool for the given credential ids, each bound to
// rpmPerKey requests per minute.
func New(ids []string, rpmPerKey int, opts ...Option) *Pool {
	p := &Pool{
		states:    make(map[string]*state, len(ids)),
		clock:     clock.New(),
		rpmPerKey: rpmPerKey,
		ringCap:   2 * rpmPerKey,
	}
	for _, opt := range opts {
		opt(p)
	}

	disabled := map[string]bool{}
	if p.persistPath != "" {
		disabled = loadDisabled(p.persistPath)
	}

	for _, id := range ids {
		p.order = append(p.order, id)
		p.states[id] = &state{
			id:     id,
			usable: !disabled[id],
			breaker: resilience.NewCircuitBreaker(
				"credential."+id,
				minIntervalFatalThreshold,
				minIntervalFatalThreshold,
				time.Minute,
				5*time.Minute,
				resilience.WithClock(clockAdapter{p.clock}),
			),
		}
	}
	return p
}

// clockAdapter narrows clock.Clock down to the single-method interface
// resilience.CircuitBreaker expects.
type clockAdapter struct{ c clock.Clock }

func (a clockAdapter) Now() time.Time { return a.c.Now() }

// Acquire selects and reserves the best eligible credential, returning
// NoCredential if none currently qualifies. Eligibility (§4.2):
//   - usable
//   - pruned ring count < rpm_per_key
//   - now - last_invoked_at >= 60s / rpm_per_key (the minimum-interval guard
//     that smooths bursts instead of letting the whole quota fire at once)
//
// Among eligible credentials, the one with the greatest available capacity
// wins; ties break toward the credential idle longest, then toward the
// lexicographically lowest id for determinism.
//
// Acquire only selects a credential; it does not count against its quota.
// The caller must call RecordUse once a worker actually launches with this
// credential — selection without use is allowed (§4.5 step 5) when the
// popped queue entry turns out to be stale.
func (p *Pool) Acquire() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	minInterval := time.Duration(float64(time.Minute) / float64(p.rpmPerKey))

	var best *state
	var bestCapacity int
	var bestIdle time.Duration

	for _, id := range p.order {
		s := p.states[id]
		if !s.usable {
			continue
		}
		p.pruneLocked(s, now)
		if len(s.ring) >= p.rpmPerKey {
			continue
		}
		if !s.lastInvokedAt.IsZero() && now.Sub(s.lastInvokedAt) < minInterval {
			continue
		}

		capacity := p.rpmPerKey - len(s.ring)
		idle := now.Sub(s.lastInvokedAt)
		if s.lastInvokedAt.IsZero() {
			idle = time.Duration(1<<63 - 1) // never invoked: maximally idle
		}

		if best == nil ||
			capacity > bestCapacity ||
			(capacity == bestCapacity && idle > bestIdle) ||
			(capacity == bestCapacity && idle == bestIdle && id < best.id) {
			best = s
			bestCapacity = capacity
			bestIdle = idle
		}
	}

	if best == nil {
		return NoCredential
	}
	return best.id
}

// RecordUse stamps a reserved credential as invoked at the current time and
// appends to its ring buffer, counting it against the RPM quota.
func (p *Pool) RecordUse(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.states[id]
	if !ok {
		return
	}
	now := p.clock.Now()
	s.lastInvokedAt = now
	s.ring = append(s.ring, now)
	if len(s.ring) > p.ringCap {
		s.ring = s.ring[len(s.ring)-p.ringCap:]
	}
}

// MarkUnusable permanently removes a credential from rotation. This is
// irreversible for the lifetime of the pool (§3). RecordOutcome calls it
// once a credential's circuit breaker trips; a single FATAL outcome does
// not. Without WithPersistDisabled the credential is usable again after a
// process restart; with it, the sidecar keeps it disabled across restarts.
func (p *Pool) MarkUnusable(id string) {
	p.mu.Lock()
	s, ok := p.states[id]
	if ok {
		s.usable = false
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	log.L().Warn().Str("credential_id", id).Msg("credential marked unusable")
	p.persistDisabledLocked()
}

// RecordOutcome feeds an upstream call result into the credential's circuit
// breaker. Repeated FATAL outcomes trip the breaker and mark the credential
// unusable even if a single bad response would not otherwise have (§4.6
// covers per-request FATAL handling; this covers the credential-level
// aggregate across many requests).
func (p *Pool) RecordOutcome(id string, fatal bool) {
	p.mu.Lock()
	s, ok := p.states[id]
	p.mu.Unlock()
	if !ok {
		return
	}

	if fatal {
		_ = s.breaker.Execute(func() error { return errFatalOutcome })
	} else {
		_ = s.breaker.Execute(func() error { return nil })
	}

	if s.breaker.GetState() == resilience.StateOpen {
		p.MarkUnusable(id)
	}
}

var errFatalOutcome = &fatalOutcomeError{}

type fatalOutcomeError struct{}

func (*fatalOutcomeError) Error() string { return "fatal upstream outcome" }

// pruneLocked drops ring entries older than 60 seconds. Caller must hold mu.
func (p *Pool) pruneLocked(s *state, now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for ; i < len(s.ring); i++ {
		if !s.ring[i].Before(cutoff) {
			break
		}
	}
	s.ring = s.ring[i:]
}

// RPMPerKey returns the per-credential requests-per-minute quota every
// credential in the pool is bound to.
func (p *Pool) RPMPerKey() int {
	return p.rpmPerKey
}

// Snapshot returns a point-in-time view of every credential in the pool,
// ordered by id, for use in §6's stats() contract.
func (p *Pool) Snapshot() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	out := make([]Snapshot, 0, len(p.order))
	for _, id := range p.order {
		s := p.states[id]
		p.pruneLocked(s, now)
		out = append(out, Snapshot{
			ID:                 s.id,
			Usable:             s.usable,
			InFlightRPMUsage:   len(s.ring),
			AvailableCapacity:  p.rpmPerKey - len(s.ring),
			LastInvokedAt:      s.lastInvokedAt,
			CircuitBreakerOpen: s.breaker.GetState() == resilience.StateOpen,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Pool) persistDisabledLocked() {
	if p.persistPath == "" {
		return
	}
	p.mu.Lock()
	disabled := make([]string, 0)
	for _, id := range p.order {
		if !p.states[id].usable {
			disabled = append(disabled, id)
		}
	}
	p.mu.Unlock()

	data, err := json.Marshal(disabled)
	if err != nil {
		log.L().Error().Err(err).Msg("failed to marshal disabled credential list")
		return
	}
	// renameio writes to a temp file, fsyncs, then renames atomically over
	// the target so a crash mid-write can never leave loadDisabled a
	// truncated file to silently discard on next boot.
	if err := renameio.WriteFile(p.persistPath, data, 0o600); err != nil {
		log.L().Error().Err(err).Str("path", p.persistPath).Msg("failed to persist disabled credential list")
	}
}

func loadDisabled(path string) map[string]bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]bool{}
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		log.L().Warn().Err(err).Str("path", path).Msg("failed to parse disabled credential sidecar file, ignoring")
		return map[string]bool{}
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
