// SPDX-License-Identifier: MIT

// Package fakeadapter is a scripted adapter.Adapter used to drive the
// dispatch engine's tests against §8's scenarios without a network call.
// Scripts are keyed by credential id and consumed in order: each call to
// Invoke for a given credential pops the next scripted outcome, or returns
// KindFatal if the script is exhausted, so a test can assert exactly how
// many times each credential was actually invoked.
package fakeadapter

import (
	"context"
	"sync"

	"github.com/genrelay/genrelay/internal/adapter"
	"github.com/genrelay/genrelay/internal/store"
)

// Outcome is one scripted response for a single Invoke call.
type Outcome struct {
	Kind    adapter.Kind
	Payload []byte
	Detail  string
}

// Adapter replays scripted outcomes per credential id.
type Adapter struct {
	mu      sync.Mutex
	scripts map[string][]Outcome
	invoked []Invocation
}

// Invocation records one call made against the fake adapter, for test
// assertions about attempt/rotation counts.
type Invocation struct {
	CredentialID string
	Operation    store.Operation
}

// New constructs a fake adapter. scripts maps credential id to the ordered
// sequence of outcomes that credential's Invoke calls will return.
func New(scripts map[string][]Outcome) *Adapter {
	return &Adapter{scripts: scripts}
}

// Invoke implements adapter.Adapter.
func (a *Adapter) Invoke(_ context.Context, credentialID string, operation store.Operation, _ store.Args) (adapter.Result, *adapter.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.invoked = append(a.invoked, Invocation{CredentialID: credentialID, Operation: operation})

	queue := a.scripts[credentialID]
	if len(queue) == 0 {
		return adapter.Result{}, &adapter.Error{Kind: adapter.KindFatal, Detail: "fakeadapter: script exhausted for " + credentialID}
	}

	next := queue[0]
	a.scripts[credentialID] = queue[1:]

	if next.Kind == adapter.KindOK {
		return adapter.Result{Payload: next.Payload}, nil
	}
	return adapter.Result{}, &adapter.Error{Kind: next.Kind, Detail: next.Detail}
}

// Invocations returns every call made so far, in order.
func (a *Adapter) Invocations() []Invocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Invocation, len(a.invoked))
	copy(out, a.invoked)
	return out
}

// CountFor returns how many times credentialID was invoked.
func (a *Adapter) CountFor(credentialID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, inv := range a.invoked {
		if inv.CredentialID == credentialID {
			n++
		}
	}
	return n
}
