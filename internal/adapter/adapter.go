// SPDX-License-Identifier: MIT

// Package adapter defines the contract between the dispatch engine and
// whatever generative-AI service sits behind a credential. The engine
// never talks to an upstream SDK directly — it only ever calls Invoke,
// which keeps the retry/rotation state machine in internal/dispatcher
// entirely decoupled from how a concrete adapter reaches the network.
package adapter

import (
	"context"

	"github.com/genrelay/genrelay/internal/store"
)

// Kind classifies the outcome of one Invoke call, driving the dispatcher's
// retry/rotation decisions (§4.6).
type Kind string

const (
	// KindOK means the upstream call succeeded with a usable result.
	KindOK Kind = "OK"

	// KindNullResponse means the upstream call succeeded transport-wise but
	// returned an empty/null payload — retriable on the same credential.
	KindNullResponse Kind = "NULL_RESPONSE"

	// KindTransient means a transient server-side error (5xx, timeout) —
	// retriable on the same credential up to the attempt limit, then falls
	// through to rotation.
	KindTransient Kind = "TRANSIENT"

	// KindQuota means a quota or rate-limit error from the upstream service
	// itself — falls through to rotation immediately, never retried on the
	// same credential.
	KindQuota Kind = "QUOTA"

	// KindFatal means any other error: the request fails immediately with
	// no retry and no rotation.
	KindFatal Kind = "FATAL"
)

// Error is the structured failure returned by Invoke for any non-OK Kind.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Detail
}

// Result is the successful payload returned by Invoke.
type Result struct {
	Payload []byte
}

// Adapter invokes one upstream operation using the given credential. It is
// a pure function of its arguments: no shared mutable state may leak
// between calls for different credentials (§9 design note — each
// credential's sub-client, if any, is private to the adapter
// implementation).
type Adapter interface {
	Invoke(ctx context.Context, credentialID string, operation store.Operation, args store.Args) (Result, *Error)
}
