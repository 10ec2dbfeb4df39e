// SPDX-License-Identifier: MIT

package dispatcher

import (
	"github.com/genrelay/genrelay/internal/adapter"
	"github.com/genrelay/genrelay/internal/credential"
	"github.com/genrelay/genrelay/internal/log"
	"github.com/genrelay/genrelay/internal/store"
	"github.com/genrelay/genrelay/internal/telemetry"
	"github.com/genrelay/genrelay/internal/types"
)

// workerRun carries the per-request state threaded through §4.6's outer
// rotation loop and inner attempt loop. Each field is local to one
// request's worker goroutine; nothing here is shared across requests.
type workerRun struct {
	d            *Dispatcher
	requestID    string
	operation    store.Operation
	args         store.Args
	credentialID string
}

func newWorkerRun(d *Dispatcher, requestID string, op store.Operation, args store.Args, firstCredential string) *workerRun {
	return &workerRun{
		d:            d,
		requestID:    requestID,
		operation:    op,
		args:         args,
		credentialID: firstCredential,
	}
}

// execute runs the outer rotation loop (r = 0..MaxRotations) over the
// inner attempt loop (a = 0..MaxAttempts), exactly as described in §4.6,
// and leaves the request record in a terminal state before returning.
func (w *workerRun) execute() {
	var lastRotationCause adapter.Kind

	for rotation := 0; ; rotation++ {
		outcome, done := w.runAttempts()
		if done {
			return
		}
		lastRotationCause = outcome

		if rotation >= w.d.cfg.MaxRotations {
			w.finalize(lastRotationCause)
			return
		}

		next := w.d.pool.Acquire()
		if next == credential.NoCredential {
			w.fail(types.ErrorKindAllCredentialsDown, "no eligible credential to rotate to")
			return
		}
		w.d.pool.RecordUse(next)
		w.credentialID = next
	}
}

// runAttempts runs the inner attempt loop on the current credential. It
// returns (kind, true) if the request reached a terminal state (success or
// a non-retriable/non-rotatable failure already recorded), or
// (fallthroughKind, false) if the attempt budget was exhausted and the
// caller should rotate credentials.
func (w *workerRun) runAttempts() (adapter.Kind, bool) {
	for attempt := 0; ; attempt++ {
		result, errOut := w.d.adapter.Invoke(w.d.ctx, w.credentialID, w.operation, w.args)

		if errOut == nil {
			w.d.pool.RecordOutcome(w.credentialID, false)
			telemetry.RecordDispatchAttempt(w.d.ctx, string(w.operation), string(adapter.KindOK))
			w.succeed(result)
			return adapter.KindOK, true
		}

		w.d.pool.RecordOutcome(w.credentialID, errOut.Kind == adapter.KindFatal)
		telemetry.RecordDispatchAttempt(w.d.ctx, string(w.operation), string(errOut.Kind))

		switch errOut.Kind {
		case adapter.KindNullResponse:
			if attempt < w.d.cfg.MaxAttempts {
				continue // retry same credential immediately
			}
			return adapter.KindNullResponse, false // fall through to rotation

		case adapter.KindTransient:
			if attempt < w.d.cfg.MaxAttempts {
				w.d.clock.Sleep(w.d.cfg.RetryBackoff)
				continue
			}
			return adapter.KindTransient, false // fall through to rotation

		case adapter.KindQuota:
			return adapter.KindQuota, false // immediate fall through, no retry

		case adapter.KindFatal:
			w.fail(types.ErrorKindUpstreamFatal, errOut.Detail)
			return adapter.KindFatal, true

		default:
			w.fail(types.ErrorKindInternal, "unrecognized adapter error kind: "+string(errOut.Kind))
			return adapter.KindFatal, true
		}
	}
}

// finalize records the terminal failure once the rotation budget is
// exhausted, choosing the error kind named by the cause that triggered the
// last fall-through (§4.6).
func (w *workerRun) finalize(cause adapter.Kind) {
	if cause == adapter.KindQuota {
		w.fail(types.ErrorKindQuotaExhausted, "all rotation attempts exhausted on quota/rate-limit errors")
		return
	}
	w.fail(types.ErrorKindTransientExhausted, "all rotation attempts exhausted on transient errors")
}

func (w *workerRun) succeed(result adapter.Result) {
	_ = w.d.store.Transition(w.requestID, types.RequestStatusCompleted, func(rec *store.Record) {
		rec.Result = result.Payload
	})
}

func (w *workerRun) fail(kind types.ErrorKind, detail string) {
	_ = w.d.store.Transition(w.requestID, types.RequestStatusFailed, func(rec *store.Record) {
		rec.Err = &types.RequestError{Kind: kind, Message: detail}
	})

	if kind == types.ErrorKindQuotaExhausted || kind == types.ErrorKindAllCredentialsDown || kind == types.ErrorKindUpstreamFatal {
		log.L().Warn().
			Str("request_id", w.requestID).
			Str("credential_id", w.credentialID).
			Str("error_kind", string(kind)).
			Str("detail", detail).
			Msg("request failed terminally")
	}
}
