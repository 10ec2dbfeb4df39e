// SPDX-License-Identifier: MIT
package main

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/genrelay/genrelay/internal/audit"
	"github.com/genrelay/genrelay/internal/engine"
	"github.com/genrelay/genrelay/internal/ingress"
	"github.com/go-chi/chi/v5"
)

// handler binds the engine facade to the HTTP surface named in §6:
// enqueue, poll (with optional synchronous wait), cancel, stats, and a
// read-only admin credentials view.
type handler struct {
	engine           *engine.Engine
	store            *ingress.Store
	audit            *audit.Logger
	waitTimeoutUnary time.Duration
}

func newHandler(e *engine.Engine, store *ingress.Store, auditLog *audit.Logger, waitTimeoutUnary time.Duration) *handler {
	return &handler{engine: e, store: store, audit: auditLog, waitTimeoutUnary: waitTimeoutUnary}
}

func (h *handler) enqueue(w http.ResponseWriter, r *http.Request) {
	clientID, ok := authenticate(h.store, h.audit, r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	op := engine.Operation(body.Operation)
	switch op {
	case engine.OperationGenerate, engine.OperationGenerateStream, engine.OperationEmbed, engine.OperationCountTokens:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown operation: " + body.Operation})
		return
	}

	id := h.engine.Enqueue(clientID, body.Priority, op, engine.NewArgs(op, body.Payload))
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (h *handler) poll(w http.ResponseWriter, r *http.Request) {
	if _, ok := authenticate(h.store, h.audit, r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	id := requestIDFromPath(r)
	wait := r.URL.Query().Get("wait") == "true"

	if !wait {
		result, err := h.engine.Poll(id)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, pollResponse(result))
		return
	}

	result, err := h.engine.Wait(r.Context(), id, h.waitTimeoutUnary)
	if err != nil && err != engine.ErrWaitTimeout() {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, pollResponse(result))
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	clientID, ok := authenticate(h.store, h.audit, r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	id := requestIDFromPath(r)
	switch h.engine.Cancel(id) {
	case engine.CancelAccepted:
		h.audit.RequestCancelled(id, clientID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	case engine.CancelTerminal:
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already-terminal"})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	if _, ok := authenticate(h.store, h.audit, r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *handler) adminCredentials(w http.ResponseWriter, r *http.Request) {
	if _, ok := authenticate(h.store, h.audit, r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Stats().PerCredentialSnapshot)
}

func requestIDFromPath(r *http.Request) string {
	return chi.URLParam(r, "id")
}

type pollResponseBody struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	Result             string `json:"result,omitempty"`
	ErrorKind          string `json:"error_kind,omitempty"`
	ErrorMessage       string `json:"error_message,omitempty"`
	AssignedCredential string `json:"assigned_credential,omitempty"`
	EnqueuedAt         string `json:"enqueued_at"`
	TerminalAt         string `json:"terminal_at,omitempty"`
}

func pollResponse(res engine.PollResult) pollResponseBody {
	body := pollResponseBody{
		ID:                 res.ID,
		Status:             res.Status.String(),
		AssignedCredential: res.AssignedCredential,
		EnqueuedAt:         res.EnqueuedAt.Format(time.RFC3339Nano),
	}
	if len(res.Result) > 0 {
		body.Result = base64.StdEncoding.EncodeToString(res.Result)
	}
	if res.Err != nil {
		body.ErrorKind = res.Err.Kind.String()
		body.ErrorMessage = res.Err.Message
	}
	if !res.TerminalAt.IsZero() {
		body.TerminalAt = res.TerminalAt.Format(time.RFC3339Nano)
	}
	return body
}
