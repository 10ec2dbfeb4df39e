// SPDX-License-Identifier: MIT

// Package httpadapter is the concrete adapter.Adapter that calls a real
// generative-AI HTTP endpoint. Each credential gets its own bearer token,
// attached per request — there is no shared mutable per-credential
// sub-client, only a pooled http.Client reused across all credentials
// (internal/platform/httpx already hardens it with sane timeouts).
package httpadapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/genrelay/genrelay/internal/adapter"
	"github.com/genrelay/genrelay/internal/platform/httpx"
	"github.com/genrelay/genrelay/internal/store"
)

// CredentialTokens resolves a credential id to the bearer token sent
// upstream. Kept as an interface so cmd/genrelayd can back it with
// whatever secret source it configures without httpadapter depending on
// the ingress credential store.
type CredentialTokens interface {
	TokenFor(credentialID string) (string, bool)
}

// Adapter calls a configurable HTTP endpoint and classifies the response
// into the adapter.Kind taxonomy (§6).
type Adapter struct {
	client  *http.Client
	baseURL string
	tokens  CredentialTokens
}

// New constructs an HTTP-backed adapter. timeout bounds one upstream call;
// the dispatcher's own retry/rotation loop (§4.6) is what provides overall
// resilience, not a long client timeout.
func New(baseURL string, tokens CredentialTokens, timeout time.Duration) *Adapter {
	return &Adapter{
		client:  httpx.NewClient(timeout),
		baseURL: baseURL,
		tokens:  tokens,
	}
}

// Invoke implements adapter.Adapter.
func (a *Adapter) Invoke(ctx context.Context, credentialID string, operation store.Operation, args store.Args) (adapter.Result, *adapter.Error) {
	token, ok := a.tokens.TokenFor(credentialID)
	if !ok {
		return adapter.Result{}, &adapter.Error{Kind: adapter.KindFatal, Detail: "unknown credential id: " + credentialID}
	}

	url := fmt.Sprintf("%s/%s", a.baseURL, operation)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(args.Payload))
	if err != nil {
		return adapter.Result{}, &adapter.Error{Kind: adapter.KindFatal, Detail: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := a.client.Do(req)
	if err != nil {
		// A transport-level failure (connection refused, timeout) is treated
		// as transient: the next attempt or rotation might succeed.
		return adapter.Result{}, &adapter.Error{Kind: adapter.KindTransient, Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return adapter.Result{}, &adapter.Error{Kind: adapter.KindTransient, Detail: err.Error()}
	}

	return classify(resp, body)
}

// classify maps an HTTP response onto the {OK, NULL_RESPONSE, TRANSIENT,
// QUOTA, FATAL} taxonomy from status code, body emptiness, and a
// retry-after-style header, the way a real SDK adapter would.
func classify(resp *http.Response, body []byte) (adapter.Result, *adapter.Error) {
	switch {
	case resp.StatusCode == http.StatusOK:
		if len(body) == 0 {
			return adapter.Result{}, &adapter.Error{Kind: adapter.KindNullResponse, Detail: "empty response body"}
		}
		return adapter.Result{Payload: body}, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return adapter.Result{}, &adapter.Error{Kind: adapter.KindQuota, Detail: retryAfterDetail(resp)}

	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusForbidden:
		// Upstream billing/quota rejections surface on a variety of status
		// codes depending on provider; treat them the same as 429.
		return adapter.Result{}, &adapter.Error{Kind: adapter.KindQuota, Detail: resp.Status}

	case resp.StatusCode >= 500:
		return adapter.Result{}, &adapter.Error{Kind: adapter.KindTransient, Detail: resp.Status}

	default:
		return adapter.Result{}, &adapter.Error{Kind: adapter.KindFatal, Detail: resp.Status}
	}
}

func retryAfterDetail(resp *http.Response) string {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			return fmt.Sprintf("rate limited, retry after %ds", secs)
		}
	}
	return "rate limited"
}
