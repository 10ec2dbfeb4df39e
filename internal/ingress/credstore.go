// SPDX-License-Identifier: MIT

// Package ingress provides the HTTP-adjacent helpers a process embedding
// the dispatch engine needs but that the engine itself stays ignorant of:
// client-credential bearer-token lookup. It lives outside the engine
// package boundary per the dispatch core's "no HTTP surface" non-goal.
// Per-client-IP admission throttling is not in this package; it lives in
// internal/ratelimit.
package ingress

import (
	"sync"

	"github.com/genrelay/genrelay/internal/auth"
	"github.com/genrelay/genrelay/internal/config"
)

// credstore resolves an inbound bearer token to the caller's client id.
//
// Store is an in-memory, mutex-guarded map from opaque bearer token to
// client id, with constant-time token comparison. It is the concrete (but
// swappable) reference implementation of the "client-credential store"
// external collaborator named in the engine's own design.
type Store struct {
	mu      sync.RWMutex
	byToken map[string]string // token -> client id
}

// NewStore builds a Store from a slice of client configs, typically
// config.AppConfig.Clients loaded at startup.
func NewStore(clients []config.ClientConfig) *Store {
	s := &Store{byToken: make(map[string]string, len(clients))}
	for _, c := range clients {
		s.byToken[c.Token] = c.ClientID
	}
	return s
}

// Authenticate looks up the client id for a bearer token using
// constant-time comparison against every configured token, so lookup cost
// does not leak which tokens exist via timing. Returns ("", false) if no
// configured token matches.
func (s *Store) Authenticate(token string) (clientID string, ok bool) {
	if token == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for candidate, id := range s.byToken {
		if auth.AuthorizeToken(token, candidate) && !ok {
			clientID, ok = id, true
		}
	}
	return clientID, ok
}

// Principal builds an auth.Principal for a resolved client id. Useful for
// audit logging and request-scoped context once Authenticate has succeeded.
func (s *Store) Principal(token, clientID string) *auth.Principal {
	return auth.NewPrincipal(token, clientID, nil)
}

// Set adds or replaces the client id mapped to a bearer token, supporting
// callers that provision credentials outside of config reload (e.g. tests).
func (s *Store) Set(token, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byToken[token] = clientID
}

// Len reports how many bearer tokens are currently registered.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byToken)
}
