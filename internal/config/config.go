// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
)

// CredentialConfig names one upstream credential in the pool.
type CredentialConfig struct {
	ID    string `yaml:"id"`
	Token string `yaml:"token"`
}

// ClientConfig maps one ingress bearer token to a client id used for
// per-client bookkeeping (the client credential recorded on each enqueued
// request, and the audit actor).
type ClientConfig struct {
	Token    string `yaml:"token"`
	ClientID string `yaml:"client_id"`
}

// AppConfig is the dispatch engine's file/ENV-loadable configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	Credentials []CredentialConfig `yaml:"credentials"`
	Clients     []ClientConfig     `yaml:"clients"`

	LogLevel   string `yaml:"log_level"`
	LogService string `yaml:"log_service"`
}

// DefaultAppConfig returns an AppConfig with safe defaults and no
// credentials or clients configured; the caller must supply at least one
// credential before the engine can dispatch anything.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		LogLevel:   "info",
		LogService: "genrelay",
	}
}

// Validate checks an AppConfig for internal consistency.
func Validate(cfg AppConfig) error {
	if len(cfg.Credentials) == 0 {
		return ErrNoCredentials
	}
	seen := make(map[string]bool, len(cfg.Credentials))
	for _, c := range cfg.Credentials {
		if c.ID == "" {
			return fmt.Errorf("credential entry missing id")
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate credential id %q", c.ID)
		}
		seen[c.ID] = true
	}
	seenTokens := make(map[string]bool, len(cfg.Clients))
	for _, c := range cfg.Clients {
		if c.Token == "" || c.ClientID == "" {
			return fmt.Errorf("client entry requires both token and client_id")
		}
		if seenTokens[c.Token] {
			return fmt.Errorf("duplicate client token")
		}
		seenTokens[c.Token] = true
	}
	return nil
}

// Snapshot is the immutable, atomically-swapped view ConfigHolder hands out:
// the file/ENV-loaded AppConfig plus the ENV-only RuntimeSnapshot, stamped
// with a monotonically increasing Epoch on every reload.
type Snapshot struct {
	App     AppConfig
	Runtime RuntimeSnapshot
	Epoch   uint64
}

// BuildSnapshot combines a loaded AppConfig with a separately-read Env into
// one immutable Snapshot.
func BuildSnapshot(app AppConfig, env Env) Snapshot {
	return Snapshot{App: app, Runtime: env.Runtime}
}
