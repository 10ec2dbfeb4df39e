// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RuntimeSnapshot captures the dispatch engine's tunables read once from the
// environment per load/reload.
type RuntimeSnapshot struct {
	RPMPerKey     int
	MaxConcurrent int
	MaxRotations  int
	MaxAttempts   int
	RetryBackoff  time.Duration
	ResultTTL     time.Duration

	WaitTimeoutUnary  time.Duration
	WaitTimeoutStream time.Duration

	ListenAddr          string
	AdapterBaseURL      string
	AdapterTimeout      time.Duration
	PersistDisabledPath string

	MetricsEnabled bool
	MetricsAddr    string
}

// Env captures all runtime settings sourced from environment variables.
// It is intended to be read once per load/reload and then treated as immutable.
type Env struct {
	Runtime RuntimeSnapshot
}

// DefaultEnv returns an Env populated entirely from defaults (no environment values).
func DefaultEnv() Env {
	env, _ := ReadEnv(func(string) string { return "" })
	return env
}

// ReadEnv reads all runtime environment variables exactly once using the provided getenv.
// The returned Env is safe to pass into BuildSnapshot without further environment reads.
func ReadEnv(getenv func(string) string) (Env, error) {
	if getenv == nil {
		return Env{}, fmt.Errorf("getenv is nil")
	}

	rt := RuntimeSnapshot{
		RPMPerKey:     getInt(getenv, "GENRELAY_RPM_PER_KEY", 15),
		MaxConcurrent: getInt(getenv, "GENRELAY_MAX_CONCURRENT", 25),
		MaxRotations:  getInt(getenv, "GENRELAY_MAX_ROTATIONS", 2),
		MaxAttempts:   getInt(getenv, "GENRELAY_MAX_ATTEMPTS", 1),
		RetryBackoff:  getDuration(getenv, "GENRELAY_RETRY_BACKOFF", 3*time.Second),
		ResultTTL:     getDuration(getenv, "GENRELAY_RESULT_TTL", time.Hour),

		WaitTimeoutUnary:  getDuration(getenv, "GENRELAY_WAIT_TIMEOUT_UNARY", 120*time.Second),
		WaitTimeoutStream: getDuration(getenv, "GENRELAY_WAIT_TIMEOUT_STREAM", 180*time.Second),

		ListenAddr:          getString(getenv, "GENRELAY_LISTEN_ADDR", ":8080"),
		AdapterBaseURL:      getString(getenv, "GENRELAY_ADAPTER_BASE_URL", ""),
		AdapterTimeout:      getDuration(getenv, "GENRELAY_ADAPTER_TIMEOUT", 30*time.Second),
		PersistDisabledPath: getString(getenv, "GENRELAY_DISABLED_CREDENTIALS_PATH", ""),

		MetricsEnabled: getBool(getenv, "GENRELAY_METRICS_ENABLED", true),
		MetricsAddr:    getString(getenv, "GENRELAY_METRICS_ADDR", ":9090"),
	}

	return Env{Runtime: rt}, nil
}

// ParseCredentialList splits a comma-separated "id:token" list (the
// GENRELAY_CREDENTIALS env format) into a CredentialConfig slice. Entries
// without a colon are treated as a bare id with no token.
func ParseCredentialList(raw string) []CredentialConfig {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]CredentialConfig, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, token, found := strings.Cut(p, ":")
		cfg := CredentialConfig{ID: strings.TrimSpace(id)}
		if found {
			cfg.Token = strings.TrimSpace(token)
		}
		out = append(out, cfg)
	}
	return out
}

func getString(getenv func(string) string, key, defaultValue string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getInt(getenv func(string) string, key string, defaultValue int) int {
	raw := getenv(key)
	if raw == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return i
}

func getDuration(getenv func(string) string, key string, defaultValue time.Duration) time.Duration {
	raw := getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return d
}

func getBool(getenv func(string) string, key string, defaultValue bool) bool {
	raw := getenv(key)
	if raw == "" {
		return defaultValue
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
