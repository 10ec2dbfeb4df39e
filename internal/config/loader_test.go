// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	_ = os.Setenv("GENRELAY_CREDENTIALS", "key-a:token-a")
	defer func() { _ = os.Unsetenv("GENRELAY_CREDENTIALS") }()

	loader := NewLoader("", "test-version")
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel=info, got %s", cfg.LogLevel)
	}
	if len(cfg.Credentials) != 1 || cfg.Credentials[0].ID != "key-a" {
		t.Errorf("expected one credential key-a, got %+v", cfg.Credentials)
	}
}

func TestLoad_NoCredentialsAnywhere(t *testing.T) {
	loader := NewLoader("", "test-version")
	if _, err := loader.Load(); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected wrapped ErrNoCredentials, got %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
credentials:
  - id: key-a
    token: token-a
  - id: key-b
    token: token-b
clients:
  - token: client-tok
    client_id: client-a
log_level: debug
log_service: genrelay-test
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	loader := NewLoader(configPath, "1.0.0")
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(cfg.Credentials) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(cfg.Credentials))
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel=debug, got %s", cfg.LogLevel)
	}
	if len(cfg.Clients) != 1 || cfg.Clients[0].ClientID != "client-a" {
		t.Errorf("expected one client client-a, got %+v", cfg.Clients)
	}
}

func TestLoadFromYAML_UnknownField(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yamlContent := `
credentials:
  - id: key-a
    token: token-a
bogus_field: true
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	loader := NewLoader(configPath, "1.0.0")
	_, err := loader.Load()
	if !errors.Is(err, ErrUnknownConfigField) {
		t.Fatalf("expected ErrUnknownConfigField, got %v", err)
	}
}

func TestLoadFromYAML_MissingFileTolerated(t *testing.T) {
	loader := NewLoader("/nonexistent/path/config.yaml", "1.0.0")
	_ = os.Setenv("GENRELAY_CREDENTIALS", "key-a:token-a")
	defer func() { _ = os.Unsetenv("GENRELAY_CREDENTIALS") }()

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() should tolerate a missing config file, got: %v", err)
	}
	if len(cfg.Credentials) != 1 {
		t.Errorf("expected ENV credentials to apply, got %+v", cfg.Credentials)
	}
}

func TestLoadFromYAML_UnsupportedExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	if err := os.WriteFile(configPath, []byte("{}"), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	loader := NewLoader(configPath, "1.0.0")
	if _, err := loader.Load(); err == nil {
		t.Fatal("expected error for unsupported config extension")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yamlContent := `
credentials:
  - id: key-a
    token: token-a
log_level: debug
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_ = os.Setenv("GENRELAY_LOG_LEVEL", "warn")
	_ = os.Setenv("GENRELAY_CREDENTIALS", "key-b:token-b")
	defer func() {
		_ = os.Unsetenv("GENRELAY_LOG_LEVEL")
		_ = os.Unsetenv("GENRELAY_CREDENTIALS")
	}()

	loader := NewLoader(configPath, "1.0.0")
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected ENV to override file log_level, got %s", cfg.LogLevel)
	}
	if len(cfg.Credentials) != 1 || cfg.Credentials[0].ID != "key-b" {
		t.Errorf("expected ENV to replace file credentials wholesale, got %+v", cfg.Credentials)
	}
}

func TestParseCredentialList(t *testing.T) {
	got := ParseCredentialList(" key-a:token-a , key-b:token-b ,, key-c ")
	want := []CredentialConfig{
		{ID: "key-a", Token: "token-a"},
		{ID: "key-b", Token: "token-b"},
		{ID: "key-c"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestParseClientList(t *testing.T) {
	got := parseClientList(fmt.Sprintf("%s:%s,%s:%s", "tok-a", "client-a", "tok-b", "client-b"))
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Token != "tok-a" || got[0].ClientID != "client-a" {
		t.Errorf("unexpected first entry: %+v", got[0])
	}
}
