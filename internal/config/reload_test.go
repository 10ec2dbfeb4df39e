// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeValidConfig(t *testing.T, path string, credentialID string) {
	t.Helper()
	content := "credentials:\n  - id: " + credentialID + "\n    token: tok\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestNewConfigHolder(t *testing.T) {
	initial := DefaultAppConfig()
	initial.Credentials = []CredentialConfig{{ID: "key-a", Token: "tok"}}

	loader := NewLoader("", "test-version")
	holder := NewConfigHolder(initial, loader, "")

	got := holder.Current()
	if got == nil {
		t.Fatal("expected non-nil snapshot")
	}
	if len(got.App.Credentials) != 1 || got.App.Credentials[0].ID != "key-a" {
		t.Errorf("expected initial credentials carried through, got %+v", got.App.Credentials)
	}
	if got.Epoch != 1 {
		t.Errorf("expected initial epoch 1, got %d", got.Epoch)
	}
}

func TestConfigHolder_Swap_AssignsMonotonicEpoch(t *testing.T) {
	initial := DefaultAppConfig()
	initial.Credentials = []CredentialConfig{{ID: "key-a", Token: "tok"}}

	loader := NewLoader("", "test-version")
	holder := NewConfigHolder(initial, loader, "")

	first := holder.Current().Epoch

	next := Snapshot{App: initial}
	holder.Swap(&next)

	second := holder.Current().Epoch
	if second <= first {
		t.Errorf("expected epoch to increase monotonically, got %d -> %d", first, second)
	}
}

func TestConfigHolder_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeValidConfig(t, configPath, "key-a")

	loader := NewLoader(configPath, "test-version")
	initial, err := loader.Load()
	if err != nil {
		t.Fatalf("initial load failed: %v", err)
	}
	holder := NewConfigHolder(initial, loader, configPath)

	writeValidConfig(t, configPath, "key-b")

	if err := holder.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}

	got := holder.Current()
	if len(got.App.Credentials) != 1 || got.App.Credentials[0].ID != "key-b" {
		t.Errorf("expected reloaded credential key-b, got %+v", got.App.Credentials)
	}
}

func TestConfigHolder_Reload_InvalidConfigKeepsOld(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeValidConfig(t, configPath, "key-a")

	loader := NewLoader(configPath, "test-version")
	initial, err := loader.Load()
	if err != nil {
		t.Fatalf("initial load failed: %v", err)
	}
	holder := NewConfigHolder(initial, loader, configPath)

	// Write an empty credentials list, which fails validation.
	if err := os.WriteFile(configPath, []byte("credentials: []\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if err := holder.Reload(context.Background()); err == nil {
		t.Fatal("expected Reload() to fail on invalid config")
	}

	got := holder.Current()
	if len(got.App.Credentials) != 1 || got.App.Credentials[0].ID != "key-a" {
		t.Errorf("expected old snapshot retained after failed reload, got %+v", got.App.Credentials)
	}
}

func TestConfigHolder_SnapshotListener(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeValidConfig(t, configPath, "key-a")

	loader := NewLoader(configPath, "test-version")
	initial, err := loader.Load()
	if err != nil {
		t.Fatalf("initial load failed: %v", err)
	}
	holder := NewConfigHolder(initial, loader, configPath)

	ch := make(chan *Snapshot, 1)
	holder.RegisterSnapshotListener(ch)

	writeValidConfig(t, configPath, "key-b")
	if err := holder.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}

	select {
	case snap := <-ch:
		if len(snap.App.Credentials) != 1 || snap.App.Credentials[0].ID != "key-b" {
			t.Errorf("expected listener to observe new credentials, got %+v", snap.App.Credentials)
		}
	case <-time.After(time.Second):
		t.Fatal("expected snapshot listener notification")
	}
}

func TestConfigHolder_StartWatcher_NoPathIsNoop(t *testing.T) {
	initial := DefaultAppConfig()
	initial.Credentials = []CredentialConfig{{ID: "key-a", Token: "tok"}}

	loader := NewLoader("", "test-version")
	holder := NewConfigHolder(initial, loader, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := holder.StartWatcher(ctx); err != nil {
		t.Fatalf("expected no-op watcher to succeed, got %v", err)
	}
}
