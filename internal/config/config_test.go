// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"testing"
)

func TestDefaultAppConfig(t *testing.T) {
	cfg := DefaultAppConfig()
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel=info, got %s", cfg.LogLevel)
	}
	if cfg.LogService != "genrelay" {
		t.Errorf("expected LogService=genrelay, got %s", cfg.LogService)
	}
	if len(cfg.Credentials) != 0 {
		t.Errorf("expected no default credentials, got %d", len(cfg.Credentials))
	}
}

func TestValidate_NoCredentials(t *testing.T) {
	cfg := DefaultAppConfig()
	err := Validate(cfg)
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestValidate_DuplicateCredentialID(t *testing.T) {
	cfg := DefaultAppConfig()
	cfg.Credentials = []CredentialConfig{
		{ID: "key-a", Token: "t1"},
		{ID: "key-a", Token: "t2"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for duplicate credential id")
	}
}

func TestValidate_MissingCredentialID(t *testing.T) {
	cfg := DefaultAppConfig()
	cfg.Credentials = []CredentialConfig{{Token: "t1"}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for missing credential id")
	}
}

func TestValidate_ClientRequiresTokenAndID(t *testing.T) {
	cfg := DefaultAppConfig()
	cfg.Credentials = []CredentialConfig{{ID: "key-a", Token: "t1"}}
	cfg.Clients = []ClientConfig{{Token: "tok"}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for client missing client_id")
	}
}

func TestValidate_DuplicateClientToken(t *testing.T) {
	cfg := DefaultAppConfig()
	cfg.Credentials = []CredentialConfig{{ID: "key-a", Token: "t1"}}
	cfg.Clients = []ClientConfig{
		{Token: "tok", ClientID: "client-a"},
		{Token: "tok", ClientID: "client-b"},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for duplicate client token")
	}
}

func TestValidate_OK(t *testing.T) {
	cfg := DefaultAppConfig()
	cfg.Credentials = []CredentialConfig{{ID: "key-a", Token: "t1"}}
	cfg.Clients = []ClientConfig{{Token: "tok", ClientID: "client-a"}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestBuildSnapshot(t *testing.T) {
	app := DefaultAppConfig()
	app.Credentials = []CredentialConfig{{ID: "key-a", Token: "t1"}}
	env := DefaultEnv()

	snap := BuildSnapshot(app, env)
	if snap.App.LogLevel != "info" {
		t.Errorf("expected App carried through, got %+v", snap.App)
	}
	if snap.Runtime.RPMPerKey != env.Runtime.RPMPerKey {
		t.Errorf("expected Runtime carried through")
	}
}
