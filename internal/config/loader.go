// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence: ENV > File > Defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load loads configuration with precedence ENV > File > Defaults.
func (l *Loader) Load() (AppConfig, error) {
	cfg := DefaultAppConfig()
	cfg.Version = l.version

	if l.configPath != "" {
		fileCfg, err := loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		mergeFile(&cfg, fileCfg)
	}

	applyEnvOverrides(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func loadFile(path string) (AppConfig, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return AppConfig{}, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return AppConfig{}, nil
		}
		return AppConfig{}, fmt.Errorf("read config file: %w", err)
	}

	var cfg AppConfig
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("%w: %s", ErrUnknownConfigField, err)
	}
	return cfg, nil
}

func mergeFile(cfg *AppConfig, file AppConfig) {
	if len(file.Credentials) > 0 {
		cfg.Credentials = file.Credentials
	}
	if len(file.Clients) > 0 {
		cfg.Clients = file.Clients
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if file.LogService != "" {
		cfg.LogService = file.LogService
	}
}

// applyEnvOverrides applies the highest-precedence ENV settings. Credentials
// and clients are wholesale-replaced (not merged entry by entry) when the
// corresponding ENV variable is set, matching how a deployment typically
// supplies secrets at the process boundary rather than in a checked-in file.
func applyEnvOverrides(cfg *AppConfig) {
	cfg.LogLevel = ParseString("GENRELAY_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = ParseString("GENRELAY_LOG_SERVICE", cfg.LogService)

	if raw := ParseString("GENRELAY_CREDENTIALS", ""); raw != "" {
		cfg.Credentials = ParseCredentialList(raw)
	}
	if raw := ParseString("GENRELAY_CLIENTS", ""); raw != "" {
		cfg.Clients = parseClientList(raw)
	}
}

func parseClientList(raw string) []ClientConfig {
	parts := strings.Split(raw, ",")
	out := make([]ClientConfig, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		token, clientID, found := strings.Cut(p, ":")
		if !found {
			continue
		}
		out = append(out, ClientConfig{Token: strings.TrimSpace(token), ClientID: strings.TrimSpace(clientID)})
	}
	return out
}
