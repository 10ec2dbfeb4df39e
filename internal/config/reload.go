// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/genrelay/genrelay/internal/log"
	"github.com/rs/zerolog"
)

// ConfigHolder holds configuration with atomic reloading capability.
// It provides thread-safe access to configuration and supports hot reloading
// from file or manual trigger via API/signal.
type ConfigHolder struct {
	reloadOpMu sync.Mutex
	epoch      atomic.Uint64
	snapshot   atomic.Pointer[Snapshot]
	loader     *Loader
	configPath string
	configDir  string
	configFile string
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger

	reloadMu      sync.RWMutex
	snapListeners []chan<- *Snapshot
}

// NewConfigHolder creates a new configuration holder with initial config.
func NewConfigHolder(initial AppConfig, loader *Loader, configPath string) *ConfigHolder {
	h := &ConfigHolder{
		loader:        loader,
		configPath:    configPath,
		logger:        log.WithComponent("config"),
		snapListeners: make([]chan<- *Snapshot, 0),
	}
	env, err := ReadOSRuntimeEnv()
	if err != nil {
		h.logger.Warn().Err(err).Str("event", "config.env_read_failed").Msg("failed to read runtime environment, using defaults")
		env = DefaultEnv()
	}

	snap := BuildSnapshot(initial, env)
	h.Swap(&snap)
	return h
}

// Current returns the current immutable runtime snapshot pointer (thread-safe read).
func (h *ConfigHolder) Current() *Snapshot {
	return h.snapshot.Load()
}

// Swap atomically swaps the current snapshot, assigning the next
// monotonically increasing epoch before storing it.
func (h *ConfigHolder) Swap(next *Snapshot) (prev *Snapshot) {
	if next == nil {
		return h.snapshot.Load()
	}
	next.Epoch = h.epoch.Add(1)
	return h.snapshot.Swap(next)
}

// Reload reloads configuration from file and validates it. If validation
// fails, the old configuration is kept and an error is returned.
func (h *ConfigHolder) Reload(_ context.Context) error {
	h.reloadOpMu.Lock()
	defer h.reloadOpMu.Unlock()

	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	oldCfg := AppConfig{}
	if oldSnap := h.Current(); oldSnap != nil {
		oldCfg = oldSnap.App
	}

	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().Err(err).Str("event", "config.reload_failed").Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	env, err := ReadOSRuntimeEnv()
	if err != nil {
		h.logger.Warn().Err(err).Str("event", "config.env_read_failed").Msg("failed to read runtime environment, using defaults")
		env = DefaultEnv()
	}

	newSnap := BuildSnapshot(newCfg, env)
	newSnapPtr := &newSnap
	h.Swap(newSnapPtr)

	h.notifySnapshotListeners(newSnapPtr)
	h.logChanges(oldCfg, newCfg)

	h.logger.Info().Str("event", "config.reload_success").Msg("configuration reloaded successfully")
	return nil
}

// StartWatcher starts watching the config file for changes. If configPath
// is empty, this is a no-op (config comes from ENV only).
func (h *ConfigHolder) StartWatcher(ctx context.Context) error {
	if h.configPath == "" {
		h.logger.Info().Str("event", "config.watcher_disabled").Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	h.configDir = filepath.Dir(h.configPath)
	h.configFile = filepath.Base(h.configPath)

	if err := watcher.Add(h.configDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	h.logger.Info().Str("event", "config.watcher_started").Str("path", h.configPath).Msg("watching config file for changes")

	go h.watchLoop(ctx)
	return nil
}

func (h *ConfigHolder) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			if h.watcher != nil {
				_ = h.watcher.Close()
			}
			return

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if h.configFile != "" && filepath.Base(event.Name) != h.configFile {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				h.logger.Debug().Str("event", "config.file_changed").Str("op", event.Op.String()).Str("name", event.Name).Msg("config file changed")

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := h.Reload(ctx); err != nil {
						h.logger.Error().Err(err).Str("event", "config.auto_reload_failed").Msg("automatic config reload failed")
					}
				})
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Str("event", "config.watcher_error").Msg("config watcher error")
		}
	}
}

// Stop stops the config watcher (if running).
func (h *ConfigHolder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}

// RegisterSnapshotListener registers a channel to receive snapshot reload notifications.
func (h *ConfigHolder) RegisterSnapshotListener(ch chan<- *Snapshot) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.snapListeners = append(h.snapListeners, ch)
}

func (h *ConfigHolder) notifySnapshotListeners(snap *Snapshot) {
	if snap == nil {
		return
	}
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()
	for _, ch := range h.snapListeners {
		select {
		case ch <- snap:
		default:
			h.logger.Warn().Str("event", "config.snapshot_listener_skip").Msg("skipped notifying snapshot listener (channel full)")
		}
	}
}

func (h *ConfigHolder) logChanges(old, newCfg AppConfig) {
	if len(old.Credentials) != len(newCfg.Credentials) {
		h.logger.Info().
			Int("old", len(old.Credentials)).
			Int("new", len(newCfg.Credentials)).
			Msg("config changed: credential count")
	}
	if old.LogLevel != newCfg.LogLevel {
		h.logger.Info().
			Str("old", old.LogLevel).
			Str("new", newCfg.LogLevel).
			Msg("config changed: LogLevel")
	}
}
