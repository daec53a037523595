// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jllopis/waspnest/pkg/errors"
)

// Watcher polls a configuration file and its profile overlay and reloads
// them when either changes.
type Watcher struct {
	mu          sync.RWMutex
	path        string
	profile     string
	overrides   map[string]any
	interval    time.Duration
	lastModTime map[string]time.Time
	config      *Config
	listeners   []func(*Config)
	stopOnce    sync.Once
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *slog.Logger
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval for file changes.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchProfile also watches and applies the overlay for profile.
func WithWatchProfile(profile string) WatcherOption {
	return func(w *Watcher) {
		w.profile = profile
	}
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher loads path and prepares to watch it. Start begins polling.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:        path,
		interval:    time.Second,
		lastModTime: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, p := range w.paths() {
		if info, err := os.Stat(p); err == nil {
			w.lastModTime[p] = info.ModTime()
		}
	}

	cfg, err := load(w.path, w.profile, w.overrides)
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

// NewWatcherFromCLI watches the file selected by the --config and --profile
// flags in args. Every reload reapplies the --set overrides of args.
func NewWatcherFromCLI(args []string, opts ...WatcherOption) (*Watcher, error) {
	cli, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	if cli.path == "" {
		return nil, errors.Configuration("watching requires a --config file")
	}
	opts = append(opts, WithWatchProfile(cli.profile), func(w *Watcher) {
		w.overrides = overrides
	})
	return NewWatcher(cli.path, opts...)
}

func (w *Watcher) paths() []string {
	if w.path == "" {
		return nil
	}
	if w.profile == "" {
		return []string{w.path}
	}
	return []string{w.path, ProfilePath(w.path, w.profile)}
}

// OnChange registers a callback invoked with every successfully reloaded
// configuration.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start begins watching until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop stops a started watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.checkForChanges() {
				w.reload()
			}
		}
	}
}

func (w *Watcher) checkForChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	for _, p := range w.paths() {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		lastMod, exists := w.lastModTime[p]
		if !exists || info.ModTime().After(lastMod) {
			w.lastModTime[p] = info.ModTime()
			changed = true
		}
	}
	return changed
}

// reload keeps the previous configuration when the new one fails to load or
// validate.
func (w *Watcher) reload() {
	cfg, err := load(w.path, w.profile, w.overrides)
	if err != nil {
		w.logger.Error("config reload failed", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.Info("config reloaded", slog.String("path", w.path), slog.String("profile", w.profile))
	for _, fn := range listeners {
		fn(cfg)
	}
}
