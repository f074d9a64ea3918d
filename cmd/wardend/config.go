package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/logging"
)

// loadConfig reads and unmarshals a YAML config file on top of
// config.Default(), so a file only needs to override what it cares about.
func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// configWatcher watches the config file (and, if set, a separate RPZ zone
// file) for changes and invokes onChange with the freshly loaded config,
// debouncing rapid successive writes the way editors tend to produce them.
// Grounded on its config/watcher.go Watcher.
type configWatcher struct {
	path     string
	logger   *logging.Logger
	fsw      *fsnotify.Watcher
	onChange func(config.Config)

	mu  sync.RWMutex
	cur config.Config
}

func newConfigWatcher(path string, initial config.Config, logger *logging.Logger) (*configWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config file: %w", err)
	}
	if initial.Firewall.ZoneFile != "" {
		if err := fsw.Add(initial.Firewall.ZoneFile); err != nil {
			logger.Warn("could not watch rpz zone file", "path", initial.Firewall.ZoneFile, "error", err)
		}
	}
	return &configWatcher{path: path, logger: logger, fsw: fsw, cur: initial}, nil
}

func (w *configWatcher) Config() config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

func (w *configWatcher) OnChange(fn func(config.Config)) {
	w.onChange = fn
}

// Start watches until ctx is canceled, debouncing writes/creates before
// reloading so a multi-write editor save triggers one reload, not several.
func (w *configWatcher) Start(ctx context.Context) error {
	const debounceDelay = 200 * time.Millisecond
	timer := time.NewTimer(0)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return w.fsw.Close()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("config watcher: events channel closed")
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				timer.Reset(debounceDelay)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("config watcher: errors channel closed")
			}
			w.logger.Error("config watcher error", "error", err)

		case <-timer.C:
			cfg, err := loadConfig(w.path)
			if err != nil {
				w.logger.Error("failed to reload config", "error", err)
				continue
			}
			w.mu.Lock()
			w.cur = cfg
			w.mu.Unlock()
			w.logger.Info("config reloaded")
			if w.onChange != nil {
				w.onChange(cfg)
			}
		}
	}
}

func (w *configWatcher) Close() error {
	return w.fsw.Close()
}
