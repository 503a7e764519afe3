package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Provider serves the current configuration and reloads it when the file changes.
// Consumers call Current before every use instead of caching values.
type Provider struct {
	path    string
	current atomic.Pointer[Config]
}

// NewProvider returns a provider serving cfg. path is the file Watch reloads from
// and may be empty for a static configuration.
func NewProvider(cfg *Config, path string) *Provider {
	p := &Provider{path: path}
	p.current.Store(cfg)
	return p
}

// Current returns the latest valid configuration
func (p *Provider) Current() *Config {
	return p.current.Load()
}

// Reload re-reads the file. An invalid file is logged and the previous configuration kept.
func (p *Provider) Reload() error {
	if p.path == "" {
		return nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := parse(data)
	if err != nil {
		return err
	}

	p.current.Store(cfg)
	slog.Info("Configuration reloaded", "path", p.path)
	return nil
}

// Watch reloads the configuration on file changes until ctx is cancelled.
// The parent directory is watched so that atomic renames by editors and
// ConfigMap symlink swaps are picked up.
func (p *Provider) Watch(ctx context.Context) error {
	if p.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			slog.Warn("Failed to close config watcher", "error", err)
		}
	}()

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name && !event.Has(fsnotify.Create) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := p.Reload(); err != nil {
				slog.Warn("Ignoring invalid configuration change", "path", p.path, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Config watcher error", "error", err)
		}
	}
}
