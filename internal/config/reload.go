package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader watches the settings files and calls onChange with the freshly
// loaded settings after they change. Invalid files are logged and ignored,
// so the last good settings stay in force.
//
// The parent directories are watched rather than the files, so editors and
// deploy tools that replace a file by renaming a new one over it still
// trigger a reload.
type Reloader struct {
	watcher  *fsnotify.Watcher
	paths    []string
	targets  map[string]bool
	onChange func(*Settings, string)
	logger   *slog.Logger
	debounce time.Duration
}

// NewReloader creates a file watcher for the given paths.
func NewReloader(paths []string, onChange func(*Settings, string), logger *slog.Logger) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	targets := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		targets[filepath.Clean(p)] = true
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch %q: %w", dir, err)
		}
		dirs[dir] = true
	}

	return &Reloader{
		watcher:  watcher,
		paths:    paths,
		targets:  targets,
		onChange: onChange,
		logger:   logger,
		debounce: 500 * time.Millisecond,
	}, nil
}

// Run watches for file changes until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	// wait for writes to settle before reloading
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if r.relevant(event) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(r.debounce, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("config watcher error", "error", err)
		}
	}
}

// relevant reports whether event touches one of the settings files. Other
// files in the watched directories, such as an editor's temp file, are
// ignored until they are renamed onto a settings path.
func (r *Reloader) relevant(event fsnotify.Event) bool {
	if !r.targets[filepath.Clean(event.Name)] {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)
}

func (r *Reloader) reload() {
	s, hash, err := LoadSettings(r.paths...)
	if err != nil {
		r.logger.Error("config reload failed, keeping previous policy", "error", err)
		return
	}
	r.logger.Info("config reloaded", "hash", hash)
	r.onChange(s, hash)
}
