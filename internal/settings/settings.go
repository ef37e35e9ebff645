// Package settings persists the small, user-editable key-value configuration
// that changes at runtime, most importantly which repositories feed the
// activity aggregator.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Values is the persisted settings document.
type Values struct {
	// Repos are the version-control working copies whose commits appear as
	// day activity.
	Repos []string `yaml:"repos" json:"repos"`
}

// Store holds the current settings and reloads them when the backing file
// changes.
type Store struct {
	path string

	mu  sync.RWMutex
	cur Values
}

// Open loads the settings file at path, creating an empty document when the
// file does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.reload(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.cur
	out.Repos = append([]string(nil), s.cur.Repos...)
	return out
}

// Put replaces the settings and persists them.
func (s *Store) Put(v Values) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("settings: mkdir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("settings: write: %w", err)
	}
	s.mu.Lock()
	s.cur = v
	s.mu.Unlock()
	return nil
}

func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("settings: read: %w", err)
	}
	var v Values
	if err := yaml.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("settings: parse: %w", err)
	}
	s.mu.Lock()
	s.cur = v
	s.mu.Unlock()
	return nil
}

// Watch reloads the store whenever the settings file changes, until ctx is
// cancelled. onChange (optional) runs after each successful reload. Editors
// that replace the file atomically emit remove/rename events, so the watch is
// placed on the parent directory.
func (s *Store) Watch(ctx context.Context, logger *slog.Logger, onChange func(Values)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("settings: mkdir: %w", err)
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("settings: watch %s: %w", dir, err)
	}

	logger.Info("settings: watching", slog.String("path", s.path))

	// Atomic replaces arrive as several events in quick succession; a short
	// debounce collapses them into one reload.
	var timer *time.Timer
	var timerCh <-chan time.Time
	scheduleReload := func() {
		if timer == nil {
			timer = time.NewTimer(200 * time.Millisecond)
			timerCh = timer.C
		} else {
			timer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("settings: watcher stopped")
			return nil

		case <-timerCh:
			if err := s.reload(); err != nil {
				logger.Warn("settings: reload failed", slog.String("error", err.Error()))
				continue
			}
			logger.Info("settings: reloaded", slog.String("path", s.path))
			if onChange != nil {
				onChange(s.Get())
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("settings: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
