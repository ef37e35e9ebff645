// Package saver coalesces rapid in-place edits into a bounded number of
// durable writes. Edits are applied to an in-memory view immediately and
// persisted after a per-identity debounce window, or on demand.
package saver

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/halloran/daybook/internal/apperr"
	"github.com/halloran/daybook/internal/storage"
)

// DefaultDebounce is the quiet period before a pending edit is persisted.
const DefaultDebounce = 500 * time.Millisecond

// SavedFunc is called after every persistence attempt. err is nil on success.
type SavedFunc func(path string, err error)

type pendingEdit struct {
	content string
	timer   *time.Timer // nil once consumed or after a failed persist
}

// Saver owns all per-identity debounce state. It is constructed per open
// journal and torn down with it; there is no package-level mutable state.
type Saver struct {
	store    storage.Provider
	debounce time.Duration
	onSaved  SavedFunc
	logger   *slog.Logger

	mu      sync.Mutex
	view    map[string]string // optimistic content, survives persistence
	pending map[string]*pendingEdit
	lastErr map[string]error
	writing map[string]chan struct{} // closed when the in-flight write ends
	closed  bool
}

// New creates a Saver. debounce <= 0 selects DefaultDebounce. onSaved may be
// nil.
func New(store storage.Provider, debounce time.Duration, onSaved SavedFunc, logger *slog.Logger) *Saver {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Saver{
		store:    store,
		debounce: debounce,
		onSaved:  onSaved,
		logger:   logger,
		view:     make(map[string]string),
		pending:  make(map[string]*pendingEdit),
		lastErr:  make(map[string]error),
		writing:  make(map[string]chan struct{}),
	}
}

// Apply records newContent as the optimistic view for path and (re)starts the
// debounce timer. Readers see the new content immediately; at most one timer
// exists per identity, so rapid edits collapse into a single write carrying
// the latest content.
func (s *Saver) Apply(path, newContent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.view[path] = newContent

	if pe, ok := s.pending[path]; ok {
		pe.content = newContent
		if pe.timer != nil {
			pe.timer.Reset(s.debounce)
		} else {
			// A previous persist failed; the new edit rearms the timer.
			pe.timer = time.AfterFunc(s.debounce, func() { s.fire(path) })
		}
		return
	}

	pe := &pendingEdit{content: newContent}
	pe.timer = time.AfterFunc(s.debounce, func() { s.fire(path) })
	s.pending[path] = pe
}

// Flush cancels any outstanding timer for path and persists the pending edit
// immediately, returning the persistence error. apperr.ErrNoPending means
// there was nothing to write.
func (s *Saver) Flush(path string) error {
	return s.persist(path)
}

// FlushAll persists every pending edit and returns the first error.
func (s *Saver) FlushAll() error {
	s.mu.Lock()
	paths := make([]string, 0, len(s.pending))
	for p := range s.pending {
		paths = append(paths, p)
	}
	s.mu.Unlock()

	var first error
	for _, p := range paths {
		err := s.persist(p)
		if err != nil && !errors.Is(err, apperr.ErrNoPending) && first == nil {
			first = err
		}
	}
	return first
}

// Content returns the optimistic in-memory view for path, if any edit has
// been applied this session.
func (s *Saver) Content(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.view[path]
	return c, ok
}

// Pinned reports whether path has an unsaved edit (pending or mid-write).
// The page cache consults this before evicting a page.
func (s *Saver) Pinned(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[path]; ok {
		return true
	}
	_, ok := s.writing[path]
	return ok
}

// LastError returns the most recent persistence error for path, or nil.
func (s *Saver) LastError(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr[path]
}

// Close stops all timers and persists everything still pending.
func (s *Saver) Close() error {
	s.mu.Lock()
	s.closed = true
	for _, pe := range s.pending {
		if pe.timer != nil {
			pe.timer.Stop()
			pe.timer = nil
		}
	}
	s.mu.Unlock()
	return s.FlushAll()
}

// fire runs on timer expiry.
func (s *Saver) fire(path string) {
	if err := s.persist(path); err != nil && !errors.Is(err, apperr.ErrNoPending) {
		s.logger.Warn("saver: debounced write failed",
			slog.String("path", path), slog.String("error", err.Error()))
	}
}

// persist consumes the pending edit for path and writes it through storage.
// Writes for one identity never overlap: a concurrent persist waits for the
// in-flight one to finish, then re-checks for a newer pending edit.
func (s *Saver) persist(path string) error {
	for {
		s.mu.Lock()
		if ch, busy := s.writing[path]; busy {
			s.mu.Unlock()
			<-ch
			continue
		}
		pe, ok := s.pending[path]
		if !ok {
			s.mu.Unlock()
			return apperr.ErrNoPending
		}
		if pe.timer != nil {
			pe.timer.Stop()
			pe.timer = nil
		}
		content := pe.content
		delete(s.pending, path)
		done := make(chan struct{})
		s.writing[path] = done
		s.mu.Unlock()

		err := s.store.WriteText(path, content)

		s.mu.Lock()
		delete(s.writing, path)
		close(done)
		if err != nil {
			s.lastErr[path] = err
			// Keep the edit pending (without a timer) unless a newer edit
			// arrived while the write was in flight; it is retried only on
			// the next edit or explicit flush.
			if _, newer := s.pending[path]; !newer {
				s.pending[path] = &pendingEdit{content: content}
			}
		} else {
			delete(s.lastErr, path)
		}
		s.mu.Unlock()

		if s.onSaved != nil {
			s.onSaved(path, err)
		}
		if err != nil {
			return fmt.Errorf("saver: persist %s: %w", path, err)
		}
		return nil
	}
}
