// Package journal coordinates the scanner, page cache, aggregator, write-back
// coalescer, and search index behind one service surface consumed by the API
// and MCP layers.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/halloran/daybook/internal/activity"
	"github.com/halloran/daybook/internal/apperr"
	"github.com/halloran/daybook/internal/habits"
	"github.com/halloran/daybook/internal/index"
	"github.com/halloran/daybook/internal/models"
	"github.com/halloran/daybook/internal/pagecache"
	"github.com/halloran/daybook/internal/saver"
	"github.com/halloran/daybook/internal/scanner"
	"github.com/halloran/daybook/internal/storage"
)

// FetchResult reports one repository's git fetch outcome.
type FetchResult struct {
	Source  string `json:"source"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Service is the façade over the data access core.
type Service struct {
	store    storage.Provider
	scanner  *scanner.Scanner
	cache    *pagecache.Cache
	saver    *saver.Saver
	agg      *activity.Aggregator
	provider activity.SourceProvider
	db       *index.DB
	habits   *habits.Store
	logger   *slog.Logger

	mu      sync.RWMutex
	records []models.EntryRecord
}

// New wires a Service from its collaborators.
func New(
	store storage.Provider,
	sc *scanner.Scanner,
	cache *pagecache.Cache,
	sv *saver.Saver,
	agg *activity.Aggregator,
	provider activity.SourceProvider,
	db *index.DB,
	hb *habits.Store,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		scanner:  sc,
		cache:    cache,
		saver:    sv,
		agg:      agg,
		provider: provider,
		db:       db,
		habits:   hb,
		logger:   logger,
	}
}

// Rescan re-walks the whole journal tree and replaces the record set
// wholesale, resetting the page cache. The search index is brought up to date
// in the background; the caller gets the fresh records as soon as the scan
// finishes.
func (s *Service) Rescan(ctx context.Context) ([]models.EntryRecord, error) {
	records, err := s.scanner.Scan(ctx, "")
	if err != nil {
		return nil, err
	}

	// Overlay persisted free-form attributes (location tags etc.).
	if attrs, attrErr := s.db.AllAttrs(); attrErr != nil {
		s.logger.Warn("journal: loading attrs failed", slog.String("error", attrErr.Error()))
	} else {
		for i := range records {
			if a, ok := attrs[records[i].Path]; ok {
				records[i].Attrs = a
			}
		}
	}

	paths := make([]string, len(records))
	for i, r := range records {
		paths[i] = r.Path
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	s.cache.SetEntries(paths)

	go func() {
		if syncErr := index.Sync(s.db, s.store, records, s.logger); syncErr != nil {
			s.logger.Warn("journal: index sync failed", slog.String("error", syncErr.Error()))
		}
	}()

	return s.Entries(), nil
}

// Entries returns a copy of the current record set, newest first.
func (s *Service) Entries() []models.EntryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.EntryRecord(nil), s.records...)
}

// SetViewport reacts to a visible-range change: pages near the range are
// loaded (and distant ones evicted), and activity for the newly visible dates
// is fetched.
func (s *Service) SetViewport(ctx context.Context, vp models.Viewport) {
	s.cache.Update(ctx, vp.Start, vp.End)

	s.mu.RLock()
	var dates []string
	seen := make(map[string]struct{})
	for i := vp.Start; i <= vp.End && i < len(s.records); i++ {
		if i < 0 {
			continue
		}
		key := s.records[i].DateKey
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		dates = append(dates, key)
	}
	s.mu.RUnlock()

	if len(dates) > 0 {
		s.agg.FetchDates(ctx, dates)
	}
}

// EntryContent returns the current body for path: the optimistic unsaved view
// when an edit is pending, else the page cache, else a direct one-off read
// (calendar jumps can request a body before any viewport update arrives).
func (s *Service) EntryContent(_ context.Context, path string) (string, error) {
	if body, ok := s.saver.Content(path); ok {
		return body, nil
	}
	if body, ok := s.cache.Content(path); ok {
		return body, nil
	}
	body, err := s.store.ReadText(path)
	if err != nil {
		return "", fmt.Errorf("journal: read %s: %w", path, apperr.ErrNotFound)
	}
	return body, nil
}

// ApplyEdit records new content for path; it is visible to readers
// immediately and persisted after the debounce window.
func (s *Service) ApplyEdit(path, content string) {
	s.saver.Apply(path, content)
}

// Flush persists any pending edit for path right now. A nil return means the
// content is durable (or there was nothing to write).
func (s *Service) Flush(path string) error {
	err := s.saver.Flush(path)
	if errors.Is(err, apperr.ErrNoPending) {
		return nil
	}
	return err
}

// SaveError returns the last persistence error recorded for path, or nil.
func (s *Service) SaveError(path string) error {
	return s.saver.LastError(path)
}

// FetchActivityDates loads the given dates into the aggregator, skipping
// ones already bucketed.
func (s *Service) FetchActivityDates(ctx context.Context, dates []string) {
	s.agg.FetchDates(ctx, dates)
}

// Activity returns the merged records for one date, narrowed by f.
func (s *Service) Activity(date string, f activity.Filter) []activity.Record {
	return s.agg.Records(date, f)
}

// ActivitySourceCount returns the distinct-source count for one date.
func (s *Service) ActivitySourceCount(date string) int {
	return s.agg.SourceCount(date)
}

// RefreshActivity re-fetches every loaded date from all configured sources.
func (s *Service) RefreshActivity(ctx context.Context) {
	s.agg.Refresh(ctx)
}

// FetchRepos runs a remote fetch on every source that supports it (git
// repositories), with per-repository results.
func (s *Service) FetchRepos(ctx context.Context) []FetchResult {
	type fetcher interface {
		Fetch(ctx context.Context) error
	}
	var out []FetchResult
	for _, src := range s.provider.Sources() {
		f, ok := src.(fetcher)
		if !ok {
			continue
		}
		res := FetchResult{Source: src.ID(), OK: true, Message: "fetched"}
		if err := f.Fetch(ctx); err != nil {
			res.OK = false
			res.Message = err.Error()
		}
		out = append(out, res)
	}
	return out
}

// Search delegates to the full-text collaborator.
func (s *Service) Search(query string, limit int) ([]models.SearchResult, error) {
	return s.db.Search(query, limit)
}

// SetEntryAttr persists a free-form attribute (e.g. location.country) for an
// entry and updates the in-memory record.
func (s *Service) SetEntryAttr(path, key, value string) error {
	if err := s.db.SetAttr(path, key, value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].Path != path {
			continue
		}
		if s.records[i].Attrs == nil {
			s.records[i].Attrs = make(map[string]string)
		}
		if value == "" {
			delete(s.records[i].Attrs, key)
		} else {
			s.records[i].Attrs[key] = value
		}
		break
	}
	return nil
}

// AddHabit records a habit completion. A zero at means now.
func (s *Service) AddHabit(habit, note string, at time.Time) (habits.Completion, error) {
	if at.IsZero() {
		at = time.Now()
	}
	return s.habits.Add(habit, note, at)
}

// HabitCompletions lists completions in [from, to).
func (s *Service) HabitCompletions(from, to time.Time) ([]habits.Completion, error) {
	return s.habits.Completions(from, to)
}
