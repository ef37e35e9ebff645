// Package scanner discovers journal documents under a root directory and
// returns their metadata ordered by effective date.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/halloran/daybook/internal/batch"
	"github.com/halloran/daybook/internal/datekey"
	"github.com/halloran/daybook/internal/models"
	"github.com/halloran/daybook/internal/storage"
)

// DefaultMaxFileSize is the size ceiling applied when none is configured.
const DefaultMaxFileSize = 10 << 20 // 10 MiB

// Scanner walks the journal tree through the storage provider. It holds no
// state across Scan calls; every scan replaces the previous result wholesale.
// Incremental diffing (or watching) of the tree is a possible future
// enhancement, deliberately not attempted here.
type Scanner struct {
	store       storage.Provider
	maxFileSize int64
	ignore      []string // doublestar globs matched against relative paths
	batchOpts   batch.Options
	logger      *slog.Logger
}

// New creates a Scanner. maxFileSize <= 0 selects DefaultMaxFileSize; ignore
// patterns use doublestar syntax (e.g. "**/.obsidian/**").
func New(store storage.Provider, maxFileSize int64, ignore []string, opts batch.Options, logger *slog.Logger) *Scanner {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		store:       store,
		maxFileSize: maxFileSize,
		ignore:      ignore,
		batchOpts:   opts,
		logger:      logger,
	}
}

// Scan enumerates every recognized document under dir (relative to the
// journal root; "" for the whole journal) and returns one record per match,
// sorted by effective date descending. A subtree or file that cannot be read
// is logged and omitted; only a failure to list dir itself is returned as an
// error.
func (s *Scanner) Scan(ctx context.Context, dir string) ([]models.EntryRecord, error) {
	entries, err := s.store.ListDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scanner: list root %q: %w", dir, err)
	}

	records := s.scanDir(ctx, dir, entries)

	sort.Slice(records, func(i, j int) bool {
		if records[i].DateKey != records[j].DateKey {
			return records[i].DateKey > records[j].DateKey
		}
		// Tie-break on path so repeated scans are deterministic.
		return records[i].Path < records[j].Path
	})
	return records, nil
}

// scanDir processes one directory level: candidate files go through the
// batched stat, subdirectories recurse independently and merge.
func (s *Scanner) scanDir(ctx context.Context, dir string, entries []storage.DirEntry) []models.EntryRecord {
	var candidates []string
	var out []models.EntryRecord

	for _, e := range entries {
		rel := path.Join(dir, e.Name)
		if s.ignored(rel, e.IsDir) {
			continue
		}
		if e.IsDir {
			children, err := s.store.ListDir(rel)
			if err != nil {
				s.logger.Warn("scanner: skipping unreadable directory",
					slog.String("path", rel), slog.String("error", err.Error()))
				continue
			}
			out = append(out, s.scanDir(ctx, rel, children)...)
			continue
		}
		if strings.EqualFold(path.Ext(e.Name), ".md") {
			candidates = append(candidates, rel)
		}
	}

	results := batch.Run(ctx, candidates, func(_ context.Context, p string) (storage.FileInfo, error) {
		return s.store.Stat(p)
	}, s.batchOpts)

	for i, res := range results {
		rel := candidates[i]
		if res.Err != nil {
			s.logger.Warn("scanner: skipping unreadable file",
				slog.String("path", rel), slog.String("error", res.Err.Error()))
			continue
		}
		if res.Value.Size > s.maxFileSize {
			s.logger.Debug("scanner: skipping oversized file",
				slog.String("path", rel), slog.Int64("size", res.Value.Size))
			continue
		}
		name := path.Base(rel)
		out = append(out, models.EntryRecord{
			Path:       rel,
			Name:       name,
			CreatedAt:  res.Value.CreatedAt,
			ModifiedAt: res.Value.ModifiedAt,
			Size:       res.Value.Size,
			DateKey:    datekey.Effective(name, res.Value.CreatedAt),
		})
	}
	return out
}

func (s *Scanner) ignored(rel string, isDir bool) bool {
	for _, pat := range s.ignore {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
		// A directory also matches patterns that target its contents.
		if isDir {
			if ok, _ := doublestar.Match(pat, rel+"/"); ok {
				return true
			}
		}
	}
	return false
}
