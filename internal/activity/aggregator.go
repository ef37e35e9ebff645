package activity

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/halloran/daybook/internal/datekey"
)

// DefaultQueryTimeout bounds one source's query for one date range.
const DefaultQueryTimeout = 30 * time.Second

// SourceProvider yields the currently configured sources. It is consulted at
// the start of every fetch cycle so configuration changes take effect without
// restarting.
type SourceProvider interface {
	Sources() []Source
}

// SourceProviderFunc adapts a function to the SourceProvider interface.
type SourceProviderFunc func() []Source

// Sources implements SourceProvider.
func (f SourceProviderFunc) Sources() []Source { return f() }

type bucket struct {
	records []Record // descending timestamp
	sources int      // distinct source ids among records
}

// Aggregator merges per-date records from all configured sources. Buckets
// only ever grow or get replaced by a refresh; there is no eviction, which is
// acceptable for a session-scoped process but a known risk for very
// long-running ones.
type Aggregator struct {
	provider SourceProvider
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
	loading map[string]struct{} // dates with a fetch in flight
}

// New creates an Aggregator. timeout <= 0 selects DefaultQueryTimeout.
func New(provider SourceProvider, timeout time.Duration, logger *slog.Logger) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		provider: provider,
		timeout:  timeout,
		logger:   logger,
		buckets:  make(map[string]*bucket),
		loading:  make(map[string]struct{}),
	}
}

// FetchDates loads buckets for every date key in dates that is not already
// resident or in flight. Per-source failures are logged and contribute zero
// records; they never surface to the caller. A successfully fetched date gets
// a bucket even when empty, so it is not re-fetched on the next viewport
// event.
func (a *Aggregator) FetchDates(ctx context.Context, dates []string) {
	a.mu.Lock()
	var missing []string
	for _, d := range dates {
		if _, ok := a.buckets[d]; ok {
			continue
		}
		if _, ok := a.loading[d]; ok {
			continue
		}
		a.loading[d] = struct{}{}
		missing = append(missing, d)
	}
	a.mu.Unlock()

	if len(missing) == 0 {
		return
	}
	defer func() {
		a.mu.Lock()
		for _, d := range missing {
			delete(a.loading, d)
		}
		a.mu.Unlock()
	}()

	for _, run := range contiguousRuns(missing) {
		fetched, ok := a.fetchRange(ctx, run)
		if !ok {
			continue
		}
		a.mu.Lock()
		for _, d := range run {
			a.installLocked(d, fetched[d])
		}
		a.mu.Unlock()
	}
}

// Refresh re-fetches every date that already has a bucket and replaces each
// bucket's contents with the freshly merged result. Unlike FetchDates it does
// not skip resident dates; it is meant for periodic polling.
func (a *Aggregator) Refresh(ctx context.Context) {
	a.mu.Lock()
	dates := make([]string, 0, len(a.buckets))
	for d := range a.buckets {
		dates = append(dates, d)
	}
	a.mu.Unlock()
	if len(dates) == 0 {
		return
	}
	sort.Strings(dates)

	for _, run := range contiguousRuns(dates) {
		fetched, ok := a.fetchRange(ctx, run)
		if !ok {
			continue
		}
		a.mu.Lock()
		for _, d := range run {
			a.installLocked(d, fetched[d])
		}
		a.mu.Unlock()
	}
}

// Records returns the bucket for date, narrowed by f.
func (a *Aggregator) Records(date string, f Filter) []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buckets[date]
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(b.records))
	for _, r := range b.records {
		if f.matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// SourceCount returns the number of distinct sources contributing to date's
// bucket.
func (a *Aggregator) SourceCount(date string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.buckets[date]; ok {
		return b.sources
	}
	return 0
}

// Dates returns every bucketed date key, ascending.
func (a *Aggregator) Dates() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.buckets))
	for d := range a.buckets {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// fetchRange queries every configured source for the run's time window with
// per-source isolation and returns records keyed by date. ok is false when
// the run's bounds are malformed.
func (a *Aggregator) fetchRange(ctx context.Context, run []string) (map[string][]Record, bool) {
	from, _, okFrom := datekey.DayBounds(run[0])
	_, to, okTo := datekey.DayBounds(run[len(run)-1])
	if !okFrom || !okTo {
		a.logger.Warn("activity: malformed date key in fetch", slog.String("first", run[0]))
		return nil, false
	}

	sources := a.provider.Sources()
	results := make([][]Record, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, a.timeout)
			defer cancel()
			recs, err := src.Query(qctx, from, to)
			if err != nil {
				// Isolated: a failing or timed-out source contributes
				// nothing for this window.
				a.logger.Warn("activity: source query failed",
					slog.String("source", src.ID()), slog.String("error", err.Error()))
				return nil
			}
			results[i] = recs
			return nil
		})
	}
	_ = g.Wait()

	byDate := make(map[string][]Record)
	for _, recs := range results {
		for _, r := range recs {
			if r.DateKey == "" {
				r.DateKey = datekey.FromTime(r.Timestamp)
			}
			byDate[r.DateKey] = append(byDate[r.DateKey], r)
		}
	}
	return byDate, true
}

// installLocked replaces date's bucket with records, re-sorted by descending
// timestamp, and recomputes the distinct-source count.
func (a *Aggregator) installLocked(date string, records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	seen := make(map[string]struct{})
	for _, r := range records {
		seen[r.SourceID] = struct{}{}
	}
	a.buckets[date] = &bucket{records: records, sources: len(seen)}
}

// contiguousRuns splits sorted date keys into runs of consecutive calendar
// days so a scroll across a month becomes one query per source, not thirty.
func contiguousRuns(dates []string) [][]string {
	sorted := append([]string(nil), dates...)
	sort.Strings(sorted)

	var runs [][]string
	var cur []string
	var prev time.Time
	for _, d := range sorted {
		t, err := time.Parse(datekey.Layout, d)
		if err != nil {
			continue
		}
		if len(cur) > 0 && t.Sub(prev) == 24*time.Hour {
			cur = append(cur, d)
		} else {
			if len(cur) > 0 {
				runs = append(runs, cur)
			}
			cur = []string{d}
		}
		prev = t
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}
