// Package pagecache lazily materializes document bodies for the part of the
// ordered entry list that is near the viewport, and reclaims what scrolls
// away. Pages are the unit of loading and eviction.
package pagecache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/halloran/daybook/internal/batch"
	"github.com/halloran/daybook/internal/storage"
)

// Defaults used when a Config field is zero or negative.
const (
	DefaultPageSize    = 20
	DefaultMaxResident = 5
	DefaultOverscan    = 1
)

// Pin reports whether an identity has an unsaved edit; pinned identities keep
// their page resident. The write-back coalescer implements this.
type Pin interface {
	Pinned(path string) bool
}

type pageState int

const (
	stateUnloaded pageState = iota
	stateLoading
	stateResident
)

// Config tunes a Cache.
type Config struct {
	PageSize    int // entries per page
	MaxResident int // resident-page ceiling
	Overscan    int // pages loaded beyond the visible range, each side
	Batch       batch.Options
}

func (c Config) normalized() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxResident <= 0 {
		c.MaxResident = DefaultMaxResident
	}
	if c.Overscan < 0 {
		c.Overscan = DefaultOverscan
	}
	return c
}

type contentEntry struct {
	body     string
	loadedAt time.Time
}

// Cache is the viewport-driven page cache. All mutable state lives on the
// struct, owned per open journal, with no ties to any renderer lifecycle.
type Cache struct {
	store  storage.Provider
	cfg    Config
	pins   Pin
	logger *slog.Logger

	mu      sync.Mutex
	paths   []string // ordered identities from the last scan
	states  map[int]pageState
	gen     map[int]uint64 // bumped on eviction/reset to invalidate stale loads
	entries map[string]contentEntry
	current int // page containing the viewport midpoint
}

// New creates a Cache. pins may be nil (nothing is ever pinned).
func New(store storage.Provider, cfg Config, pins Pin, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:   store,
		cfg:     cfg.normalized(),
		pins:    pins,
		logger:  logger,
		states:  make(map[int]pageState),
		gen:     make(map[int]uint64),
		entries: make(map[string]contentEntry),
	}
}

// SetEntries replaces the ordered identity list wholesale (after a rescan).
// All residency state and cached bodies are discarded.
func (c *Cache) SetEntries(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append([]string(nil), paths...)
	for p := range c.states {
		c.gen[p]++
	}
	c.states = make(map[int]pageState)
	c.entries = make(map[string]contentEntry)
	c.current = 0
}

// Content returns the cached body for path. ok is false when the body has not
// been loaded (or was evicted); a loaded-but-empty document returns ("", true).
func (c *Cache) Content(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	return e.body, ok
}

// ResidentPages returns the indices of pages currently resident, ascending.
// Exposed for observability endpoints and tests.
func (c *Cache) ResidentPages() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int
	for p, st := range c.states {
		if st == stateResident {
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out
}

// Update reacts to a viewport change: pages covering [vp.Start, vp.End]
// expanded by the overscan are loaded unless already Resident or Loading, the
// current page is recomputed from the viewport midpoint, and the resident set
// is trimmed to the ceiling, evicting the pages farthest from the current
// page first. The call returns once every newly requested page has finished
// loading (or failed).
func (c *Cache) Update(ctx context.Context, start, end int) {
	c.mu.Lock()
	if len(c.paths) == 0 {
		c.mu.Unlock()
		return
	}
	start, end = c.clampRange(start, end)

	firstPage := start / c.cfg.PageSize
	lastPage := end / c.cfg.PageSize
	lo := max(firstPage-c.cfg.Overscan, 0)
	hi := min(lastPage+c.cfg.Overscan, c.lastPage())

	type loadReq struct {
		page int
		gen  uint64
	}
	var toLoad []loadReq
	for p := lo; p <= hi; p++ {
		if c.states[p] == stateUnloaded {
			c.states[p] = stateLoading
			toLoad = append(toLoad, loadReq{page: p, gen: c.gen[p]})
		}
	}
	c.current = ((start + end) / 2) / c.cfg.PageSize
	c.mu.Unlock()

	for _, req := range toLoad {
		c.loadPage(ctx, req.page, req.gen)
	}

	c.mu.Lock()
	c.evictLocked()
	c.mu.Unlock()
}

// loadPage fetches the bodies of a page's members and installs them unless
// the page was invalidated while the fetch was in flight. There is no
// cancellation of in-flight loads: a superseded result is simply discarded.
func (c *Cache) loadPage(ctx context.Context, page int, gen uint64) {
	c.mu.Lock()
	members := c.pageMembersLocked(page)
	c.mu.Unlock()

	results := batch.Run(ctx, members, func(_ context.Context, p string) (string, error) {
		return c.store.ReadText(p)
	}, c.cfg.Batch)

	c.mu.Lock()
	defer c.mu.Unlock()

	// A reset or eviction while the fetch was in flight means the page is no
	// longer wanted; installing results would resurrect it.
	if c.gen[page] != gen || c.states[page] != stateLoading {
		return
	}

	now := time.Now()
	loaded := 0
	for i, res := range results {
		if res.Err != nil {
			c.logger.Warn("pagecache: body load failed",
				slog.String("path", members[i]), slog.String("error", res.Err.Error()))
			continue
		}
		c.entries[members[i]] = contentEntry{body: res.Value, loadedAt: now}
		loaded++
	}

	if loaded == 0 && len(members) > 0 {
		// Nothing usable came back; leave the page Unloaded so the next
		// viewport event retries it.
		c.states[page] = stateUnloaded
		c.gen[page]++
		return
	}
	c.states[page] = stateResident
}

// evictLocked trims the resident set to the ceiling, dropping the pages
// farthest from the current page first. Pages holding an identity with a
// pending edit are skipped.
func (c *Cache) evictLocked() {
	var resident []int
	for p, st := range c.states {
		if st == stateResident {
			resident = append(resident, p)
		}
	}
	if len(resident) <= c.cfg.MaxResident {
		return
	}

	// Farthest from the current page first; ties break toward the higher
	// index so the outcome is deterministic.
	sort.Slice(resident, func(i, j int) bool {
		di, dj := absInt(resident[i]-c.current), absInt(resident[j]-c.current)
		if di != dj {
			return di > dj
		}
		return resident[i] > resident[j]
	})

	over := len(resident) - c.cfg.MaxResident
	for _, p := range resident {
		if over == 0 {
			break
		}
		if c.pinnedLocked(p) {
			continue
		}
		for _, id := range c.pageMembersLocked(p) {
			delete(c.entries, id)
		}
		c.states[p] = stateUnloaded
		c.gen[p]++
		over--
	}
}

func (c *Cache) pinnedLocked(page int) bool {
	if c.pins == nil {
		return false
	}
	for _, id := range c.pageMembersLocked(page) {
		if c.pins.Pinned(id) {
			return true
		}
	}
	return false
}

func (c *Cache) pageMembersLocked(page int) []string {
	lo := page * c.cfg.PageSize
	if lo >= len(c.paths) {
		return nil
	}
	hi := min(lo+c.cfg.PageSize, len(c.paths))
	return append([]string(nil), c.paths[lo:hi]...)
}

func (c *Cache) lastPage() int {
	if len(c.paths) == 0 {
		return 0
	}
	return (len(c.paths) - 1) / c.cfg.PageSize
}

func (c *Cache) clampRange(start, end int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end >= len(c.paths) {
		end = len(c.paths) - 1
	}
	if end < start {
		end = start
	}
	return start, end
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
