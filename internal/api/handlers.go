package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/halloran/daybook/internal/activity"
	"github.com/halloran/daybook/internal/apperr"
	"github.com/halloran/daybook/internal/datekey"
	"github.com/halloran/daybook/internal/journal"
	"github.com/halloran/daybook/internal/models"
	"github.com/halloran/daybook/internal/settings"
)

// Handler holds API route handlers.
type Handler struct {
	svc      *journal.Service
	settings *settings.Store
}

// NewHandler creates a new Handler.
func NewHandler(svc *journal.Service, st *settings.Store) *Handler {
	return &Handler{svc: svc, settings: st}
}

// entryPath extracts the entry path from the URL (everything after the route
// prefix). Supports encoded slashes (e.g. sub%2F2024-01-01.md).
func entryPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListEntries handles GET /api/entries.
func (h *Handler) ListEntries(w http.ResponseWriter, _ *http.Request) {
	entries := h.svc.Entries()
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   len(entries),
	})
}

// Rescan handles POST /api/rescan: re-walks the journal tree wholesale.
func (h *Handler) Rescan(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Rescan(r.Context())
	if err != nil {
		slog.Error("rescan failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody("scan failed: "+err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   len(entries),
	})
}

// SetViewport handles POST /api/viewport: {start, end} index range from the
// virtualized list.
func (h *Handler) SetViewport(w http.ResponseWriter, r *http.Request) {
	var vp models.Viewport
	if err := json.NewDecoder(r.Body).Decode(&vp); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if vp.End < vp.Start {
		writeJSON(w, http.StatusBadRequest, errorBody("end must be >= start"))
		return
	}
	h.svc.SetViewport(r.Context(), vp)
	w.WriteHeader(http.StatusNoContent)
}

// GetContent handles GET /api/entries/*.
func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	path := entryPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	body, err := h.svc.EntryContent(r.Context(), path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get content failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	resp := map[string]any{"path": path, "content": body}
	if saveErr := h.svc.SaveError(path); saveErr != nil {
		resp["save_error"] = saveErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateContent handles PUT /api/entries/*: applies an optimistic edit that
// is persisted after the debounce window.
func (h *Handler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	path := entryPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	h.svc.ApplyEdit(path, req.Content)
	w.WriteHeader(http.StatusNoContent)
}

// FlushEntry handles POST /api/entries/flush: persists a pending edit
// immediately and reports the write error, if any, for this entry alone.
func (h *Handler) FlushEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.Flush(req.Path); err != nil {
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetAttr handles PUT /api/entries/attrs: stores a free-form attribute such
// as location.country for one entry.
func (h *Handler) SetAttr(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path  string `json:"path"`
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" || req.Key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path and key are required"))
		return
	}
	if err := h.svc.SetEntryAttr(req.Path, req.Key, req.Value); err != nil {
		slog.Error("set attr failed", slog.String("path", req.Path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetActivity handles GET /api/activity?date=&source=&author=&q=.
func (h *Handler) GetActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := q.Get("date")
	if _, _, ok := datekey.DayBounds(date); !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("date must be YYYY-MM-DD"))
		return
	}
	f := activity.Filter{
		SourceID: q.Get("source"),
		Author:   q.Get("author"),
		Match:    q.Get("q"),
	}
	records := h.svc.Activity(date, f)
	if records == nil {
		records = []activity.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":    date,
		"records": records,
		"sources": h.svc.ActivitySourceCount(date),
	})
}

// RefreshActivity handles POST /api/activity/refresh.
func (h *Handler) RefreshActivity(w http.ResponseWriter, r *http.Request) {
	h.svc.RefreshActivity(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// FetchRepos handles POST /api/activity/fetch: git fetch on every configured
// repository, with per-repo results.
func (h *Handler) FetchRepos(w http.ResponseWriter, r *http.Request) {
	results := h.svc.FetchRepos(r.Context())
	if results == nil {
		results = []journal.FetchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// GetSettings handles GET /api/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	v := h.settings.Get()
	if v.Repos == nil {
		v.Repos = []string{}
	}
	writeJSON(w, http.StatusOK, v)
}

// UpdateSettings handles PUT /api/settings: replaces the settings document.
// The file watcher picks up the rewrite and refreshes activity sources.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var v settings.Values
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.settings.Put(v); err != nil {
		slog.Error("settings update failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to persist settings"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search?q=&limit=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("q is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(query, limit)
	if err != nil {
		slog.Error("search failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// ListHabits handles GET /api/habits?from=&to= (date keys, to inclusive).
func (h *Handler) ListHabits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, _, okFrom := datekey.DayBounds(q.Get("from"))
	_, to, okTo := datekey.DayBounds(q.Get("to"))
	if !okFrom || !okTo {
		writeJSON(w, http.StatusBadRequest, errorBody("from and to must be YYYY-MM-DD"))
		return
	}
	completions, err := h.svc.HabitCompletions(from, to)
	if err != nil {
		slog.Error("list habits failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"completions": completions})
}

// AddHabit handles POST /api/habits.
func (h *Handler) AddHabit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Habit       string    `json:"habit"`
		Note        string    `json:"note"`
		CompletedAt time.Time `json:"completed_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Habit == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("habit is required"))
		return
	}
	c, err := h.svc.AddHabit(req.Habit, req.Note, req.CompletedAt)
	if err != nil {
		slog.Error("add habit failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusCreated, c)
}
