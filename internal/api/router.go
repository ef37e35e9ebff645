package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halloran/daybook/internal/journal"
	"github.com/halloran/daybook/internal/settings"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *journal.Service, st *settings.Store, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, st)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Entry listing and content.
	r.Get("/entries", h.ListEntries)
	r.Post("/entries/flush", h.FlushEntry)
	r.Put("/entries/attrs", h.SetAttr)
	r.Get("/entries/*", h.GetContent)
	r.Put("/entries/*", h.UpdateContent)

	// Scan and viewport.
	r.Post("/rescan", h.Rescan)
	r.Post("/viewport", h.SetViewport)

	// Day activity.
	r.Get("/activity", h.GetActivity)
	r.Post("/activity/refresh", h.RefreshActivity)
	r.Post("/activity/fetch", h.FetchRepos)

	// Runtime settings (activity repositories).
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.UpdateSettings)

	// Search.
	r.Get("/search", h.Search)

	// Habit completions.
	r.Get("/habits", h.ListHabits)
	r.Post("/habits", h.AddHabit)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
