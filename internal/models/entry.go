// Package models defines the domain types for Daybook.
package models

import "time"

// EntryRecord is the metadata for a single journal document discovered by a
// scan. Path is relative to the journal root and serves as the entry's
// identity everywhere in the system.
type EntryRecord struct {
	Path       string            `json:"path"`
	Name       string            `json:"name"`
	CreatedAt  time.Time         `json:"created_at"`
	ModifiedAt time.Time         `json:"modified_at"`
	Size       int64             `json:"size"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	// DateKey is the effective date (YYYY-MM-DD) used to order entries and
	// to bucket external activity. Derived from the filename when it matches
	// the strict date pattern, otherwise from the creation timestamp.
	DateKey string `json:"date_key"`
}

// Viewport is the visible index range reported by the list renderer.
type Viewport struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SearchResult is one hit from the full-text search collaborator.
type SearchResult struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}
