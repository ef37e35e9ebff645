// Package activity fetches and merges externally-sourced, date-bucketed
// records (version-control commits, habit completions) from a dynamic set of
// sources.
package activity

import (
	"context"
	"strings"
	"time"
)

// Record kinds.
const (
	KindCommit = "commit"
	KindHabit  = "habit"
)

// Record is the single normalized shape every source produces, tagged with
// its source identifier. Source-specific detail goes into Meta rather than
// into per-source types.
type Record struct {
	ID        string            `json:"id"`
	SourceID  string            `json:"source_id"`
	Kind      string            `json:"kind"`
	DateKey   string            `json:"date_key"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message"`
	Author    string            `json:"author,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Source produces records for a time window. Implementations must be safe for
// concurrent Query calls.
type Source interface {
	// ID identifies the source; it must be stable across fetch cycles.
	ID() string
	// Query returns all records with from <= Timestamp < to.
	Query(ctx context.Context, from, to time.Time) ([]Record, error)
}

// Filter narrows a bucket read; zero fields match everything and set fields
// combine with logical AND.
type Filter struct {
	SourceID string
	Author   string
	Match    string // case-insensitive substring over the descriptive fields
}

func (f Filter) matches(r Record) bool {
	if f.SourceID != "" && r.SourceID != f.SourceID {
		return false
	}
	if f.Author != "" && !strings.EqualFold(r.Author, f.Author) {
		return false
	}
	if f.Match != "" {
		needle := strings.ToLower(f.Match)
		if !strings.Contains(strings.ToLower(r.Message), needle) &&
			!metaContains(r.Meta, needle) {
			return false
		}
	}
	return true
}

func metaContains(meta map[string]string, needle string) bool {
	for _, v := range meta {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}
