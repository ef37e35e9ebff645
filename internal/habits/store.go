// Package habits persists habit completions in SQLite and exposes them as an
// activity source.
package habits

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/halloran/daybook/internal/activity"
	"github.com/halloran/daybook/internal/datekey"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS completions (
	id           TEXT PRIMARY KEY,
	habit        TEXT NOT NULL,
	note         TEXT NOT NULL DEFAULT '',
	completed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_completions_at ON completions(completed_at);
`

// SourceID is how habit records are tagged in activity buckets.
const SourceID = "habits"

// Completion is one recorded habit completion.
type Completion struct {
	ID          string    `json:"id"`
	Habit       string    `json:"habit"`
	Note        string    `json:"note,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Store wraps a sql.DB with completion operations.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the habits database and applies the schema.
func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("habits: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("habits: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("habits: apply schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Add records a completion and returns it with its generated id.
func (s *Store) Add(habit, note string, at time.Time) (Completion, error) {
	c := Completion{
		ID:          uuid.NewString(),
		Habit:       habit,
		Note:        note,
		CompletedAt: at,
	}
	_, err := s.conn.Exec(
		`INSERT INTO completions (id, habit, note, completed_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Habit, c.Note, c.CompletedAt,
	)
	if err != nil {
		return Completion{}, fmt.Errorf("habits: insert: %w", err)
	}
	return c, nil
}

// Delete removes a completion by id.
func (s *Store) Delete(id string) error {
	if _, err := s.conn.Exec(`DELETE FROM completions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("habits: delete: %w", err)
	}
	return nil
}

// Completions returns completions with from <= CompletedAt < to, newest first.
func (s *Store) Completions(from, to time.Time) ([]Completion, error) {
	rows, err := s.conn.Query(
		`SELECT id, habit, note, completed_at FROM completions
		 WHERE completed_at >= ? AND completed_at < ?
		 ORDER BY completed_at DESC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("habits: query: %w", err)
	}
	defer rows.Close()

	var out []Completion
	for rows.Next() {
		var c Completion
		if err := rows.Scan(&c.ID, &c.Habit, &c.Note, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("habits: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// source adapts the store to the activity.Source interface.
type source struct {
	store *Store
}

// AsSource exposes the store's completions as date-bucketed activity records.
func (s *Store) AsSource() activity.Source {
	return &source{store: s}
}

func (src *source) ID() string { return SourceID }

func (src *source) Query(_ context.Context, from, to time.Time) ([]activity.Record, error) {
	completions, err := src.store.Completions(from, to)
	if err != nil {
		return nil, err
	}
	records := make([]activity.Record, 0, len(completions))
	for _, c := range completions {
		meta := map[string]string{"habit": c.Habit}
		if c.Note != "" {
			meta["note"] = c.Note
		}
		records = append(records, activity.Record{
			ID:        c.ID,
			SourceID:  SourceID,
			Kind:      activity.KindHabit,
			DateKey:   datekey.FromTime(c.CompletedAt),
			Timestamp: c.CompletedAt,
			Message:   c.Habit,
			Meta:      meta,
		})
	}
	return records, nil
}
