package index

import (
	"fmt"
	"strings"
	"time"
)

// EntryRow represents a row in the entries table.
type EntryRow struct {
	Path      string
	Title     string
	DateKey   string
	Checksum  string
	UpdatedAt time.Time
}

// UpsertEntry inserts or replaces an entry and its FTS row in one transaction.
func (db *DB) UpsertEntry(e EntryRow, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO entries (path, title, date_key, checksum, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title      = excluded.title,
			date_key   = excluded.date_key,
			checksum   = excluded.checksum,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, e.Path, e.Title, e.DateKey, e.Checksum, body, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert entry: %w", err)
	}

	// FTS upsert (no-op when the FTS5 tag is absent).
	if err := ftsUpsert(tx, e.Path, e.Title, body); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteEntry removes an entry, its FTS row, and its attributes.
func (db *DB) DeleteEntry(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	_, _ = tx.Exec(`DELETE FROM entry_attrs WHERE path = ?`, path)
	_, _ = tx.Exec(`DELETE FROM entries WHERE path = ?`, path)

	return tx.Commit()
}

// AllChecksums returns path → checksum for every indexed entry.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// SetAttr stores one free-form attribute for an entry; an empty value removes
// it.
func (db *DB) SetAttr(path, key, value string) error {
	if value == "" {
		_, err := db.conn.Exec(`DELETE FROM entry_attrs WHERE path = ? AND key = ?`, path, key)
		if err != nil {
			return fmt.Errorf("index: delete attr: %w", err)
		}
		return nil
	}
	_, err := db.conn.Exec(`
		INSERT INTO entry_attrs (path, key, value) VALUES (?, ?, ?)
		ON CONFLICT(path, key) DO UPDATE SET value = excluded.value
	`, path, key, value)
	if err != nil {
		return fmt.Errorf("index: set attr: %w", err)
	}
	return nil
}

// Attrs returns every attribute stored for an entry.
func (db *DB) Attrs(path string) (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT key, value FROM entry_attrs WHERE path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("index: attrs: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// AllAttrs returns attributes for every entry that has any, keyed by path.
func (db *DB) AllAttrs() (map[string]map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, key, value FROM entry_attrs`)
	if err != nil {
		return nil, fmt.Errorf("index: all attrs: %w", err)
	}
	defer rows.Close()
	out := make(map[string]map[string]string)
	for rows.Next() {
		var p, k, v string
		if err := rows.Scan(&p, &k, &v); err != nil {
			return nil, err
		}
		if out[p] == nil {
			out[p] = make(map[string]string)
		}
		out[p][k] = v
	}
	return out, rows.Err()
}

// deriveTitle returns the first H1 heading in body, or "".
func deriveTitle(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
