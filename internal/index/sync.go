package index

import (
	"log/slog"
	"time"

	"github.com/halloran/daybook/internal/checksum"
	"github.com/halloran/daybook/internal/models"
	"github.com/halloran/daybook/internal/storage"
)

// Sync brings the search index in line with a scan result:
//   - new/changed entries are read and upserted
//   - entries that vanished from the scan are deleted
//
// Reading bodies here is the search collaborator's own cost; it runs in the
// background after a scan and never blocks the viewport path. Per-entry read
// failures are logged and skipped.
func Sync(db *DB, store storage.Provider, records []models.EntryRecord, logger *slog.Logger) error {
	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		seen[rec.Path] = struct{}{}

		body, err := store.ReadText(rec.Path)
		if err != nil {
			logger.Warn("index sync: read failed",
				slog.String("path", rec.Path), slog.String("error", err.Error()))
			continue
		}
		cs := checksum.Text(body)
		if checksums[rec.Path] == cs {
			continue
		}
		row := EntryRow{
			Path:      rec.Path,
			Title:     deriveTitle(body),
			DateKey:   rec.DateKey,
			Checksum:  cs,
			UpdatedAt: time.Now(),
		}
		if err := db.UpsertEntry(row, body); err != nil {
			logger.Warn("index sync: upsert failed",
				slog.String("path", rec.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("index sync: indexed", slog.String("path", rec.Path))
		}
	}

	// Remove stale rows.
	for p := range checksums {
		if _, ok := seen[p]; !ok {
			if err := db.DeleteEntry(p); err != nil {
				logger.Warn("index sync: delete failed",
					slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("index sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}
