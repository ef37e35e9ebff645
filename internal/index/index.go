package index

import "github.com/halloran/daybook/internal/models"

// EntryIndex defines the search-collaborator operations. Consumers should
// depend on this interface rather than the concrete *DB type to facilitate
// testing with mocks.
type EntryIndex interface {
	UpsertEntry(e EntryRow, body string) error
	DeleteEntry(path string) error
	AllChecksums() (map[string]string, error)
	Search(query string, limit int) ([]models.SearchResult, error)
	SetAttr(path, key, value string) error
	Attrs(path string) (map[string]string, error)
	AllAttrs() (map[string]map[string]string, error)
	Close() error
}

// Verify *DB satisfies EntryIndex at compile time.
var _ EntryIndex = (*DB)(nil)
