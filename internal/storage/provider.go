// Package storage defines the journal file-system abstraction.
package storage

import "time"

// DirEntry is one name in a directory listing.
type DirEntry struct {
	Name  string
	IsDir bool
}

// FileInfo is the stat result for a journal file. CreatedAt falls back to the
// modification time on file systems that do not record a birth time.
type FileInfo struct {
	Size       int64
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Provider is the interface for journal file operations. All paths are
// relative to the journal root; implementations reject paths that escape it.
// The core never retries failed operations itself.
type Provider interface {
	// ListDir returns the immediate children of dir.
	ListDir(dir string) ([]DirEntry, error)
	// Stat returns size and timestamps for the file at path.
	Stat(path string) (FileInfo, error)
	// ReadText returns the content of the file at path.
	ReadText(path string) (string, error)
	// WriteText atomically replaces the content of the file at path.
	WriteText(path string, content string) error
	// Remove deletes the file at path.
	Remove(path string) error
}
