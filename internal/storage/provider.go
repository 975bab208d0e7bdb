// Package storage materializes rendered documents into the local vault.
package storage

import "time"

// DocumentMeta is a lightweight description of a file in the vault.
type DocumentMeta struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for vault file operations. All paths are
// slash-separated and relative to the vault root.
type Provider interface {
	// EnsureDir creates dir and any missing ancestors.
	EnsureDir(dir string) error
	// WriteDocument replaces whatever is at path with content and returns
	// the checksum of the written bytes.
	WriteDocument(path string, content []byte) (string, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// List returns metadata for every .md file under dir.
	List(dir string) ([]DocumentMeta, error)
	// Delete removes the file at path.
	Delete(path string) error
}
