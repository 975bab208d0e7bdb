package models

import "time"

// Document is a bookmark that has been materialized into the vault.
type Document struct {
	Path       string    `json:"path"`
	BookmarkID string    `json:"bookmark_id"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	Checksum   string    `json:"checksum"`
	SyncedAt   time.Time `json:"synced_at"`
}
