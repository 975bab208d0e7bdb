package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/cqsync/internal/apperr"
	"github.com/starford/cqsync/internal/models"
)

// UpsertDocument inserts or replaces a document row. An empty bookmark id
// keeps the one already stored.
func (db *DB) UpsertDocument(ctx context.Context, doc models.Document) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO documents (path, bookmark_id, title, url, checksum, synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			bookmark_id = CASE WHEN excluded.bookmark_id != '' THEN excluded.bookmark_id ELSE documents.bookmark_id END,
			title       = excluded.title,
			url         = excluded.url,
			checksum    = excluded.checksum,
			synced_at   = excluded.synced_at
	`, doc.Path, doc.BookmarkID, doc.Title, doc.URL, doc.Checksum, doc.SyncedAt.UTC())
	if err != nil {
		return fmt.Errorf("state: upsert document: %w", err)
	}
	return nil
}

// GetDocument returns one document or apperr.ErrNotFound.
func (db *DB) GetDocument(ctx context.Context, path string) (*models.Document, error) {
	var d models.Document
	err := db.conn.QueryRowContext(ctx, `
		SELECT path, bookmark_id, title, url, checksum, synced_at
		FROM documents WHERE path = ?`, path).
		Scan(&d.Path, &d.BookmarkID, &d.Title, &d.URL, &d.Checksum, &d.SyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state: get document: %w", err)
	}
	return &d, nil
}

// DeleteDocument removes a document row.
func (db *DB) DeleteDocument(ctx context.Context, path string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("state: delete document: %w", err)
	}
	return nil
}

// ListDocuments returns documents newest first, plus the total count.
func (db *DB) ListDocuments(ctx context.Context, limit, offset int) ([]models.Document, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM documents`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("state: count documents: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT path, bookmark_id, title, url, checksum, synced_at
		FROM documents
		ORDER BY synced_at DESC, path ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("state: list documents: %w", err)
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.Path, &d.BookmarkID, &d.Title, &d.URL, &d.Checksum, &d.SyncedAt); err != nil {
			return nil, 0, fmt.Errorf("state: scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// AllChecksums returns path -> checksum for every indexed document.
func (db *DB) AllChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, checksum FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("state: all checksums: %w", err)
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
