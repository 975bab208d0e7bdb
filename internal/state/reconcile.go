package state

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/starford/cqsync/internal/frontmatter"
	"github.com/starford/cqsync/internal/models"
	"github.com/starford/cqsync/internal/storage"
)

// Reconcile brings the document index in line with the files under dir:
//   - new or changed files are re-read and their front matter indexed
//   - index entries under dir whose file is gone are removed
//
// Entries outside dir are left untouched.
func Reconcile(ctx context.Context, db *DB, store storage.Provider, dir string, logger *slog.Logger) error {
	metas, err := store.List(dir)
	if err != nil {
		return err
	}
	checksums, err := db.AllChecksums(ctx)
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}
		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("reconcile: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		fm := frontmatter.Parse(data)
		title := fm.Title
		if title == "" {
			title = strings.TrimSuffix(path.Base(m.Path), ".md")
		}
		doc := models.Document{
			Path:       m.Path,
			BookmarkID: fm.BookmarkID,
			Title:      title,
			URL:        fm.URL,
			Checksum:   m.Checksum,
			SyncedAt:   m.UpdatedAt,
		}
		if err := db.UpsertDocument(ctx, doc); err != nil {
			logger.Warn("reconcile: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("reconcile: indexed", slog.String("path", m.Path))
		}
	}

	prefix := strings.Trim(dir, "/")
	if prefix != "" {
		prefix += "/"
	}
	for p := range checksums {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		if _, ok := disk[p]; ok {
			continue
		}
		if err := db.DeleteDocument(ctx, p); err != nil {
			logger.Warn("reconcile: delete failed", slog.String("path", p), slog.String("error", err.Error()))
		} else {
			logger.Debug("reconcile: removed stale", slog.String("path", p))
		}
	}
	return nil
}
