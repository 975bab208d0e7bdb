package state

import (
	"context"

	"github.com/starford/cqsync/internal/models"
)

// SettingsStore persists the user-editable sync settings.
type SettingsStore interface {
	SeedSettings(ctx context.Context, s models.Settings) error
	LoadSettings(ctx context.Context) (models.Settings, error)
	SaveSettings(ctx context.Context, s models.Settings) error
	SetWatermark(ctx context.Context, watermark string) error
	SetTemplate(ctx context.Context, text string) error
}

// DocumentIndex records documents materialized into the vault.
type DocumentIndex interface {
	UpsertDocument(ctx context.Context, doc models.Document) error
	GetDocument(ctx context.Context, path string) (*models.Document, error)
	DeleteDocument(ctx context.Context, path string) error
	ListDocuments(ctx context.Context, limit, offset int) ([]models.Document, int, error)
	AllChecksums(ctx context.Context) (map[string]string, error)
}

// Verify *DB satisfies both interfaces at compile time.
var (
	_ SettingsStore = (*DB)(nil)
	_ DocumentIndex = (*DB)(nil)
)
