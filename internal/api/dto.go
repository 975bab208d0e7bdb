package api

import (
	"github.com/starford/cqsync/internal/models"
	"github.com/starford/cqsync/internal/syncservice"
)

// SyncAccepted is the response body for an accepted manual sync.
type SyncAccepted struct {
	Status string `json:"status" example:"accepted" validate:"required"`
}

// SyncStatus is the status response type (aliased from the domain layer).
type SyncStatus = syncservice.Status

// UpdateSettingsRequest is the request body for a partial settings update.
type UpdateSettingsRequest = syncservice.SettingsPatch

// SettingsResponse is the redacted settings payload.
type SettingsResponse = models.Settings

// DocumentDetail is a document with its file content (aliased from the domain layer).
type DocumentDetail = syncservice.DocumentDetail

// DocumentListResponse wraps paginated document listings.
type DocumentListResponse struct {
	Documents []models.Document `json:"documents" validate:"required"`
	Total     int               `json:"total" example:"42" validate:"required"`
}
