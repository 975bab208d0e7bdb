package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/starford/cqsync/internal/apperr"
	"github.com/starford/cqsync/internal/models"
	"github.com/starford/cqsync/internal/syncservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *syncservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *syncservice.Service) *Handler {
	return &Handler{svc: svc}
}

// documentPath extracts the document path from the URL (everything after /api/documents/).
// Supports encoded slashes from OpenAPI clients (e.g. cangquyun%2F2024-10-01%2Fa.md).
func documentPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// StartSync handles POST /api/sync.
//
//	@Summary		Start a manual sync in the background
//	@Tags			sync
//	@Produce		json
//	@Success		202	{object}	SyncAccepted
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.StartSync(r.Context()); err != nil {
		if errors.Is(err, apperr.ErrSyncInProgress) {
			writeJSON(w, http.StatusConflict, errorBody("a sync is already in progress"))
		} else {
			writeInternal(w, "start sync", err)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, SyncAccepted{Status: "accepted"})
}

// Status handles GET /api/sync/status.
//
//	@Summary		Report the running flag, watermark and last run
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	SyncStatus
//	@Security		BearerAuth
//	@Router			/sync/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		writeInternal(w, "sync status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetSettings handles GET /api/settings.
//
//	@Summary		Get sync settings with the token redacted
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	SettingsResponse
//	@Security		BearerAuth
//	@Router			/settings [get]
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.GetSettings(r.Context())
	if err != nil {
		writeInternal(w, "get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UpdateSettings handles PUT /api/settings.
//
//	@Summary		Partially update sync settings
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		UpdateSettingsRequest	true	"Fields to change"
//	@Success		200		{object}	SettingsResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings [put]
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	s, err := h.svc.UpdateSettings(r.Context(), req)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		} else {
			writeInternal(w, "update settings", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List materialized documents, newest first
//	@Tags			documents
//	@Produce		json
//	@Param			limit	query		int	false	"Page size"
//	@Param			offset	query		int	false	"Page offset"
//	@Success		200		{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	docs, total, err := h.svc.ListDocuments(r.Context(), limit, offset)
	if err != nil {
		writeInternal(w, "list documents", err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: docs, Total: total})
}

// GetDocument handles GET /api/documents/*.
//
//	@Summary		Get a materialized document and its content
//	@Tags			documents
//	@Produce		json
//	@Param			path	path		string	true	"Document path"
//	@Success		200		{object}	DocumentDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	path := documentPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	doc, err := h.svc.ReadDocument(r.Context(), path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			writeInternal(w, "get document", err, slog.String("path", path))
		}
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
