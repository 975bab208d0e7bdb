// Package syncservice coordinates the scheduler, settings and document
// index for the HTTP API and the MCP server.
package syncservice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/starford/cqsync/internal/apperr"
	"github.com/starford/cqsync/internal/models"
	"github.com/starford/cqsync/internal/notify"
	"github.com/starford/cqsync/internal/state"
	"github.com/starford/cqsync/internal/storage"
	"github.com/starford/cqsync/internal/syncer"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Scheduler is the part of the scheduler the service drives.
type Scheduler interface {
	TriggerAsync(trigger syncer.Trigger) bool
	Running() bool
	LastResult() (syncer.Result, bool)
	SetInterval(d time.Duration)
}

// Status is the response payload for a status query.
type Status struct {
	Running         bool           `json:"running"`
	Watermark       string         `json:"watermark"`
	IntervalMinutes int            `json:"interval_minutes"`
	LastRun         *syncer.Result `json:"last_run,omitempty"`
	LastEvent       *notify.Event  `json:"last_event,omitempty"`
}

// SettingsPatch carries a partial settings update. Nil fields are unchanged.
type SettingsPatch struct {
	Token           *string `json:"token,omitempty"`
	SyncOnStartup   *bool   `json:"sync_on_startup,omitempty"`
	IntervalMinutes *int    `json:"interval_minutes,omitempty"`
	Directory       *string `json:"directory,omitempty"`
	Template        *string `json:"template,omitempty"`
	// ResetWatermark clears the watermark so the next run syncs everything.
	ResetWatermark bool `json:"reset_watermark,omitempty"`
}

// DocumentDetail is a document with its current file content.
type DocumentDetail struct {
	models.Document
	Content string `json:"content"`
}

// Service coordinates scheduler, state and storage operations.
type Service struct {
	sched    Scheduler
	settings state.SettingsStore
	docs     state.DocumentIndex
	store    storage.Provider
	tracker  *notify.Tracker
}

// NewService creates a new sync service. tracker may be nil.
func NewService(sched Scheduler, settings state.SettingsStore, docs state.DocumentIndex, store storage.Provider, tracker *notify.Tracker) *Service {
	return &Service{sched: sched, settings: settings, docs: docs, store: store, tracker: tracker}
}

// StartSync starts a manual run in the background.
func (s *Service) StartSync(_ context.Context) error {
	if !s.sched.TriggerAsync(syncer.TriggerManual) {
		return apperr.ErrSyncInProgress
	}
	return nil
}

// Status reports whether a run is in flight and how the last one ended.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	settings, err := s.settings.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Running:         s.sched.Running(),
		Watermark:       settings.Watermark,
		IntervalMinutes: settings.IntervalMinutes,
	}
	if res, ok := s.sched.LastResult(); ok {
		st.LastRun = &res
	}
	if s.tracker != nil {
		if ev, ok := s.tracker.Last(); ok {
			st.LastEvent = &ev
		}
	}
	return st, nil
}

// GetSettings returns the settings with the token redacted.
func (s *Service) GetSettings(ctx context.Context) (models.Settings, error) {
	settings, err := s.settings.LoadSettings(ctx)
	if err != nil {
		return models.Settings{}, err
	}
	return settings.Redacted(), nil
}

// UpdateSettings applies patch, persists the result and re-arms the timer
// when the cadence changed. It returns the redacted settings.
func (s *Service) UpdateSettings(ctx context.Context, patch SettingsPatch) (models.Settings, error) {
	current, err := s.settings.LoadSettings(ctx)
	if err != nil {
		return models.Settings{}, err
	}
	next := current
	if patch.Token != nil {
		next.Token = *patch.Token
	}
	if patch.SyncOnStartup != nil {
		next.SyncOnStartup = *patch.SyncOnStartup
	}
	if patch.IntervalMinutes != nil {
		next.IntervalMinutes = *patch.IntervalMinutes
	}
	if patch.Directory != nil {
		next.Directory = *patch.Directory
	}
	if patch.Template != nil {
		next.Template = *patch.Template
	}
	if err := next.Validate(); err != nil {
		return models.Settings{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}

	if err := s.settings.SaveSettings(ctx, next); err != nil {
		return models.Settings{}, err
	}
	if patch.ResetWatermark {
		if err := s.settings.SetWatermark(ctx, ""); err != nil {
			return models.Settings{}, err
		}
		next.Watermark = ""
	}
	if next.IntervalMinutes != current.IntervalMinutes {
		s.sched.SetInterval(time.Duration(next.IntervalMinutes) * time.Minute)
	}
	return next.Redacted(), nil
}

// ListDocuments returns indexed documents, newest first.
func (s *Service) ListDocuments(ctx context.Context, limit, offset int) ([]models.Document, int, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.docs.ListDocuments(ctx, limit, offset)
}

// ReadDocument returns an indexed document and its current content.
func (s *Service) ReadDocument(ctx context.Context, path string) (*DocumentDetail, error) {
	doc, err := s.docs.GetDocument(ctx, path)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &DocumentDetail{Document: *doc, Content: string(data)}, nil
}
