// Package syncer runs one incremental mirror of the remote library into the
// local vault.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/cqsync/internal/apperr"
	"github.com/starford/cqsync/internal/metrics"
	"github.com/starford/cqsync/internal/models"
	"github.com/starford/cqsync/internal/naming"
	"github.com/starford/cqsync/internal/notify"
	"github.com/starford/cqsync/internal/remote"
	"github.com/starford/cqsync/internal/storage"
)

// DefaultPageSize is the number of records requested per page.
const DefaultPageSize = 50

// WatermarkLayout is the format of persisted watermarks. Watermarks are
// always UTC.
const WatermarkLayout = "2006-01-02 15:04:05"

// Trigger names what started a run.
type Trigger string

const (
	TriggerStartup Trigger = "startup"
	TriggerManual  Trigger = "manual"
	TriggerTimer   Trigger = "timer"
)

// Outcome is the terminal state of a run.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeFailedFatal     Outcome = "failed_fatal"
	OutcomeFailedTransient Outcome = "failed_transient"
	// OutcomeSkipped means the run never started (no credential).
	OutcomeSkipped Outcome = "skipped"
)

// Fetcher retrieves one page from the remote library.
type Fetcher interface {
	FetchPage(ctx context.Context, req remote.PageRequest) (*models.Page, error)
}

// Renderer expands a template for one record. An empty result means skip.
type Renderer interface {
	Render(text string, data map[string]any) string
}

// SettingsStore gives the orchestrator a settings snapshot and persists the
// watermark after a successful run.
type SettingsStore interface {
	LoadSettings(ctx context.Context) (models.Settings, error)
	SetWatermark(ctx context.Context, watermark string) error
}

// DocumentRecorder records materialized documents.
type DocumentRecorder interface {
	UpsertDocument(ctx context.Context, doc models.Document) error
}

// Deps are the orchestrator's collaborators. Recorder, Notifier, Metrics,
// Logger and Now are optional.
type Deps struct {
	Fetcher  Fetcher
	Store    storage.Provider
	Renderer Renderer
	Settings SettingsStore
	Recorder DocumentRecorder
	Notifier notify.Notifier
	Metrics  *metrics.Collector
	Logger   *slog.Logger
	PageSize int
	Now      func() time.Time
}

// Result summarizes a run.
type Result struct {
	RunID     string    `json:"run_id"`
	Trigger   Trigger   `json:"trigger"`
	Outcome   Outcome   `json:"outcome"`
	Message   string    `json:"message"`
	Pages     int       `json:"pages"`
	Records   int       `json:"records"`
	Written   int       `json:"written"`
	Skipped   int       `json:"skipped"`
	Watermark string    `json:"watermark,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}

// Orchestrator executes sync runs. It does not guard against concurrent
// runs; callers go through the scheduler.
type Orchestrator struct {
	fetcher  Fetcher
	store    storage.Provider
	renderer Renderer
	settings SettingsStore
	recorder DocumentRecorder
	notifier notify.Notifier
	metrics  *metrics.Collector
	logger   *slog.Logger
	pageSize int
	now      func() time.Time
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		fetcher:  d.Fetcher,
		store:    d.Store,
		renderer: d.Renderer,
		settings: d.Settings,
		recorder: d.Recorder,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		logger:   d.Logger,
		pageSize: d.PageSize,
		now:      d.Now,
	}
	if o.notifier == nil {
		o.notifier = notify.Nop
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.pageSize <= 0 {
		o.pageSize = DefaultPageSize
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Run performs one sync. The returned error is nil only for a completed
// run; it is a *RunError for failures and apperr.ErrMissingCredential when
// no token is configured.
func (o *Orchestrator) Run(ctx context.Context, trigger Trigger) (Result, error) {
	started := o.now()
	res := Result{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: started.UTC(),
	}
	logger := o.logger.With(slog.String("run_id", res.RunID), slog.String("trigger", string(trigger)))

	settings, err := o.settings.LoadSettings(ctx)
	if err != nil {
		return o.finish(ctx, logger, res, started, fmt.Errorf("load settings: %w", err))
	}
	if strings.TrimSpace(settings.Token) == "" {
		res.Outcome = OutcomeSkipped
		res.Message = "sync skipped: API token is not configured"
		o.notify(ctx, res, notify.KindCredentialMissing, res.Message)
		logger.Warn("sync: no api token configured")
		return res, apperr.ErrMissingCredential
	}

	// The watermark for this run is its start time; records updated while
	// the run is in flight are picked up by the next one.
	runStart := started.UTC().Format(WatermarkLayout)
	since := settings.Watermark
	if since != "" && !validWatermark(since) {
		logger.Warn("sync: ignoring malformed watermark", slog.String("watermark", since))
		since = ""
	}

	o.notify(ctx, res, notify.KindStarted, "sync started")
	logger.Info("sync: run started", slog.String("since", since))

	err = o.pages(ctx, logger, &settings, since, &res)
	if err == nil {
		if werr := o.settings.SetWatermark(ctx, runStart); werr != nil {
			err = fmt.Errorf("persist watermark: %w", werr)
		} else {
			res.Watermark = runStart
		}
	}
	return o.finish(ctx, logger, res, started, err)
}

func (o *Orchestrator) pages(ctx context.Context, logger *slog.Logger, settings *models.Settings, since string, res *Result) error {
	root := settings.RootDirectory()
	for pageNum := 1; ; pageNum++ {
		page, err := o.fetcher.FetchPage(ctx, remote.PageRequest{
			Token:    settings.Token,
			PageNum:  pageNum,
			PageSize: o.pageSize,
			Since:    since,
		})
		if err != nil {
			return err
		}
		res.Pages++
		o.metrics.PageFetched()

		if err := remote.CheckPage(page); err != nil {
			return err
		}
		n := page.Len()
		if n == 0 {
			return nil
		}
		res.Records += n

		for _, rej := range page.Rejected {
			res.Skipped++
			o.metrics.RecordSkipped("undecodable")
			logger.Warn("sync: record rejected",
				slog.Int("page", pageNum),
				slog.Int("index", rej.Index),
				slog.String("error", rej.Err.Error()))
		}
		for i := range page.Records {
			if err := o.materialize(ctx, logger, root, settings.Template, &page.Records[i], res); err != nil {
				return err
			}
		}

		if n < o.pageSize {
			return nil
		}
	}
}

func (o *Orchestrator) materialize(ctx context.Context, logger *slog.Logger, root, tmpl string, rec *models.ContentRecord, res *Result) error {
	if err := rec.Validate(); err != nil {
		res.Skipped++
		o.metrics.RecordSkipped("invalid")
		logger.Warn("sync: record invalid",
			slog.String("bookmark_id", rec.ID),
			slog.String("error", err.Error()))
		return nil
	}
	bucket, err := naming.BucketPath(rec.CreateTime)
	if err != nil {
		res.Skipped++
		o.metrics.RecordSkipped("invalid")
		logger.Warn("sync: record has no date bucket", slog.String("bookmark_id", rec.ID))
		return nil
	}

	text := o.renderer.Render(tmpl, templateData(rec))
	if text == "" {
		res.Skipped++
		o.metrics.RecordSkipped("empty_render")
		logger.Debug("sync: empty render, skipping", slog.String("bookmark_id", rec.ID))
		return nil
	}

	dir := path.Join(root, bucket)
	rel := path.Join(dir, naming.FileName(rec.Title, rec.ID))
	if err := o.store.EnsureDir(dir); err != nil {
		return &FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}
	sum, err := o.store.WriteDocument(rel, []byte(text))
	if err != nil {
		return &FilesystemError{Op: "write", Path: rel, Err: err}
	}
	res.Written++
	o.metrics.DocumentWritten()

	if o.recorder != nil {
		doc := models.Document{
			Path:       rel,
			BookmarkID: rec.ID,
			Title:      rec.Title,
			URL:        rec.URL,
			Checksum:   sum,
			SyncedAt:   o.now().UTC(),
		}
		if err := o.recorder.UpsertDocument(ctx, doc); err != nil {
			logger.Warn("sync: record document failed",
				slog.String("path", rel),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, res Result, started time.Time, err error) (Result, error) {
	elapsed := o.now().Sub(started)
	res.Duration = elapsed.String()

	if err == nil {
		res.Outcome = OutcomeCompleted
		res.Message = fmt.Sprintf("sync completed, %d documents synced", res.Written)
		o.metrics.ObserveRun(string(res.Outcome), elapsed, o.now())
		o.notify(ctx, res, notify.KindCompleted, res.Message)
		logger.Info("sync: run completed",
			slog.Int("pages", res.Pages),
			slog.Int("records", res.Records),
			slog.Int("written", res.Written),
			slog.Int("skipped", res.Skipped),
			slog.String("watermark", res.Watermark))
		return res, nil
	}

	runErr := classify(err)
	res.Outcome = runErr.Outcome
	res.Message = runErr.Message
	o.metrics.ObserveRun(string(res.Outcome), elapsed, o.now())
	o.notify(ctx, res, notify.KindFailed, res.Message)
	logger.Error("sync: run failed",
		slog.String("outcome", string(res.Outcome)),
		slog.Int("pages", res.Pages),
		slog.Int("written", res.Written),
		slog.String("error", err.Error()))
	return res, runErr
}

func (o *Orchestrator) notify(ctx context.Context, res Result, kind notify.Kind, msg string) {
	ev := notify.Event{
		Kind:    kind,
		RunID:   res.RunID,
		Trigger: string(res.Trigger),
		Message: msg,
		At:      o.now().UTC(),
	}
	if kind == notify.KindCompleted {
		ev.Count = res.Written
	}
	o.notifier.Notify(ctx, ev)
}

var watermarkLayouts = []string{WatermarkLayout, time.RFC3339, time.DateOnly}

func validWatermark(s string) bool {
	for _, layout := range watermarkLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
