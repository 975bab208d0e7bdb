package syncservice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/cqsync/internal/apperr"
	"github.com/starford/cqsync/internal/models"
	"github.com/starford/cqsync/internal/notify"
	"github.com/starford/cqsync/internal/state"
	"github.com/starford/cqsync/internal/storage"
	"github.com/starford/cqsync/internal/syncer"
	"github.com/starford/cqsync/internal/testutil"
)

type fakeScheduler struct {
	mu        sync.Mutex
	busy      bool
	triggers  []syncer.Trigger
	intervals []time.Duration
	last      *syncer.Result
}

func (f *fakeScheduler) TriggerAsync(tr syncer.Trigger) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return false
	}
	f.triggers = append(f.triggers, tr)
	return true
}

func (f *fakeScheduler) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeScheduler) LastResult() (syncer.Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return syncer.Result{}, false
	}
	return *f.last, true
}

func (f *fakeScheduler) SetInterval(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intervals = append(f.intervals, d)
}

func newService(t *testing.T) (*Service, *fakeScheduler, *state.DB, *storage.FS, *notify.Tracker) {
	t.Helper()
	db := testutil.TestDB(t)
	_, store := testutil.TestVault(t)
	sched := &fakeScheduler{}
	tracker := notify.NewTracker()
	require.NoError(t, db.SeedSettings(context.Background(), models.Settings{Token: "secret", IntervalMinutes: 30}))
	return NewService(sched, db, db, store, tracker), sched, db, store, tracker
}

func ptr[T any](v T) *T { return &v }

func TestStartSync(t *testing.T) {
	svc, sched, _, _, _ := newService(t)

	require.NoError(t, svc.StartSync(context.Background()))
	assert.Equal(t, []syncer.Trigger{syncer.TriggerManual}, sched.triggers)

	sched.busy = true
	assert.ErrorIs(t, svc.StartSync(context.Background()), apperr.ErrSyncInProgress)
}

func TestStatus(t *testing.T) {
	svc, sched, db, _, tracker := newService(t)
	ctx := context.Background()
	require.NoError(t, db.SetWatermark(ctx, "2024-10-05 00:30:00"))
	sched.last = &syncer.Result{RunID: "r1", Outcome: syncer.OutcomeCompleted, Written: 4}
	tracker.Notify(ctx, notify.Event{Kind: notify.KindCompleted, RunID: "r1", Count: 4})

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Equal(t, "2024-10-05 00:30:00", st.Watermark)
	assert.Equal(t, 30, st.IntervalMinutes)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, 4, st.LastRun.Written)
	require.NotNil(t, st.LastEvent)
	assert.Equal(t, notify.KindCompleted, st.LastEvent.Kind)
}

func TestGetSettings_RedactsToken(t *testing.T) {
	svc, _, _, _, _ := newService(t)
	s, err := svc.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "********", s.Token)
	assert.Equal(t, 30, s.IntervalMinutes)
}

func TestUpdateSettings_PartialAndRearm(t *testing.T) {
	svc, sched, db, _, _ := newService(t)
	ctx := context.Background()

	got, err := svc.UpdateSettings(ctx, SettingsPatch{IntervalMinutes: ptr(5), Directory: ptr("web")})
	require.NoError(t, err)
	assert.Equal(t, 5, got.IntervalMinutes)
	assert.Equal(t, "web", got.Directory)
	assert.Equal(t, []time.Duration{5 * time.Minute}, sched.intervals)

	stored, _ := db.LoadSettings(ctx)
	assert.Equal(t, "secret", stored.Token, "untouched fields survive")
	assert.Equal(t, "web", stored.Directory)

	// Same cadence: no re-arm.
	_, err = svc.UpdateSettings(ctx, SettingsPatch{IntervalMinutes: ptr(5), SyncOnStartup: ptr(true)})
	require.NoError(t, err)
	assert.Len(t, sched.intervals, 1)
}

func TestUpdateSettings_Invalid(t *testing.T) {
	svc, _, db, _, _ := newService(t)
	_, err := svc.UpdateSettings(context.Background(), SettingsPatch{IntervalMinutes: ptr(-1)})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput), "err = %v", err)

	stored, _ := db.LoadSettings(context.Background())
	assert.Equal(t, 30, stored.IntervalMinutes)
}

func TestUpdateSettings_ResetWatermark(t *testing.T) {
	svc, _, db, _, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, db.SetWatermark(ctx, "2024-10-05 00:30:00"))

	got, err := svc.UpdateSettings(ctx, SettingsPatch{ResetWatermark: true})
	require.NoError(t, err)
	assert.Empty(t, got.Watermark)
	stored, _ := db.LoadSettings(ctx)
	assert.Empty(t, stored.Watermark)
}

func TestListAndReadDocuments(t *testing.T) {
	svc, _, db, store, _ := newService(t)
	ctx := context.Background()

	sum, err := store.WriteDocument("cangquyun/2024-10-01/a.md", []byte("# A"))
	require.NoError(t, err)
	require.NoError(t, db.UpsertDocument(ctx, models.Document{
		Path: "cangquyun/2024-10-01/a.md", BookmarkID: "b1", Title: "A", Checksum: sum, SyncedAt: time.Now(),
	}))

	docs, total, err := svc.ListDocuments(ctx, 0, -3)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)

	detail, err := svc.ReadDocument(ctx, "cangquyun/2024-10-01/a.md")
	require.NoError(t, err)
	assert.Equal(t, "# A", detail.Content)
	assert.Equal(t, "b1", detail.BookmarkID)

	_, err = svc.ReadDocument(ctx, "cangquyun/missing.md")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReadDocument_FileGone(t *testing.T) {
	svc, _, db, _, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, db.UpsertDocument(ctx, models.Document{Path: "gone.md", SyncedAt: time.Now()}))

	_, err := svc.ReadDocument(ctx, "gone.md")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
