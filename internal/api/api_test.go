package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/starford/cqsync/internal/models"
	"github.com/starford/cqsync/internal/notify"
	"github.com/starford/cqsync/internal/state"
	"github.com/starford/cqsync/internal/storage"
	"github.com/starford/cqsync/internal/syncer"
	"github.com/starford/cqsync/internal/syncservice"
	"github.com/starford/cqsync/internal/testutil"
)

// stubScheduler records triggers and reports busy on demand.
type stubScheduler struct {
	mu        sync.Mutex
	busy      bool
	triggered int
	interval  time.Duration
}

func (s *stubScheduler) TriggerAsync(syncer.Trigger) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.triggered++
	return true
}

func (s *stubScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *stubScheduler) LastResult() (syncer.Result, bool) { return syncer.Result{}, false }

func (s *stubScheduler) SetInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
}

type env struct {
	sched  *stubScheduler
	db     *state.DB
	store  *storage.FS
	router http.Handler
}

// testEnv sets up a temp vault, SQLite DB, service, and router for testing.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) *env {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, authToken string, sseHandler http.Handler) *env {
	t.Helper()
	db := testutil.TestDB(t)
	_, store := testutil.TestVault(t)
	if err := db.SeedSettings(context.Background(), models.Settings{Token: "remote-token", IntervalMinutes: 30}); err != nil {
		t.Fatal(err)
	}
	sched := &stubScheduler{}
	svc := syncservice.NewService(sched, db, db, store, notify.NewTracker())
	return &env{
		sched:  sched,
		db:     db,
		store:  store,
		router: NewRouter(svc, authEnabled, authToken, sseHandler),
	}
}

func (e *env) do(t *testing.T, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestStartSync(t *testing.T) {
	e := testEnv(t, "")

	w := e.do(t, http.MethodPost, "/sync", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, body = %s", w.Code, w.Body.String())
	}
	if e.sched.triggered != 1 {
		t.Errorf("triggered = %d, want 1", e.sched.triggered)
	}
}

func TestStartSync_Busy(t *testing.T) {
	e := testEnv(t, "")
	e.sched.busy = true

	w := e.do(t, http.MethodPost, "/sync", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("busy status = %d, want 409", w.Code)
	}
}

func TestSyncStatus(t *testing.T) {
	e := testEnv(t, "")
	if err := e.db.SetWatermark(context.Background(), "2024-10-05 00:30:00"); err != nil {
		t.Fatal(err)
	}

	w := e.do(t, http.MethodGet, "/sync/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st SyncStatus
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Watermark != "2024-10-05 00:30:00" {
		t.Errorf("watermark = %q", st.Watermark)
	}
	if st.Running {
		t.Error("running = true, want false")
	}
}

func TestGetSettings_Redacted(t *testing.T) {
	e := testEnv(t, "")

	w := e.do(t, http.MethodGet, "/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var s SettingsResponse
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.Token == "remote-token" {
		t.Error("token leaked in settings response")
	}
}

func TestUpdateSettings(t *testing.T) {
	e := testEnv(t, "")

	w := e.do(t, http.MethodPut, "/settings", map[string]any{"interval_minutes": 10, "directory": "reading"})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}
	stored, err := e.db.LoadSettings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stored.IntervalMinutes != 10 || stored.Directory != "reading" {
		t.Errorf("stored = %+v", stored)
	}
	if stored.Token != "remote-token" {
		t.Errorf("token changed to %q", stored.Token)
	}
	if e.sched.interval != 10*time.Minute {
		t.Errorf("interval = %v, want 10m", e.sched.interval)
	}
}

func TestUpdateSettings_Invalid(t *testing.T) {
	e := testEnv(t, "")

	w := e.do(t, http.MethodPut, "/settings", map[string]any{"interval_minutes": -5})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid interval = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPut, "/settings", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", rec.Code)
	}
}

func seedDocument(t *testing.T, e *env, path, content string, at time.Time) {
	t.Helper()
	sum, err := e.store.WriteDocument(path, []byte(content))
	if err != nil {
		t.Fatal(err)
	}
	err = e.db.UpsertDocument(context.Background(), models.Document{
		Path: path, BookmarkID: path, Title: path, Checksum: sum, SyncedAt: at,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestListDocuments(t *testing.T) {
	e := testEnv(t, "")
	base := time.Date(2024, 10, 5, 0, 0, 0, 0, time.UTC)
	seedDocument(t, e, "cangquyun/2024-10-01/a.md", "a", base)
	seedDocument(t, e, "cangquyun/2024-10-02/b.md", "b", base.Add(time.Minute))

	w := e.do(t, http.MethodGet, "/documents?limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var resp DocumentListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || len(resp.Documents) != 1 {
		t.Fatalf("total = %d, len = %d", resp.Total, len(resp.Documents))
	}
	if resp.Documents[0].Path != "cangquyun/2024-10-02/b.md" {
		t.Errorf("first = %q, want newest", resp.Documents[0].Path)
	}
}

func TestListDocuments_Empty(t *testing.T) {
	e := testEnv(t, "")
	w := e.do(t, http.MethodGet, "/documents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"documents":[]`)) {
		t.Errorf("body = %s, want empty array", w.Body.String())
	}
}

func TestGetDocument(t *testing.T) {
	e := testEnv(t, "")
	seedDocument(t, e, "cangquyun/2024-10-01/a.md", "# A", time.Now())

	for _, target := range []string{"/documents/cangquyun/2024-10-01/a.md", "/documents/cangquyun%2F2024-10-01%2Fa.md"} {
		w := e.do(t, http.MethodGet, target, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", target, w.Code)
		}
		var doc DocumentDetail
		if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
			t.Fatal(err)
		}
		if doc.Content != "# A" {
			t.Errorf("%s: content = %q", target, doc.Content)
		}
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	e := testEnv(t, "")
	w := e.do(t, http.MethodGet, "/documents/missing.md", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing = %d, want 404", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	e := testEnv(t, "secret123")
	w := e.do(t, http.MethodGet, "/settings", nil, "Authorization", "Bearer secret123")
	if w.Code != http.StatusOK {
		t.Errorf("authed = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	e := testEnv(t, "secret123")
	w := e.do(t, http.MethodPost, "/sync", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
	if e.sched.triggered != 0 {
		t.Error("sync triggered without auth")
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	e := testEnv(t, "secret123")
	w := e.do(t, http.MethodGet, "/settings", nil, "Authorization", "Bearer wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	e := testEnv(t, "")
	w := e.do(t, http.MethodGet, "/settings", nil)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

// blockingSSE writes headers and blocks until the request context is done.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	e := testEnvWithSSE(t, true, "secret", blockingSSE)

	w := e.do(t, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	e := testEnvWithSSE(t, true, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
