package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/cqsync/internal/metrics"
	"github.com/starford/cqsync/internal/watcher"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping() error { return p.err }

func TestRouter_Health(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r := newRouter(api, metrics.New(), fakePinger{})
	for _, path := range []string{"/health/live", "/health/ready"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, w.Code)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/anything", nil))
	if w.Code != http.StatusTeapot {
		t.Errorf("/api not mounted, got %d", w.Code)
	}
}

func TestRouter_NotReady(t *testing.T) {
	r := newRouter(http.NotFoundHandler(), metrics.New(), fakePinger{err: errors.New("closed")})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready = %d, want 503", w.Code)
	}
}

func TestRouter_Metrics(t *testing.T) {
	m := metrics.New()
	m.PageFetched()
	r := newRouter(http.NotFoundHandler(), m, fakePinger{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "cqsync_remote_pages_fetched_total 1") {
		t.Errorf("metrics body missing page counter:\n%s", w.Body.String())
	}
}

func TestNewLogger_TeesToFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "cqsync.log")
	var buf bytes.Buffer
	cfg := NewDefaultConfig().App
	cfg.LogFile = file

	newLogger(cfg, &buf).Info("hello")

	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("stdout copy = %q", buf.String())
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("file copy = %q", data)
	}
}

func TestRun_RequiresConfig(t *testing.T) {
	if err := Run(t.Context()); err == nil {
		t.Fatal("Run without config should fail")
	}
}

type templateSink struct {
	mu   sync.Mutex
	text string
}

func (s *templateSink) SetTemplate(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
	return nil
}

func (s *templateSink) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

func TestStartTemplateWatcher_ReloadsUntilCancelled(t *testing.T) {
	file := filepath.Join(t.TempDir(), "template.md")
	if err := os.WriteFile(file, []byte("v0"), 0o644); err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := &templateSink{}

	ctx, cancel := context.WithCancel(context.Background())
	wait := startTemplateWatcher(ctx, file, sink, logger)

	// Rewrite until the watcher (which may still be starting) picks it up.
	deadline := time.Now().Add(5 * time.Second)
	for i := 1; !strings.HasPrefix(sink.get(), "v"); i++ {
		if time.Now().After(deadline) {
			t.Fatal("template edit was not reloaded")
		}
		if err := os.WriteFile(file, []byte(fmt.Sprintf("v%d", i)), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * watcher.Debounce)
	}

	cancel()
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestStartTemplateWatcher_NoFile(t *testing.T) {
	wait := startTemplateWatcher(context.Background(), "", &templateSink{}, slog.Default())
	wait()
}
