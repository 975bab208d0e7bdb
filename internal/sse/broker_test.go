package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/cqsync/internal/notify"
)

func recv(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case msg := <-ch:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return ""
	}
}

func expectNothing(t *testing.T, ch chan []byte) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Errorf("unexpected message %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(time.Minute)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe(nil)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestNotifyDelivery(t *testing.T) {
	b := NewBroker(time.Minute)
	defer b.Close()
	ch := b.Subscribe(nil)
	defer b.Unsubscribe(ch)

	b.Notify(context.Background(), notify.Event{Kind: notify.KindCompleted, Count: 3, Message: "sync completed, 3 documents synced"})

	s := recv(t, ch)
	if !strings.HasPrefix(s, "id: 1\nevent: sync.completed\n") {
		t.Errorf("bad frame header in %q", s)
	}
	if !strings.Contains(s, `"count":3`) {
		t.Errorf("missing data in %q", s)
	}

	b.Notify(context.Background(), notify.Event{Kind: notify.KindStarted})
	if s := recv(t, ch); !strings.HasPrefix(s, "id: 2\n") {
		t.Errorf("ids should increase, got %q", s)
	}
}

func TestFilter(t *testing.T) {
	b := NewBroker(time.Minute)
	defer b.Close()
	ch := b.Subscribe(Filter{notify.KindFailed: true})
	defer b.Unsubscribe(ch)

	b.Notify(context.Background(), notify.Event{Kind: notify.KindStarted})
	b.Notify(context.Background(), notify.Event{Kind: notify.KindFailed, Message: "sync failed: invalid token"})

	if s := recv(t, ch); !strings.Contains(s, "event: sync.failed") {
		t.Errorf("got %q, want only the failure", s)
	}
	expectNothing(t, ch)
}

func TestLatestMatchingEventReplayed(t *testing.T) {
	b := NewBroker(time.Minute)
	defer b.Close()

	all := b.Subscribe(nil)
	defer b.Unsubscribe(all)
	b.Notify(context.Background(), notify.Event{Kind: notify.KindCompleted, RunID: "r1"})
	b.Notify(context.Background(), notify.Event{Kind: notify.KindStarted, RunID: "r2"})
	// Once the first client has both, the loop has recorded them.
	recv(t, all)
	recv(t, all)

	latest := b.Subscribe(nil)
	defer b.Unsubscribe(latest)
	if s := recv(t, latest); !strings.Contains(s, "event: sync.started") {
		t.Errorf("replayed %q, want the latest event", s)
	}
	expectNothing(t, latest)

	done := b.Subscribe(Filter{notify.KindCompleted: true})
	defer b.Unsubscribe(done)
	if s := recv(t, done); !strings.Contains(s, `"run_id":"r1"`) {
		t.Errorf("replayed %q, want the latest completed event", s)
	}
}

func TestHeartbeat(t *testing.T) {
	b := NewBroker(20 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe(nil)
	defer b.Unsubscribe(ch)

	if s := recv(t, ch); s != ": ping\n\n" {
		t.Errorf("heartbeat = %q", s)
	}
}

// syncRecorder guards the recorder body against the concurrent handler.
type syncRecorder struct {
	mu sync.Mutex
	*httptest.ResponseRecorder
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *syncRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(time.Minute)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?kind=sync.busy", nil).WithContext(ctx)
	w := &syncRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Notify(context.Background(), notify.Event{Kind: notify.KindStarted})
	b.Notify(context.Background(), notify.Event{Kind: notify.KindBusy, Message: "busy"})

	deadline = time.Now().Add(time.Second)
	for !strings.Contains(w.body(), "event: sync.busy") {
		if time.Now().After(deadline) {
			t.Fatalf("handler output missing event: %q", w.body())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done

	if strings.Contains(w.body(), "sync.started") {
		t.Error("filtered kind was delivered")
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %q", ct)
	}

	deadline = time.Now().Add(time.Second)
	for b.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not cleaned up after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSSEHandler_UnknownKind(t *testing.T) {
	b := NewBroker(time.Minute)
	defer b.Close()

	w := httptest.NewRecorder()
	b.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events?kind=note.created", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestNotifyDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Minute)
	defer b.Close()
	ch := b.Subscribe(nil)
	defer b.Unsubscribe(ch)

	// The client buffer holds 64; the rest must be dropped, not block the loop.
	for i := 0; i < 70; i++ {
		b.Notify(context.Background(), notify.Event{Kind: notify.KindBusy})
	}
	if b.ClientCount() != 1 {
		t.Fatal("broker loop stalled")
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(time.Minute)
	ch := b.Subscribe(nil)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Notify(context.Background(), notify.Event{Kind: notify.KindBusy})
	if _, ok := <-b.Subscribe(nil); ok {
		t.Fatal("subscribe after close should return a closed channel")
	}
}
