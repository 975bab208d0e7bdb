package notify

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestMulti_FansOutInOrder(t *testing.T) {
	var got []string
	a := Func(func(_ context.Context, ev Event) { got = append(got, "a:"+string(ev.Kind)) })
	b := Func(func(_ context.Context, ev Event) { got = append(got, "b:"+string(ev.Kind)) })

	Multi(a, nil, b).Notify(context.Background(), Event{Kind: KindBusy})

	if strings.Join(got, ",") != "a:sync.busy,b:sync.busy" {
		t.Errorf("got %v", got)
	}
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.Last(); ok {
		t.Fatal("expected empty tracker")
	}

	ctx := context.Background()
	tr.Notify(ctx, Event{Kind: KindStarted, RunID: "r1"})
	if _, ok := tr.LastTerminal(); ok {
		t.Error("started must not count as terminal")
	}

	tr.Notify(ctx, Event{Kind: KindCompleted, RunID: "r1", Count: 3})
	tr.Notify(ctx, Event{Kind: KindStarted, RunID: "r2"})

	last, _ := tr.Last()
	if last.RunID != "r2" || last.Kind != KindStarted {
		t.Errorf("last = %+v", last)
	}
	term, ok := tr.LastTerminal()
	if !ok || term.RunID != "r1" || term.Count != 3 {
		t.Errorf("terminal = %+v", term)
	}
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	Log(logger).Notify(context.Background(), Event{Kind: KindFailed, Message: "sync failed: invalid token"})

	out := buf.String()
	if !strings.Contains(out, `"level":"ERROR"`) || !strings.Contains(out, "invalid token") {
		t.Errorf("log output = %s", out)
	}
}
