// Package notify carries user-facing sync notifications.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind identifies a notification.
type Kind string

// Notification kinds. A run emits Started followed by exactly one of
// Completed or Failed. Busy and CredentialMissing are emitted instead of a
// run.
const (
	KindStarted           Kind = "sync.started"
	KindCompleted         Kind = "sync.completed"
	KindFailed            Kind = "sync.failed"
	KindBusy              Kind = "sync.busy"
	KindCredentialMissing Kind = "sync.credential_missing"
)

// Terminal reports whether k ends a run (or replaces one).
func (k Kind) Terminal() bool {
	return k != KindStarted
}

// Event is one notification.
type Event struct {
	Kind    Kind      `json:"kind"`
	RunID   string    `json:"run_id,omitempty"`
	Trigger string    `json:"trigger,omitempty"`
	Count   int       `json:"count,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier receives notifications. Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, ev Event)

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Nop discards notifications.
var Nop Notifier = Func(func(context.Context, Event) {})

// Multi fans out to every non-nil notifier in order.
func Multi(ns ...Notifier) Notifier {
	var out []Notifier
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return Func(func(ctx context.Context, ev Event) {
		for _, n := range out {
			n.Notify(ctx, ev)
		}
	})
}

// Log writes notifications to logger.
func Log(logger *slog.Logger) Notifier {
	return Func(func(ctx context.Context, ev Event) {
		level := slog.LevelInfo
		switch ev.Kind {
		case KindFailed, KindCredentialMissing:
			level = slog.LevelError
		case KindBusy:
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, ev.Message,
			slog.String("kind", string(ev.Kind)),
			slog.String("run_id", ev.RunID),
			slog.String("trigger", ev.Trigger),
			slog.Int("count", ev.Count))
	})
}

// Tracker remembers the latest notification and the latest terminal one.
type Tracker struct {
	mu       sync.RWMutex
	last     *Event
	terminal *Event
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Notify implements Notifier.
func (t *Tracker) Notify(_ context.Context, ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = &ev
	if ev.Kind.Terminal() {
		t.terminal = &ev
	}
}

// Last returns the most recent event, if any.
func (t *Tracker) Last() (Event, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return Event{}, false
	}
	return *t.last, true
}

// LastTerminal returns the most recent terminal event, if any.
func (t *Tracker) LastTerminal() (Event, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.terminal == nil {
		return Event{}, false
	}
	return *t.terminal, true
}
