// Package scheduler owns the single-flight guard and the periodic timer
// that trigger sync runs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/cqsync/internal/metrics"
	"github.com/starford/cqsync/internal/notify"
	"github.com/starford/cqsync/internal/syncer"
)

// Runner executes one sync run.
type Runner interface {
	Run(ctx context.Context, trigger syncer.Trigger) (syncer.Result, error)
}

// BusyMessage is the notification text for a rejected trigger.
const BusyMessage = "a sync is already in progress, please try again later"

// Scheduler admits at most one run at a time. Triggers that arrive while a
// run is in flight are dropped with a busy notification, never queued.
type Scheduler struct {
	runner   Runner
	notifier notify.Notifier
	metrics  *metrics.Collector
	logger   *slog.Logger

	running atomic.Bool
	runs    sync.WaitGroup

	// baseCtx is the parent of async and timer runs; set by Start.
	mu       sync.Mutex
	baseCtx  context.Context
	interval time.Duration
	timerCh  chan time.Duration
	stopped  chan struct{}
	started  bool
	// stopping rejects new runs once Stop has begun waiting.
	stopping bool

	last atomic.Pointer[syncer.Result]
}

// New creates a Scheduler. notifier, m and logger may be nil.
func New(runner Runner, notifier notify.Notifier, m *metrics.Collector, logger *slog.Logger) *Scheduler {
	if notifier == nil {
		notifier = notify.Nop
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		baseCtx:  context.Background(),
	}
}

// Running reports whether a run is in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LastResult returns the result of the most recent finished run.
func (s *Scheduler) LastResult() (syncer.Result, bool) {
	r := s.last.Load()
	if r == nil {
		return syncer.Result{}, false
	}
	return *r, true
}

// Interval returns the current timer period. Zero means disabled.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Trigger runs a sync synchronously. It returns false without running when
// another run holds the guard.
func (s *Scheduler) Trigger(ctx context.Context, trigger syncer.Trigger) bool {
	if !s.acquire(ctx, trigger) {
		return false
	}
	s.execute(ctx, trigger)
	return true
}

// TriggerAsync starts a sync in the background. It returns false without
// starting when another run holds the guard.
func (s *Scheduler) TriggerAsync(trigger syncer.Trigger) bool {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	if !s.acquire(ctx, trigger) {
		return false
	}
	go s.execute(ctx, trigger)
	return true
}

func (s *Scheduler) acquire(ctx context.Context, trigger syncer.Trigger) bool {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		s.logger.Debug("scheduler: stopping, trigger dropped", slog.String("trigger", string(trigger)))
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Unlock()
		s.metrics.BusyRejected()
		s.notifier.Notify(ctx, notify.Event{
			Kind:    notify.KindBusy,
			Trigger: string(trigger),
			Message: BusyMessage,
			At:      time.Now().UTC(),
		})
		return false
	}
	// Add under mu so Stop never races runs.Wait against it.
	s.runs.Add(1)
	s.mu.Unlock()
	return true
}

// execute runs with the guard held and releases it on every exit path.
func (s *Scheduler) execute(ctx context.Context, trigger syncer.Trigger) {
	defer s.runs.Done()
	defer s.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler: sync run panicked",
				slog.String("trigger", string(trigger)),
				slog.String("panic", fmt.Sprint(r)))
			s.notifier.Notify(ctx, notify.Event{
				Kind:    notify.KindFailed,
				Trigger: string(trigger),
				Message: "sync failed: system error, please try again later",
				At:      time.Now().UTC(),
			})
		}
	}()

	res, err := s.runner.Run(ctx, trigger)
	s.last.Store(&res)
	if err != nil {
		s.logger.Debug("scheduler: run ended with error",
			slog.String("trigger", string(trigger)),
			slog.String("error", err.Error()))
	}
}

// Start arms the periodic timer with the given interval (zero disables it)
// and makes ctx the parent of background runs. Start returns immediately;
// the timer stops when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.SetInterval(interval)
		return
	}
	s.started = true
	s.stopping = false
	s.baseCtx = ctx
	s.interval = interval
	s.timerCh = make(chan time.Duration, 1)
	s.stopped = make(chan struct{})
	timerCh, stopped := s.timerCh, s.stopped
	s.mu.Unlock()

	go s.loop(ctx, interval, timerCh, stopped)
}

// SetInterval changes the timer period. The timer is re-armed only when the
// period actually changes.
func (s *Scheduler) SetInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if interval == s.interval {
		return
	}
	s.interval = interval
	if !s.started {
		return
	}
	// Keep only the latest period if the loop has not picked up the last one.
	select {
	case <-s.timerCh:
	default:
	}
	s.timerCh <- interval
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, timerCh <-chan time.Duration, stopped chan<- struct{}) {
	defer close(stopped)

	var ticker *time.Ticker
	var tick <-chan time.Time
	arm := func(d time.Duration) {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if d > 0 {
			ticker = time.NewTicker(d)
			tick = ticker.C
		}
		s.logger.Info("scheduler: timer armed", slog.Duration("interval", d))
	}
	arm(interval)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-timerCh:
			if !ok {
				return
			}
			arm(d)
		case <-tick:
			s.TriggerAsync(syncer.TriggerTimer)
		}
	}
}

// Stop disarms the timer, rejects further triggers and waits for in-flight
// runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopping = true
	if s.started {
		s.started = false
		close(s.timerCh)
	}
	stopped := s.stopped
	s.mu.Unlock()

	if stopped != nil {
		<-stopped
	}
	s.runs.Wait()
}
