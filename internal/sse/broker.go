// Package sse streams sync notifications to browsers over Server-Sent Events.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/cqsync/internal/notify"
)

var heartbeatMsg = []byte(": ping\n\n")

// historySize bounds the frames kept for replay to new subscribers.
const historySize = 16

// Filter selects notification kinds. A nil Filter passes everything.
type Filter map[notify.Kind]bool

func (f Filter) pass(k notify.Kind) bool {
	return f == nil || f[k]
}

type frame struct {
	kind notify.Kind
	raw  []byte
}

type subscription struct {
	ch     chan []byte
	filter Filter
}

// Broker fans notifications out to SSE clients.
//
// A single loop goroutine owns the client set and the replay history;
// public methods talk to it over channels.
type Broker struct {
	heartbeat time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan notify.Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that sends a comment line to every client at
// the given heartbeat interval. Zero selects 30s.
func NewBroker(heartbeat time.Duration) *Broker {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	b := &Broker{
		heartbeat:     heartbeat,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan notify.Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]Filter)
	var history []frame
	var seq uint64

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.filter
			// A new page sees the latest state it asked for.
			for i := len(history) - 1; i >= 0; i-- {
				if sub.filter.pass(history[i].kind) {
					sub.ch <- history[i].raw
					break
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case ev := <-b.publishCh:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			seq++
			f := frame{
				kind: ev.Kind,
				raw:  []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, ev.Kind, payload)),
			}
			if len(history) == historySize {
				history = history[1:]
			}
			history = append(history, f)
			for ch, filter := range clients {
				if filter.pass(f.kind) {
					trySend(ch, f.raw)
				}
			}

		case <-ticker.C:
			for ch := range clients {
				trySend(ch, heartbeatMsg)
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// trySend drops the message when the client is not keeping up.
func trySend(ch chan []byte, raw []byte) {
	select {
	case ch <- raw:
	default:
	}
}

// Close stops the loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client receiving the kinds filter passes and returns its
// channel. The channel is closed by Unsubscribe or Close.
func (b *Broker) Subscribe(filter Filter) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, filter: filter}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Notify implements notify.Notifier. It never blocks on slow clients.
func (b *Broker) Notify(_ context.Context, ev notify.Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- ev:
	case <-b.stopped:
	}
}

var knownKinds = Filter{
	notify.KindStarted:           true,
	notify.KindCompleted:         true,
	notify.KindFailed:            true,
	notify.KindBusy:              true,
	notify.KindCredentialMissing: true,
}

// parseFilter reads repeated ?kind= parameters. No parameter means all kinds.
func parseFilter(r *http.Request) (Filter, error) {
	kinds := r.URL.Query()["kind"]
	if len(kinds) == 0 {
		return nil, nil
	}
	f := make(Filter, len(kinds))
	for _, k := range kinds {
		kind := notify.Kind(k)
		if !knownKinds[kind] {
			return nil, fmt.Errorf("unknown event kind %q", k)
		}
		f[kind] = true
	}
	return f, nil
}

// ServeHTTP is the SSE endpoint handler (GET /api/events[?kind=...]).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(filter)
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
