package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goldnet/ledger-engine/internal/model"
)

// Async hands notifications to a background worker so callers never wait
// on delivery. Send drops the notification when the buffer is full.
type Async struct {
	sink    Sink
	ch      chan model.Notification
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
}

// NewAsync starts a worker delivering to sink.
func NewAsync(sink Sink, buffer int) *Async {
	a := &Async{
		sink:    sink,
		ch:      make(chan model.Notification, buffer),
		timeout: 5 * time.Second,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Notify implements Sink without blocking.
func (a *Async) Notify(_ context.Context, n model.Notification) error {
	a.Send(n)
	return nil
}

// Send queues n for delivery. After Close it only logs.
func (a *Async) Send(n model.Notification) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		slog.Warn("notification after close", "member", n.MemberID, "title", n.Title)
		return
	}
	select {
	case a.ch <- n:
	default:
		slog.Warn("notification dropped, queue full", "member", n.MemberID, "title", n.Title)
	}
}

func (a *Async) run() {
	defer a.wg.Done()
	for n := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.sink.Notify(ctx, n); err != nil {
			slog.Warn("notification delivery failed", "err", err, "member", n.MemberID)
		}
		cancel()
	}
}

// Close stops accepting notifications and waits for queued ones to be
// delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	a.wg.Wait()
}
