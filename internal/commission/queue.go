package commission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goldnet/ledger-engine/internal/metrics"
	"github.com/goldnet/ledger-engine/internal/model"
)

// Processor evaluates commissions for one trade.
type Processor interface {
	Process(ctx context.Context, ev model.TradeEvent) error
}

// Queue runs commission processing off the trade path on a fixed pool of
// workers. Dispatch never blocks: when the buffer is full the event is
// handed to a detached goroutine instead of being dropped.
type Queue struct {
	proc    Processor
	jobs    chan model.TradeEvent
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
}

// NewQueue starts workers goroutines reading from a buffer of the given size.
func NewQueue(proc Processor, workers, buffer int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	q := &Queue{
		proc:    proc,
		jobs:    make(chan model.TradeEvent, buffer),
		timeout: 30 * time.Second,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Dispatch queues a committed trade. After Close it processes inline.
func (q *Queue) Dispatch(ev model.TradeEvent) {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		slog.Warn("commission queue closed, processing inline", "trade_id", ev.TradeID)
		q.process(ev)
		return
	}
	select {
	case q.jobs <- ev:
		metrics.CommissionQueueDepth.Set(float64(len(q.jobs)))
	default:
		metrics.CommissionQueueOverflow.Inc()
		slog.Warn("commission queue full, processing detached", "trade_id", ev.TradeID)
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.process(ev)
		}()
	}
	q.mu.RUnlock()
}

// Close stops accepting work and waits until every queued and detached
// event has been processed. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
	metrics.CommissionQueueDepth.Set(0)
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for ev := range q.jobs {
		metrics.CommissionQueueDepth.Set(float64(len(q.jobs)))
		q.process(ev)
	}
}

func (q *Queue) process(ev model.TradeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if err := q.proc.Process(ctx, ev); err != nil {
		slog.Error("commission processing failed", "trade_id", ev.TradeID, "member", ev.MemberID, "err", err)
	}
}
