package agent

import (
	"context"
	"log/slog"
)

// WorkFn is a deferred unit of execution. Submitted from any goroutine,
// run later on the agent's worker goroutine. State to operate on is
// captured in the closure.
type WorkFn func(ctx context.Context)

// QueueWork submits fn to the bounded work queue without blocking. When
// the queue is full it fails with ErrQueueFull immediately; producers are
// never made to wait on a slow or absent consumer.
func (a *Agent) QueueWork(fn WorkFn) error {
	if fn == nil {
		return ErrInvalidArgument
	}

	a.mu.Lock()
	if a.state == StateUninitialized {
		a.mu.Unlock()
		return ErrInvalidState
	}
	queue := a.workQueue
	a.mu.Unlock()

	select {
	case queue <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// drainWork runs every currently queued item in FIFO order, then returns
// without waiting for more. Items run synchronously on the worker
// goroutine: a misbehaving item stalls the dispatch loop, and with it
// stop processing. Accepted trade-off; no preemption.
func (a *Agent) drainWork(ctx context.Context) {
	for {
		select {
		case fn := <-a.workQueue:
			fn(ctx)
		default:
			return
		}
	}
}

// ReportNodeDetails schedules a fresh report of the node configuration
// and state as a deferred work item. This is the supported way for
// application code to request a re-report without touching the worker
// goroutine directly.
func (a *Agent) ReportNodeDetails() error {
	return a.QueueWork(func(ctx context.Context) {
		if err := a.reportNodeConfigAndState(ctx); err != nil {
			slog.Error("Deferred node details report failed.", "err", err)
		}
	})
}
