// Package loop implements the single-consumer task executor that
// serializes all signaling and room-mesh mutation onto one goroutine,
// so the core state (Rooms, Clients, Participant maps) needs no locking
// beyond what the RTP datapath demands on its own.
package loop

import (
	"context"

	"go.uber.org/zap"

	"github.com/relaymesh/sfu/internal/metrics"
)

// Task is a zero-argument unit of work drained in enqueue order.
type Task func()

// Loop is a bounded FIFO of Tasks with exactly one consumer. Enqueue is
// safe to call from any goroutine; Run must be called from the single
// dedicated worker goroutine.
type Loop struct {
	tasks   chan Task
	logger  *zap.SugaredLogger
	metrics *metrics.Collector
}

// New creates a Loop with the given queue capacity. A capacity of 0
// makes Enqueue block until the consumer catches up; production callers
// should size this to absorb signaling bursts. collector may be nil.
func New(capacity int, logger *zap.SugaredLogger, collector *metrics.Collector) *Loop {
	if capacity < 0 {
		capacity = 0
	}
	return &Loop{
		tasks:   make(chan Task, capacity),
		logger:  logger,
		metrics: collector,
	}
}

// Enqueue appends task to the queue. It never blocks beyond the cost of
// the channel send; a task enqueued from within a running task is
// guaranteed to run strictly after the enclosing task returns, since the
// consumer only ever executes one task at a time.
func (l *Loop) Enqueue(task Task) {
	l.tasks <- task
}

// Run drains the queue until ctx is cancelled. A task that panics is
// recovered, logged, and skipped; it never terminates the Loop.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-l.tasks:
			l.runTask(task)
		}
	}
}

func (l *Loop) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			if l.logger != nil {
				l.logger.Errorw("loop task panicked", "recover", r)
			}
			l.metrics.LoopTaskDropped()
		}
	}()
	task()
}
