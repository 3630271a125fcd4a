// Package worker runs the single dispatcher that turns queued triggers into
// rotations. There is exactly one dispatcher so rotations are requested in
// trigger order.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/neodrop/internal/domain/failure"
	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/pkg/logger"
	"github.com/okian/neodrop/pkg/metrics"
)

// Queue defines how the dispatcher receives triggers.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.Trigger
}

// Handler acts on one trigger.
type Handler interface {
	HandleTrigger(ctx context.Context, t model.Trigger) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, t model.Trigger) error

func (f HandlerFunc) HandleTrigger(ctx context.Context, t model.Trigger) error { return f(ctx, t) }

// Dispatcher drains the trigger queue.
type Dispatcher struct {
	queue   Queue
	handler Handler
	name    string

	processed atomic.Int64
	failed    atomic.Int64

	shutdownOnce sync.Once
	shutdown     chan struct{}
	done         chan struct{}

	logger logger.Logger
}

// New creates a dispatcher.
func New(queue Queue, handler Handler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:    queue,
		handler:  handler,
		name:     "dispatcher",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named(d.name)
	return d
}

// Run processes triggers until ctx is canceled, Shutdown is called or the
// queue is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	triggers := d.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		case t, ok := <-triggers:
			if !ok {
				return
			}
			if err := d.process(ctx, t); err != nil {
				d.logger.Error(ctx, "trigger failed",
					logger.String("reason", t.Reason),
					logger.Bool("force", t.Force),
					logger.Error(err))
			}
		}
	}
}

// Shutdown stops the dispatcher after the trigger in progress, if any.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.shutdownOnce.Do(func() { close(d.shutdown) })
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Processed reports how many triggers were handled successfully.
func (d *Dispatcher) Processed() int64 { return d.processed.Load() }

// Failed reports how many triggers ended in an error.
func (d *Dispatcher) Failed() int64 { return d.failed.Load() }

func (d *Dispatcher) process(ctx context.Context, t model.Trigger) error {
	start := time.Now()
	err := d.handler.HandleTrigger(ctx, t)
	if err != nil {
		d.failed.Add(1)
		metrics.RecordErrorByComponent("dispatcher", failure.Kind(err))
		return fmt.Errorf("handle %s trigger: %w", t.Reason, err)
	}
	d.processed.Add(1)
	d.logger.Debug(ctx, "trigger handled",
		logger.String("reason", t.Reason),
		logger.Duration("queued", start.Sub(t.At)),
		logger.Duration("took", time.Since(start)))
	return nil
}
