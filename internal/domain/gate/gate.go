// Package gate serializes calls into the external ledger. Only one operation is
// in flight at a time; waiters queue in arrival order and block without polling.
package gate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/okian/neodrop/internal/domain/failure"
	"github.com/okian/neodrop/pkg/logger"
	"github.com/okian/neodrop/pkg/metrics"
)

// Gate is a single-slot transaction gate. The zero value is not usable; use New.
type Gate struct {
	sem         *semaphore.Weighted
	waitTimeout time.Duration
	inFlight    atomic.Int32
	waiting     atomic.Int32
	log         logger.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithWaitTimeout bounds how long a caller waits for the slot. Zero (default)
// waits until the caller's context is done.
func WithWaitTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.waitTimeout = d
		}
	}
}

// WithLogger sets the gate logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// New creates a gate.
func New(opts ...Option) *Gate {
	g := &Gate{
		sem: semaphore.NewWeighted(1),
		log: logger.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run waits for the slot, runs op while holding it, and releases the slot on
// every exit path, including a panic in op.
func Run[T any](ctx context.Context, g *Gate, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.acquire(ctx); err != nil {
		return zero, err
	}
	defer g.release()
	return op(ctx)
}

// Do is Run for operations without a result.
func Do(ctx context.Context, g *Gate, op func(context.Context) error) error {
	_, err := Run(ctx, g, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func (g *Gate) acquire(ctx context.Context) error {
	start := time.Now()
	g.waiting.Add(1)
	defer g.waiting.Add(-1)

	waitCtx := ctx
	if g.waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.waitTimeout)
		defer cancel()
	}

	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		metrics.RecordGateWait(time.Since(start), false)
		if ctx.Err() == nil && waitCtx.Err() != nil {
			g.log.Warn(ctx, "gate wait timed out", logger.Duration("waited", time.Since(start)))
			return fmt.Errorf("%w after %s", failure.ErrGateTimeout, g.waitTimeout)
		}
		return err
	}
	metrics.RecordGateWait(time.Since(start), true)
	metrics.UpdateGateInFlight(int(g.inFlight.Add(1)))
	return nil
}

func (g *Gate) release() {
	metrics.UpdateGateInFlight(int(g.inFlight.Add(-1)))
	g.sem.Release(1)
}

// InFlight reports how many operations hold the slot (0 or 1).
func (g *Gate) InFlight() int { return int(g.inFlight.Load()) }

// Waiting reports how many callers are queued for the slot.
func (g *Gate) Waiting() int { return int(g.waiting.Load()) }
