// Package quiz rotates the daily quiz on a cron schedule and carries the
// regeneration flag that lets an operator force the next NEO rotation.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/okian/neodrop/internal/domain/failure"
	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/pkg/logger"
	"github.com/okian/neodrop/pkg/metrics"
)

// DefaultSchedule is midnight UTC.
const DefaultSchedule = "0 0 * * *"

const stopTimeout = 10 * time.Second

// Store is the quiz bank.
type Store interface {
	// RandomExcluding picks any quiz other than currentID. An empty currentID
	// excludes nothing.
	RandomExcluding(ctx context.Context, currentID string) (model.Quiz, error)
	Get(ctx context.Context, id string) (model.Quiz, error)
}

// Regenerator forces a NEO rotation.
type Regenerator interface {
	TryRotate(ctx context.Context, force bool) (*model.NEO, error)
}

// Rotator owns the current quiz.
type Rotator struct {
	store    Store
	regen    Regenerator
	log      logger.Logger
	schedule string
	loc      *time.Location

	current    atomic.Pointer[model.Quiz]
	regenerate atomic.Bool

	mu   sync.Mutex // serializes rotations
	cron *cron.Cron
}

// Option configures a Rotator.
type Option func(*Rotator)

// WithSchedule sets the standard five-field cron spec.
func WithSchedule(spec string) Option {
	return func(r *Rotator) {
		if spec != "" {
			r.schedule = spec
		}
	}
}

// WithLocation sets the time zone the schedule is read in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(r *Rotator) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithRegenerator wires the engine the regeneration flag forces.
func WithRegenerator(g Regenerator) Option {
	return func(r *Rotator) { r.regen = g }
}

// WithLogger sets the rotator logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Rotator) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a rotator. The schedule is validated here.
func New(store Store, opts ...Option) (*Rotator, error) {
	r := &Rotator{
		store:    store,
		log:      logger.Nop(),
		schedule: DefaultSchedule,
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(r)
	}
	if _, err := cron.ParseStandard(r.schedule); err != nil {
		return nil, fmt.Errorf("%w: quiz schedule %q: %w", failure.ErrInvalidArgument, r.schedule, err)
	}
	r.cron = cron.New(
		cron.WithLocation(r.loc),
		cron.WithChain(cron.Recover(cronLogger{r.log}), cron.SkipIfStillRunning(cronLogger{r.log})),
	)
	return r, nil
}

// Start picks a quiz immediately and then on every scheduled tick.
func (r *Rotator) Start(ctx context.Context) error {
	r.Tick(ctx)
	if _, err := r.cron.AddFunc(r.schedule, func() { r.Tick(context.Background()) }); err != nil {
		return fmt.Errorf("schedule quiz rotation: %w", err)
	}
	r.cron.Start()
	r.log.Info(ctx, "quiz rotation scheduled", logger.String("schedule", r.schedule))
	return nil
}

// Stop halts the schedule and waits for a running tick.
func (r *Rotator) Stop() {
	done := r.cron.Stop().Done()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		r.log.Warn(context.Background(), "quiz tick still running at stop")
	}
}

// Tick is one scheduled run: rotate the quiz, then consume the regeneration flag.
func (r *Rotator) Tick(ctx context.Context) {
	if _, err := r.Rotate(ctx); err != nil {
		r.log.Error(ctx, "quiz rotation failed", logger.Error(err))
	}
	if !r.regenerate.Swap(false) {
		return
	}
	if r.regen == nil {
		r.log.Warn(ctx, "regeneration requested but no engine is wired")
		return
	}
	_, err := r.regen.TryRotate(ctx, true)
	switch {
	case err == nil:
		r.log.Info(ctx, "regeneration rotation complete")
	case errors.Is(err, failure.ErrRotationInProgress):
		// The running rotation installs a fresh NEO, which is what was asked for.
		r.log.Info(ctx, "regeneration satisfied by rotation in flight")
	default:
		r.log.Error(ctx, "regeneration rotation failed", logger.Error(err))
	}
}

// Rotate replaces the current quiz with a different one from the bank. When
// the bank has nothing else to offer the current quiz stays.
func (r *Rotator) Rotate(ctx context.Context) (model.Quiz, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var currentID string
	if cur := r.current.Load(); cur != nil {
		currentID = cur.ID
	}
	q, err := r.store.RandomExcluding(ctx, currentID)
	if err != nil {
		metrics.RecordQuizRotation(false)
		if errors.Is(err, failure.ErrNotFound) {
			if cur := r.current.Load(); cur != nil {
				r.log.Warn(ctx, "quiz bank has no alternative, keeping current", logger.String("quiz_id", cur.ID))
				return *cur, nil
			}
			return model.Quiz{}, fmt.Errorf("%w: quiz bank is empty", failure.ErrNoCurrentQuiz)
		}
		return model.Quiz{}, fmt.Errorf("%w: select quiz: %w", failure.ErrPersistence, err)
	}
	r.current.Store(&q)
	metrics.RecordQuizRotation(true)
	r.log.Info(ctx, "quiz rotated", logger.String("quiz_id", q.ID), logger.String("previous", currentID))
	return q, nil
}

// Current returns the quiz being shown.
func (r *Rotator) Current() (model.Quiz, error) {
	q := r.current.Load()
	if q == nil {
		return model.Quiz{}, failure.ErrNoCurrentQuiz
	}
	return *q, nil
}

// Get returns any quiz from the bank.
func (r *Rotator) Get(ctx context.Context, id string) (model.Quiz, error) {
	return r.store.Get(ctx, id)
}

// RequestRegeneration makes the next tick force a NEO rotation.
func (r *Rotator) RequestRegeneration() { r.regenerate.Store(true) }

// RegenerationPending reports whether the flag is set.
func (r *Rotator) RegenerationPending() bool { return r.regenerate.Load() }

// Next returns the next scheduled tick, or the zero time before Start.
func (r *Rotator) Next() time.Time {
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct{ log logger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug(context.Background(), msg, fields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error(context.Background(), msg, append(fields(keysAndValues), logger.Error(err))...)
}

func fields(kv []any) []logger.Field {
	out := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
