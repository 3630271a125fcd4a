// Package rotation owns the current NEO. The engine ends a cycle (drain the
// winners, clear the ledger, run the award pass) and starts the next one
// (fetch candidates, pick the first unseen, persist, arm the wake timer).
package rotation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/neodrop/internal/domain/failure"
	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/internal/domain/reward"
	"github.com/okian/neodrop/pkg/logger"
	"github.com/okian/neodrop/pkg/metrics"
)

const (
	defaultLeadDays   = 2
	defaultWindowDays = 1
	rotateKey         = "rotate"
)

// Feed lists NEO candidates whose close approach falls in [start, end).
type Feed interface {
	FetchCandidates(ctx context.Context, start, end time.Time) ([]model.Candidate, error)
}

// NeoStore is the NEO history.
type NeoStore interface {
	Insert(ctx context.Context, n model.NEO) error
	KnownIDs(ctx context.Context) (map[string]struct{}, error)
}

// Ledger is the winners ledger as seen at cycle end.
type Ledger interface {
	Drain(ctx context.Context, neoID string) ([]string, error)
	Clear(ctx context.Context, neoID string) error
}

// Awarder runs award passes.
type Awarder interface {
	Award(ctx context.Context, neo model.NEO, winners []string) (reward.Outcome, error)
	Replay(ctx context.Context, neoID string, accounts []string) (reward.Outcome, error)
}

// Engine is the rotation state machine. The zero value is not usable; use New.
type Engine struct {
	feed    Feed
	neos    NeoStore
	ledger  Ledger
	awarder Awarder

	log        logger.Logger
	now        func() time.Time
	leadDays   int
	windowDays int
	schedule   func(model.Trigger) bool

	state    atomic.Pointer[Snapshot]
	lastPass atomic.Pointer[Pass]
	rotating atomic.Bool
	group    singleflight.Group

	// reports is held shared by winner reports and exclusively by a cycle
	// end before its drain, so no report lands after the drain.
	reports sync.RWMutex
	// passMu serializes award passes and replays of lastPass.
	passMu sync.Mutex

	mu      sync.Mutex // guards timer and stopped
	timer   *time.Timer
	stopped bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithWindow sets the candidate window: leadDays after today (UTC), lasting
// windowDays. Defaults to 2 and 1.
func WithWindow(leadDays, windowDays int) Option {
	return func(e *Engine) {
		if leadDays >= 0 {
			e.leadDays = leadDays
		}
		if windowDays > 0 {
			e.windowDays = windowDays
		}
	}
}

// WithScheduler routes wake-timer triggers through schedule, normally the
// trigger queue's Enqueue. Without it the timer rotates directly.
func WithScheduler(schedule func(model.Trigger) bool) Option {
	return func(e *Engine) { e.schedule = schedule }
}

// New creates an engine in StateUnset.
func New(feed Feed, neos NeoStore, ledger Ledger, awarder Awarder, opts ...Option) *Engine {
	e := &Engine{
		feed:       feed,
		neos:       neos,
		ledger:     ledger,
		awarder:    awarder,
		log:        logger.Nop(),
		now:        time.Now,
		leadDays:   defaultLeadDays,
		windowDays: defaultWindowDays,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.publish(Snapshot{State: StateUnset, Since: e.now()})
	return e
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() Snapshot { return *e.state.Load() }

// Current returns the current NEO. During a rotation the outgoing NEO is
// still returned.
func (e *Engine) Current() (*model.NEO, bool) {
	s := e.state.Load()
	if s.NEO == nil {
		return nil, false
	}
	return s.NEO, true
}

// OpenNeo returns the id of the NEO accepting winners. Reports are refused
// while the cycle is ending so they cannot land after the drain.
func (e *Engine) OpenNeo() (string, error) {
	s := e.state.Load()
	switch s.State {
	case StateActive:
		return s.NEO.ID, nil
	case StateEnding:
		return "", failure.ErrRotationInProgress
	default:
		return "", failure.ErrNoCurrentNeo
	}
}

// WithOpenNeo runs fn with the id of the NEO accepting winners. A cycle end
// waits for fn to return before draining, so whatever fn records is awarded.
func (e *Engine) WithOpenNeo(fn func(neoID string) error) (string, error) {
	e.reports.RLock()
	defer e.reports.RUnlock()
	id, err := e.OpenNeo()
	if err != nil {
		return "", err
	}
	return id, fn(id)
}

// LastPass returns the most recent award pass, if any.
func (e *Engine) LastPass() (Pass, bool) {
	p := e.lastPass.Load()
	if p == nil {
		return Pass{}, false
	}
	return *p, true
}

// Rotating reports whether a rotation is in flight.
func (e *Engine) Rotating() bool { return e.rotating.Load() }

// Start runs the bootstrap rotation.
func (e *Engine) Start(ctx context.Context) error {
	_, err := e.rotate(ctx, false, model.ReasonBootstrap)
	return err
}

// Rotate ends the current cycle and installs the next NEO. Unless force is
// set, a NEO whose close approach is still ahead is kept. A caller arriving
// during a rotation waits for it and gets its result.
func (e *Engine) Rotate(ctx context.Context, force bool) (*model.NEO, error) {
	return e.rotate(ctx, force, model.ReasonOperator)
}

// TryRotate is Rotate, except that it fails with ErrRotationInProgress
// instead of joining a rotation in flight.
func (e *Engine) TryRotate(ctx context.Context, force bool) (*model.NEO, error) {
	if e.rotating.Load() {
		return nil, failure.ErrRotationInProgress
	}
	return e.rotate(ctx, force, model.ReasonOperator)
}

// HandleTrigger runs the rotation a queued trigger asks for.
func (e *Engine) HandleTrigger(ctx context.Context, t model.Trigger) error {
	_, err := e.rotate(ctx, t.Force, t.Reason)
	return err
}

// Stop cancels the pending wake timer. It does not interrupt a rotation in
// flight; rotations requested afterwards fail with ErrStopped.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// ReplayLast finishes the last award pass. When that pass minted, the winners
// it left unrewarded get their transfers; otherwise the whole pass runs again.
// Replays run one at a time and never overlap a cycle's award pass.
func (e *Engine) ReplayLast(ctx context.Context) (reward.Outcome, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	p := e.lastPass.Load()
	if p == nil {
		return reward.Outcome{}, fmt.Errorf("%w: no award pass yet", failure.ErrNotFound)
	}
	pending := p.Unrewarded()
	if len(pending) == 0 {
		return reward.Outcome{NeoID: p.NEO.ID}, nil
	}

	next := *p
	next.At = e.now()
	if !p.Minted() {
		out, err := e.awarder.Award(ctx, p.NEO, p.Winners)
		next.Outcome = out
		next.Err = err
		e.lastPass.Store(&next)
		return out, err
	}

	out, err := e.awarder.Replay(ctx, p.NEO.ID, pending)
	next.Outcome.Transfers = append(append([]reward.TransferOutcome(nil), p.Outcome.Transfers...), out.Transfers...)
	next.Err = err
	e.lastPass.Store(&next)
	return out, err
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (e *Engine) rotate(ctx context.Context, force bool, reason string) (*model.NEO, error) {
	if e.isStopped() {
		return nil, failure.ErrStopped
	}
	v, err, _ := e.group.Do(rotateKey, func() (any, error) {
		e.rotating.Store(true)
		defer e.rotating.Store(false)
		// A rotation that started runs to completion even if its caller leaves.
		return e.run(context.WithoutCancel(ctx), force, reason)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.NEO), nil
}

func (e *Engine) run(ctx context.Context, force bool, reason string) (*model.NEO, error) {
	prev := e.state.Load()
	if prev.NEO != nil && !force && e.now().Before(prev.NEO.CloseApproach) {
		// Woke early; keep the NEO and re-arm.
		e.arm(prev.NEO.CloseApproach)
		return prev.NEO, nil
	}

	start := time.Now()
	log := e.log.With(logger.String("reason", reason), logger.Bool("force", force))

	if prev.NEO != nil {
		e.publish(Snapshot{State: StateEnding, NEO: prev.NEO, Since: e.now()})
		e.endCycle(ctx, log, *prev.NEO)
	}

	next, err := e.selectNext(ctx, log)
	if err != nil {
		e.publish(Snapshot{State: StateFailed, Err: err, Since: e.now()})
		metrics.RecordRotation(reason, false, time.Since(start))
		metrics.RecordErrorByComponent("rotation", failure.Kind(err))
		log.Error(ctx, "rotation failed", logger.Error(err))
		return nil, err
	}

	e.publish(Snapshot{State: StateActive, NEO: next, Since: e.now()})
	e.arm(next.CloseApproach)
	metrics.RecordRotation(reason, true, time.Since(start))
	log.Info(ctx, "neo installed",
		logger.String("neo_id", next.ID),
		logger.String("name", next.Name),
		logger.Time("close_approach", next.CloseApproach),
		logger.Duration("took", time.Since(start)))
	return next, nil
}

// endCycle drains and clears the outgoing NEO's winners, then awards them.
// Nothing here can stop the next NEO from being selected.
func (e *Engine) endCycle(ctx context.Context, log logger.Logger, outgoing model.NEO) {
	log = log.With(logger.String("neo_id", outgoing.ID))

	// The snapshot already says Ending; wait out the reports that saw Active.
	e.reports.Lock()
	e.reports.Unlock() //nolint:staticcheck // empty critical section is the barrier

	winners, err := e.ledger.Drain(ctx, outgoing.ID)
	if err != nil {
		// Keep the rows for diagnosis; clearing now would lose them unseen.
		metrics.RecordErrorByComponent("rotation", failure.Kind(err))
		log.Error(ctx, "drain winners failed, skipping award pass", logger.Error(err))
		return
	}
	if err := e.ledger.Clear(ctx, outgoing.ID); err != nil {
		metrics.RecordErrorByComponent("rotation", failure.Kind(err))
		log.Error(ctx, "clear winners failed", logger.Error(err))
	}
	if len(winners) == 0 {
		log.Info(ctx, "no winners, award pass skipped")
		return
	}

	e.passMu.Lock()
	defer e.passMu.Unlock()
	out, err := e.awarder.Award(ctx, outgoing, winners)
	pass := &Pass{NEO: outgoing, Winners: winners, Outcome: out, Err: err, At: e.now()}
	e.lastPass.Store(pass)
	if err != nil {
		log.Error(ctx, "award pass failed, winners left unrewarded",
			logger.Error(err),
			logger.Strings("unrewarded", pass.Unrewarded()))
	}
}

func (e *Engine) selectNext(ctx context.Context, log logger.Logger) (*model.NEO, error) {
	y, m, d := e.now().UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, e.leadDays)
	end := start.AddDate(0, 0, e.windowDays)

	candidates, err := e.feed.FetchCandidates(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", failure.ErrFeedUnavailable, err)
	}
	metrics.UpdateFeedCandidates(len(candidates))

	known, err := e.neos.KnownIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: known ids: %w", failure.ErrPersistence, err)
	}

	for _, c := range candidates {
		if _, used := known[c.ID]; used {
			continue
		}
		n, err := c.ToNEO()
		if err != nil {
			log.Warn(ctx, "skipping malformed candidate", logger.String("neo_id", c.ID), logger.Error(err))
			continue
		}
		if err := e.neos.Insert(ctx, n); err != nil {
			return nil, fmt.Errorf("%w: insert neo %s: %w", failure.ErrPersistence, n.ID, err)
		}
		return &n, nil
	}
	return nil, fmt.Errorf("%w: %d candidates between %s and %s, all used",
		failure.ErrNoEligibleCandidate, len(candidates), start.Format(time.DateOnly), end.Format(time.DateOnly))
}

// arm replaces the wake timer with one firing at at.
func (e *Engine) arm(at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delay := at.Sub(e.now())
	if delay < 0 {
		delay = 0
	}
	e.timer = time.AfterFunc(delay, e.wake)
	metrics.UpdateCurrentNeoDeadline(at)
}

func (e *Engine) wake() {
	ctx := context.Background()
	t := model.Trigger{Reason: model.ReasonWakeTimer, At: e.now()}
	if e.schedule != nil {
		if !e.schedule(t) {
			e.log.Warn(ctx, "wake trigger dropped")
		}
		return
	}
	if err := e.HandleTrigger(ctx, t); err != nil {
		e.log.Error(ctx, "scheduled rotation failed", logger.Error(err))
	}
}

func (e *Engine) publish(s Snapshot) {
	e.state.Store(&s)
	metrics.UpdateEngineState(s.State.String(), States)
}
