// Package winners is the per-cycle winners ledger: an idempotent set of
// accounts that solved the current NEO's quiz.
package winners

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/okian/neodrop/internal/domain/dedupe"
	"github.com/okian/neodrop/internal/domain/failure"
	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/pkg/logger"
	"github.com/okian/neodrop/pkg/metrics"
)

// Store is the persistence the ledger needs. Uniqueness of (neo, account) is
// enforced by the store, not in process.
type Store interface {
	Upsert(ctx context.Context, w model.Winner) (bool, error)
	SelectByNeo(ctx context.Context, neoID string) ([]model.Winner, error)
	DeleteByNeo(ctx context.Context, neoID string) (int64, error)
	DeleteByAccount(ctx context.Context, account string) (int64, error)
}

// Cycle is the NEO window winner reports are recorded against.
type Cycle interface {
	// WithOpenNeo runs fn with the id of the NEO accepting winners. The cycle
	// cannot begin ending while fn runs. An error from the cycle itself is
	// returned without calling fn.
	WithOpenNeo(fn func(neoID string) error) (string, error)
}

// Ledger records winners and hands them to the rotation engine at cycle end.
type Ledger struct {
	store  Store
	seen   dedupe.Deduper
	writes singleflight.Group // concurrent reports of one pair share a write
	log    logger.Logger
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithDeduper replaces the default in-memory dedupe cache.
func WithDeduper(d dedupe.Deduper) Option {
	return func(l *Ledger) {
		if d != nil {
			l.seen = d
		}
	}
}

// WithLogger sets the ledger logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Ledger) {
		if lg != nil {
			l.log = lg
		}
	}
}

// WithClock overrides the clock used for RecordedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		seen:  dedupe.NewInMemoryDeduper(),
		log:   logger.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NormalizeAccount validates an EVM address and returns its checksummed form.
func NormalizeAccount(account string) (string, error) {
	account = strings.TrimSpace(account)
	if !common.IsHexAddress(account) {
		return "", fmt.Errorf("%w: %q is not a hex address", failure.ErrInvalidAccount, account)
	}
	addr := common.HexToAddress(account)
	if addr == (common.Address{}) {
		return "", fmt.Errorf("%w: zero address", failure.ErrInvalidAccount)
	}
	return addr.Hex(), nil
}

// Record adds account as a winner of neoID. Recording the same pair again is a
// no-op and never an error.
func (l *Ledger) Record(ctx context.Context, neoID, account string) error {
	if neoID == "" {
		return failure.ErrNoCurrentNeo
	}
	acc, err := NormalizeAccount(account)
	if err != nil {
		metrics.RecordWinnerRejected("invalid_account")
		return err
	}

	key := dedupe.Key{NeoID: neoID, Account: acc}
	leader := false
	_, err, _ = l.writes.Do(neoID+"\x00"+acc, func() (any, error) {
		leader = true
		return nil, l.write(ctx, key)
	})
	if !leader {
		// Joined a write in flight: its outcome is ours.
		metrics.RecordWinnerDuplicate()
	}
	return err
}

func (l *Ledger) write(ctx context.Context, key dedupe.Key) error {
	if l.seen.SeenAndRecord(ctx, key) {
		metrics.RecordWinnerDuplicate()
		return nil
	}

	inserted, err := l.store.Upsert(ctx, model.Winner{NeoID: key.NeoID, Account: key.Account, RecordedAt: l.now().UTC()})
	if err != nil {
		l.seen.Unrecord(ctx, key)
		metrics.RecordWinnerRejected("store")
		metrics.RecordErrorByComponent("winners", "persistence_failure")
		return fmt.Errorf("%w: record winner: %w", failure.ErrPersistence, err)
	}
	metrics.UpdateDedupeSize(l.seen.Size())
	if inserted {
		metrics.RecordWinnerRecorded()
		l.log.Debug(ctx, "winner recorded", logger.String("neo_id", key.NeoID), logger.String("account", key.Account))
	} else {
		metrics.RecordWinnerDuplicate()
	}
	return nil
}

// RecordCurrent records account against the NEO the cycle reports as open.
// The write completes before that NEO's winners can be drained.
func (l *Ledger) RecordCurrent(ctx context.Context, cycle Cycle, account string) (string, error) {
	opened := false
	neoID, err := cycle.WithOpenNeo(func(neoID string) error {
		opened = true
		return l.Record(ctx, neoID, account)
	})
	if err != nil && !opened {
		metrics.RecordWinnerRejected(failure.Kind(err))
	}
	return neoID, err
}

// Drain returns the accounts recorded for neoID, in recording order, without deleting them.
func (l *Ledger) Drain(ctx context.Context, neoID string) ([]string, error) {
	rows, err := l.store.SelectByNeo(ctx, neoID)
	if err != nil {
		return nil, fmt.Errorf("%w: select winners: %w", failure.ErrPersistence, err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Account)
	}
	return out, nil
}

// List returns the winner rows of neoID.
func (l *Ledger) List(ctx context.Context, neoID string) ([]model.Winner, error) {
	rows, err := l.store.SelectByNeo(ctx, neoID)
	if err != nil {
		return nil, fmt.Errorf("%w: select winners: %w", failure.ErrPersistence, err)
	}
	return rows, nil
}

// Clear deletes every winner of neoID.
func (l *Ledger) Clear(ctx context.Context, neoID string) error {
	n, err := l.store.DeleteByNeo(ctx, neoID)
	if err != nil {
		return fmt.Errorf("%w: clear winners: %w", failure.ErrPersistence, err)
	}
	l.seen.ForgetNeo(ctx, neoID)
	metrics.UpdateDedupeSize(l.seen.Size())
	l.log.Info(ctx, "winners cleared", logger.String("neo_id", neoID), logger.Int64("deleted", n))
	return nil
}

// ForgetAccount deletes every winner row of account, across NEOs.
func (l *Ledger) ForgetAccount(ctx context.Context, account string) error {
	acc, err := NormalizeAccount(account)
	if err != nil {
		return err
	}
	if _, err := l.store.DeleteByAccount(ctx, acc); err != nil {
		return fmt.Errorf("%w: delete account: %w", failure.ErrPersistence, err)
	}
	l.seen.ForgetAccount(ctx, acc)
	metrics.UpdateDedupeSize(l.seen.Size())
	return nil
}
