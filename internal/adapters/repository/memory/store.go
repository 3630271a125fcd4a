// Package memory is the in-process repository backend used by tests and local runs.
package memory

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/okian/neodrop/internal/adapters/repository"
	"github.com/okian/neodrop/internal/domain/attributes"
	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/pkg/metrics"
)

const storeName = "memory"

// Store implements repository.Store with maps guarded by one RWMutex.
type Store struct {
	mu      sync.RWMutex
	neos    map[string]model.NEO
	winners map[string][]model.Winner // by neo id, recording order
	quizzes map[string]model.Quiz
	now     func() time.Time
	rng     func(n int) int
}

// Option configures the memory store.
type Option func(*Store)

// WithClock overrides the clock used for RecordedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPicker overrides random quiz selection; pick returns an index in [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(s *Store) {
		if pick != nil {
			s.rng = pick
		}
	}
}

// WithQuizzes seeds the quiz bank.
func WithQuizzes(qs ...model.Quiz) Option {
	return func(s *Store) {
		for _, q := range qs {
			s.quizzes[q.ID] = q
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		neos:    make(map[string]model.NEO),
		winners: make(map[string][]model.Winner),
		quizzes: make(map[string]model.Quiz),
		now:     time.Now,
		rng:     rand.IntN,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Neos() repository.NeoStore       { return neoStore{s} }
func (s *Store) Winners() repository.WinnerStore { return winnerStore{s} }
func (s *Store) Quizzes() repository.QuizStore   { return quizStore{s} }
func (s *Store) Close() error                    { return nil }

type neoStore struct{ s *Store }

func (n neoStore) Insert(_ context.Context, neo model.NEO) error {
	defer observe("neo_insert", time.Now())
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	if _, ok := n.s.neos[neo.ID]; ok {
		return repository.ErrDuplicate
	}
	n.s.neos[neo.ID] = neo
	return nil
}

func (n neoStore) KnownIDs(_ context.Context) (map[string]struct{}, error) {
	defer observe("neo_known_ids", time.Now())
	n.s.mu.RLock()
	defer n.s.mu.RUnlock()
	ids := make(map[string]struct{}, len(n.s.neos))
	for id := range n.s.neos {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (n neoStore) Get(_ context.Context, id string) (model.NEO, error) {
	n.s.mu.RLock()
	defer n.s.mu.RUnlock()
	neo, ok := n.s.neos[id]
	if !ok {
		return model.NEO{}, repository.ErrNotFound
	}
	return neo, nil
}

func (n neoStore) TopN(_ context.Context, a attributes.Attribute, asc bool, limit int) ([]model.NEO, error) {
	defer observe("neo_top_n", time.Now())
	if limit <= 0 {
		return nil, repository.ErrInvalidLimit
	}
	n.s.mu.RLock()
	all := make([]model.NEO, 0, len(n.s.neos))
	for _, neo := range n.s.neos {
		all = append(all, neo)
	}
	n.s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		vi, vj := attributes.Value(all[i], a), attributes.Value(all[j], a)
		if vi != vj {
			if asc {
				return vi < vj
			}
			return vi > vj
		}
		return all[i].ID < all[j].ID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

type winnerStore struct{ s *Store }

func (w winnerStore) Upsert(_ context.Context, win model.Winner) (bool, error) {
	defer observe("winner_upsert", time.Now())
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	for _, existing := range w.s.winners[win.NeoID] {
		if existing.Account == win.Account {
			return false, nil
		}
	}
	if win.RecordedAt.IsZero() {
		win.RecordedAt = w.s.now().UTC()
	}
	w.s.winners[win.NeoID] = append(w.s.winners[win.NeoID], win)
	return true, nil
}

func (w winnerStore) SelectByNeo(_ context.Context, neoID string) ([]model.Winner, error) {
	defer observe("winner_select", time.Now())
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()
	out := make([]model.Winner, len(w.s.winners[neoID]))
	copy(out, w.s.winners[neoID])
	return out, nil
}

func (w winnerStore) DeleteByNeo(_ context.Context, neoID string) (int64, error) {
	defer observe("winner_delete_neo", time.Now())
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	n := int64(len(w.s.winners[neoID]))
	delete(w.s.winners, neoID)
	return n, nil
}

func (w winnerStore) DeleteByAccount(_ context.Context, account string) (int64, error) {
	defer observe("winner_delete_account", time.Now())
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	var n int64
	for neoID, list := range w.s.winners {
		kept := list[:0]
		for _, win := range list {
			if win.Account == account {
				n++
				continue
			}
			kept = append(kept, win)
		}
		if len(kept) == 0 {
			delete(w.s.winners, neoID)
		} else {
			w.s.winners[neoID] = kept
		}
	}
	return n, nil
}

type quizStore struct{ s *Store }

func (q quizStore) RandomExcluding(_ context.Context, currentID string) (model.Quiz, error) {
	defer observe("quiz_random", time.Now())
	q.s.mu.RLock()
	defer q.s.mu.RUnlock()
	ids := make([]string, 0, len(q.s.quizzes))
	for id := range q.s.quizzes {
		if id != currentID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return model.Quiz{}, repository.ErrNotFound
	}
	sort.Strings(ids)
	return q.s.quizzes[ids[q.s.rng(len(ids))]], nil
}

func (q quizStore) Get(_ context.Context, id string) (model.Quiz, error) {
	q.s.mu.RLock()
	defer q.s.mu.RUnlock()
	quiz, ok := q.s.quizzes[id]
	if !ok {
		return model.Quiz{}, repository.ErrNotFound
	}
	return quiz, nil
}

func (q quizStore) Put(_ context.Context, quiz model.Quiz) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	q.s.quizzes[quiz.ID] = quiz
	return nil
}

func observe(op string, start time.Time) {
	metrics.RecordRepositoryLatency(storeName, op, time.Since(start))
}

var _ repository.Store = (*Store)(nil)
