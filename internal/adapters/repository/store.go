// Package repository defines the persistence contracts of neodrop and the
// errors shared by its backends (memory, sqlite, postgres).
package repository

import (
	"context"

	"github.com/okian/neodrop/internal/domain/attributes"
	"github.com/okian/neodrop/internal/domain/model"
)

// NeoStore persists every NEO that was ever installed.
type NeoStore interface {
	// Insert stores a newly installed NEO. Returns ErrDuplicate if the id exists.
	Insert(ctx context.Context, n model.NEO) error
	// KnownIDs returns the ids of every persisted NEO.
	KnownIDs(ctx context.Context) (map[string]struct{}, error)
	// Get returns the NEO with id or ErrNotFound.
	Get(ctx context.Context, id string) (model.NEO, error)
	// TopN returns up to n NEOs ordered by attribute a, ascending when asc is set.
	TopN(ctx context.Context, a attributes.Attribute, asc bool, n int) ([]model.NEO, error)
}

// WinnerStore is the winners ledger table, unique on (neo_id, account).
type WinnerStore interface {
	// Upsert inserts w unless the pair exists. inserted is false for duplicates.
	Upsert(ctx context.Context, w model.Winner) (inserted bool, err error)
	// SelectByNeo returns the winners of neoID in recording order.
	SelectByNeo(ctx context.Context, neoID string) ([]model.Winner, error)
	DeleteByNeo(ctx context.Context, neoID string) (int64, error)
	DeleteByAccount(ctx context.Context, account string) (int64, error)
}

// QuizStore holds the quiz bank.
type QuizStore interface {
	// RandomExcluding returns a random quiz whose id differs from currentID.
	// An empty currentID excludes nothing. Returns ErrNotFound on an empty bank.
	RandomExcluding(ctx context.Context, currentID string) (model.Quiz, error)
	Get(ctx context.Context, id string) (model.Quiz, error)
	Put(ctx context.Context, q model.Quiz) error
}

// Store bundles the stores of one backend.
type Store interface {
	Neos() NeoStore
	Winners() WinnerStore
	Quizzes() QuizStore
	Close() error
}

// ValidateLimit normalizes a TopN limit against maxLimit.
func ValidateLimit(n, maxLimit int) (int, error) {
	if n <= 0 {
		return 0, ErrInvalidLimit
	}
	if maxLimit > 0 && n > maxLimit {
		return maxLimit, nil
	}
	return n, nil
}
