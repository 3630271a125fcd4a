// Package sqlite is the single-file repository backend, built on the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/okian/neodrop/internal/adapters/repository"
	"github.com/okian/neodrop/internal/domain/attributes"
	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/pkg/logger"
	"github.com/okian/neodrop/pkg/metrics"
)

const storeName = "sqlite"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS neos (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		close_approach_ms INTEGER NOT NULL,
		size_feet REAL NOT NULL,
		range_miles REAL NOT NULL,
		velocity_mph REAL NOT NULL,
		created_at_ms INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS winners (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		neo_id TEXT NOT NULL,
		account TEXT NOT NULL,
		recorded_at_ms INTEGER NOT NULL,
		UNIQUE (neo_id, account)
	)`,
	`CREATE INDEX IF NOT EXISTS winners_account_idx ON winners (account)`,
	`CREATE TABLE IF NOT EXISTS quizzes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		questions TEXT NOT NULL
	)`,
}

// columns maps attributes onto neos columns; ORDER BY cannot take placeholders.
var columns = map[attributes.Attribute]string{
	attributes.Size:     "size_feet",
	attributes.Range:    "range_miles",
	attributes.Velocity: "velocity_mph",
}

// Store implements repository.Store on one SQLite database file.
type Store struct {
	db  *sql.DB
	log logger.Logger
	now func() time.Time
}

// Open creates (or reuses) the database at path and applies the schema.
func Open(ctx context.Context, path string, log logger.Logger) (*Store, error) {
	if path == "" {
		path = "neodrop.db"
	}
	if log == nil {
		log = logger.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{db: db, log: log, now: time.Now}, nil
}

func (s *Store) Neos() repository.NeoStore       { return neoStore{s} }
func (s *Store) Winners() repository.WinnerStore { return winnerStore{s} }
func (s *Store) Quizzes() repository.QuizStore   { return quizStore{s} }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) fail(ctx context.Context, op string, err error, fields ...logger.Field) error {
	fields = append(fields, logger.String("op", op), logger.Error(err))
	s.log.Error(ctx, "sqlite repository operation failed", fields...)
	return fmt.Errorf("sqlite %s: %w", op, err)
}

type neoStore struct{ s *Store }

func (n neoStore) Insert(ctx context.Context, neo model.NEO) error {
	defer observe("neo_insert", time.Now())
	res, err := n.s.db.ExecContext(ctx,
		`INSERT INTO neos (id, name, close_approach_ms, size_feet, range_miles, velocity_mph, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		neo.ID, neo.Name, neo.CloseApproach.UnixMilli(), neo.SizeFeet, neo.RangeMiles, neo.VelocityMPH, n.s.now().UnixMilli())
	if err != nil {
		return n.s.fail(ctx, "neo_insert", err, logger.String("neo_id", neo.ID))
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return repository.ErrDuplicate
	}
	return nil
}

func (n neoStore) KnownIDs(ctx context.Context) (map[string]struct{}, error) {
	defer observe("neo_known_ids", time.Now())
	rows, err := n.s.db.QueryContext(ctx, `SELECT id FROM neos`)
	if err != nil {
		return nil, n.s.fail(ctx, "neo_known_ids", err)
	}
	defer func() { _ = rows.Close() }()
	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, n.s.fail(ctx, "neo_known_ids", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, n.s.fail(ctx, "neo_known_ids", err)
	}
	return ids, nil
}

const neoColumns = `id, name, close_approach_ms, size_feet, range_miles, velocity_mph`

type scanner interface{ Scan(dest ...any) error }

func scanNEO(sc scanner) (model.NEO, error) {
	var (
		neo model.NEO
		ms  int64
	)
	if err := sc.Scan(&neo.ID, &neo.Name, &ms, &neo.SizeFeet, &neo.RangeMiles, &neo.VelocityMPH); err != nil {
		return model.NEO{}, err
	}
	neo.CloseApproach = time.UnixMilli(ms).UTC()
	return neo, nil
}

func (n neoStore) Get(ctx context.Context, id string) (model.NEO, error) {
	neo, err := scanNEO(n.s.db.QueryRowContext(ctx, `SELECT `+neoColumns+` FROM neos WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.NEO{}, repository.ErrNotFound
	}
	if err != nil {
		return model.NEO{}, n.s.fail(ctx, "neo_get", err, logger.String("neo_id", id))
	}
	return neo, nil
}

func (n neoStore) TopN(ctx context.Context, a attributes.Attribute, asc bool, limit int) ([]model.NEO, error) {
	defer observe("neo_top_n", time.Now())
	if limit <= 0 {
		return nil, repository.ErrInvalidLimit
	}
	col, ok := columns[a]
	if !ok {
		return nil, attributes.ErrUnknownAttribute
	}
	dir := "DESC"
	if asc {
		dir = "ASC"
	}
	rows, err := n.s.db.QueryContext(ctx,
		`SELECT `+neoColumns+` FROM neos ORDER BY `+col+` `+dir+`, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, n.s.fail(ctx, "neo_top_n", err, logger.String("attribute", string(a)))
	}
	defer func() { _ = rows.Close() }()
	var out []model.NEO
	for rows.Next() {
		neo, err := scanNEO(rows)
		if err != nil {
			return nil, n.s.fail(ctx, "neo_top_n", err)
		}
		out = append(out, neo)
	}
	return out, rows.Err()
}

type winnerStore struct{ s *Store }

func (w winnerStore) Upsert(ctx context.Context, win model.Winner) (bool, error) {
	defer observe("winner_upsert", time.Now())
	at := win.RecordedAt
	if at.IsZero() {
		at = w.s.now()
	}
	res, err := w.s.db.ExecContext(ctx,
		`INSERT INTO winners (neo_id, account, recorded_at_ms) VALUES (?, ?, ?)
		 ON CONFLICT (neo_id, account) DO NOTHING`,
		win.NeoID, win.Account, at.UnixMilli())
	if err != nil {
		return false, w.s.fail(ctx, "winner_upsert", err, logger.String("neo_id", win.NeoID))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, w.s.fail(ctx, "winner_upsert", err)
	}
	return affected > 0, nil
}

func (w winnerStore) SelectByNeo(ctx context.Context, neoID string) ([]model.Winner, error) {
	defer observe("winner_select", time.Now())
	rows, err := w.s.db.QueryContext(ctx,
		`SELECT neo_id, account, recorded_at_ms FROM winners WHERE neo_id = ? ORDER BY seq ASC`, neoID)
	if err != nil {
		return nil, w.s.fail(ctx, "winner_select", err, logger.String("neo_id", neoID))
	}
	defer func() { _ = rows.Close() }()
	var out []model.Winner
	for rows.Next() {
		var (
			win model.Winner
			ms  int64
		)
		if err := rows.Scan(&win.NeoID, &win.Account, &ms); err != nil {
			return nil, w.s.fail(ctx, "winner_select", err)
		}
		win.RecordedAt = time.UnixMilli(ms).UTC()
		out = append(out, win)
	}
	return out, rows.Err()
}

func (w winnerStore) DeleteByNeo(ctx context.Context, neoID string) (int64, error) {
	defer observe("winner_delete_neo", time.Now())
	res, err := w.s.db.ExecContext(ctx, `DELETE FROM winners WHERE neo_id = ?`, neoID)
	if err != nil {
		return 0, w.s.fail(ctx, "winner_delete_neo", err, logger.String("neo_id", neoID))
	}
	return res.RowsAffected()
}

func (w winnerStore) DeleteByAccount(ctx context.Context, account string) (int64, error) {
	defer observe("winner_delete_account", time.Now())
	res, err := w.s.db.ExecContext(ctx, `DELETE FROM winners WHERE account = ?`, account)
	if err != nil {
		return 0, w.s.fail(ctx, "winner_delete_account", err)
	}
	return res.RowsAffected()
}

type quizStore struct{ s *Store }

func scanQuiz(sc scanner) (model.Quiz, error) {
	var (
		q   model.Quiz
		raw string
	)
	if err := sc.Scan(&q.ID, &q.Title, &raw); err != nil {
		return model.Quiz{}, err
	}
	if err := json.Unmarshal([]byte(raw), &q.Questions); err != nil {
		return model.Quiz{}, fmt.Errorf("decode questions of %s: %w", q.ID, err)
	}
	return q, nil
}

func (q quizStore) RandomExcluding(ctx context.Context, currentID string) (model.Quiz, error) {
	defer observe("quiz_random", time.Now())
	var row *sql.Row
	if currentID != "" {
		row = q.s.db.QueryRowContext(ctx,
			`SELECT id, title, questions FROM quizzes WHERE id <> ? ORDER BY RANDOM() LIMIT 1`, currentID)
	} else {
		row = q.s.db.QueryRowContext(ctx,
			`SELECT id, title, questions FROM quizzes WHERE id IS NOT NULL ORDER BY RANDOM() LIMIT 1`)
	}
	quiz, err := scanQuiz(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Quiz{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Quiz{}, q.s.fail(ctx, "quiz_random", err)
	}
	return quiz, nil
}

func (q quizStore) Get(ctx context.Context, id string) (model.Quiz, error) {
	quiz, err := scanQuiz(q.s.db.QueryRowContext(ctx, `SELECT id, title, questions FROM quizzes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Quiz{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Quiz{}, q.s.fail(ctx, "quiz_get", err, logger.String("quiz_id", id))
	}
	return quiz, nil
}

func (q quizStore) Put(ctx context.Context, quiz model.Quiz) error {
	raw, err := json.Marshal(quiz.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	if _, err := q.s.db.ExecContext(ctx,
		`INSERT INTO quizzes (id, title, questions) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET title = excluded.title, questions = excluded.questions`,
		quiz.ID, quiz.Title, string(raw)); err != nil {
		return q.s.fail(ctx, "quiz_put", err, logger.String("quiz_id", quiz.ID))
	}
	return nil
}

func observe(op string, start time.Time) {
	metrics.RecordRepositoryLatency(storeName, op, time.Since(start))
}

var _ repository.Store = (*Store)(nil)
