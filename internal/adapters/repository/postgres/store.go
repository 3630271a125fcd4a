// Package postgres is the production repository backend, built on gorm with the
// pgx-backed postgres driver.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/okian/neodrop/internal/adapters/repository"
	"github.com/okian/neodrop/internal/domain/attributes"
	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/pkg/logger"
	"github.com/okian/neodrop/pkg/metrics"
)

const (
	storeName   = "postgres"
	pingTimeout = 5 * time.Second
)

// Store implements repository.Store on a gorm connection.
type Store struct {
	db  *gorm.DB
	log logger.Logger
}

// Connect opens dsn, pings it and migrates the schema.
func Connect(ctx context.Context, dsn string, log logger.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := New(db, log)
	if err := s.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, log logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{db: db, log: log}
}

// Migrate creates or updates the tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&neoModel{}, &winnerModel{}, &quizModel{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Neos() repository.NeoStore       { return neoStore{s} }
func (s *Store) Winners() repository.WinnerStore { return winnerStore{s} }
func (s *Store) Quizzes() repository.QuizStore   { return quizStore{s} }

// Close closes the underlying pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) logError(ctx context.Context, event string, err error, fields ...logger.Field) error {
	fields = append(fields, logger.String("event", event), logger.String("layer", "adapter"), logger.Error(err))
	s.log.Error(ctx, "postgres repository operation failed", fields...)
	return err
}

type neoModel struct {
	ID            string    `gorm:"column:id;primaryKey"`
	Name          string    `gorm:"column:name"`
	CloseApproach time.Time `gorm:"column:close_approach"`
	SizeFeet      float64   `gorm:"column:size_feet;index"`
	RangeMiles    float64   `gorm:"column:range_miles;index"`
	VelocityMPH   float64   `gorm:"column:velocity_mph;index"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (neoModel) TableName() string { return "neo_data" }

func (m neoModel) toEntity() model.NEO {
	return model.NEO{
		ID:            m.ID,
		Name:          m.Name,
		CloseApproach: m.CloseApproach.UTC(),
		SizeFeet:      m.SizeFeet,
		RangeMiles:    m.RangeMiles,
		VelocityMPH:   m.VelocityMPH,
	}
}

type winnerModel struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	NeoID      string    `gorm:"column:neo_id;uniqueIndex:winners_neo_account_key,priority:1"`
	Account    string    `gorm:"column:public_address;uniqueIndex:winners_neo_account_key,priority:2;index"`
	RecordedAt time.Time `gorm:"column:recorded_at"`
}

func (winnerModel) TableName() string { return "winners" }

type quizModel struct {
	ID        string `gorm:"column:quiz_id;primaryKey"`
	Title     string `gorm:"column:title"`
	Questions string `gorm:"column:questions;type:jsonb"`
}

func (quizModel) TableName() string { return "quizzes" }

func (m quizModel) toEntity() (model.Quiz, error) {
	q := model.Quiz{ID: m.ID, Title: m.Title}
	if m.Questions != "" {
		if err := json.Unmarshal([]byte(m.Questions), &q.Questions); err != nil {
			return model.Quiz{}, fmt.Errorf("decode questions of %s: %w", m.ID, err)
		}
	}
	return q, nil
}

var columns = map[attributes.Attribute]string{
	attributes.Size:     "size_feet",
	attributes.Range:    "range_miles",
	attributes.Velocity: "velocity_mph",
}

type neoStore struct{ s *Store }

func (n neoStore) Insert(ctx context.Context, neo model.NEO) error {
	defer observe("neo_insert", time.Now())
	row := neoModel{
		ID:            neo.ID,
		Name:          neo.Name,
		CloseApproach: neo.CloseApproach.UTC(),
		SizeFeet:      neo.SizeFeet,
		RangeMiles:    neo.RangeMiles,
		VelocityMPH:   neo.VelocityMPH,
	}
	if err := n.s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return n.s.logError(ctx, "neo_repo_insert_failed", err, logger.String("neo_id", neo.ID))
	}
	return nil
}

func (n neoStore) KnownIDs(ctx context.Context) (map[string]struct{}, error) {
	defer observe("neo_known_ids", time.Now())
	var ids []string
	if err := n.s.db.WithContext(ctx).Model(&neoModel{}).Pluck("id", &ids).Error; err != nil {
		return nil, n.s.logError(ctx, "neo_repo_known_ids_failed", err)
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (n neoStore) Get(ctx context.Context, id string) (model.NEO, error) {
	var row neoModel
	if err := n.s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.NEO{}, repository.ErrNotFound
		}
		return model.NEO{}, n.s.logError(ctx, "neo_repo_get_failed", err, logger.String("neo_id", id))
	}
	return row.toEntity(), nil
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
	var rows []neoModel
	if err := topNQuery(n.s.db.WithContext(ctx), col, asc, limit).Find(&rows).Error; err != nil {
		return nil, n.s.logError(ctx, "neo_repo_top_n_failed", err, logger.String("attribute", string(a)))
	}
	out := make([]model.NEO, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEntity())
	}
	return out, nil
}

type winnerStore struct{ s *Store }

func (w winnerStore) Upsert(ctx context.Context, win model.Winner) (bool, error) {
	defer observe("winner_upsert", time.Now())
	row := winnerModel{NeoID: win.NeoID, Account: win.Account, RecordedAt: win.RecordedAt}
	if row.RecordedAt.IsZero() {
		row.RecordedAt = time.Now().UTC()
	}
	create := upsertWinnerQuery(w.s.db.WithContext(ctx)).Create(&row)
	if create.Error != nil {
		return false, w.s.logError(ctx, "winner_repo_upsert_failed", create.Error,
			logger.String("neo_id", win.NeoID))
	}
	return create.RowsAffected > 0, nil
}

func (w winnerStore) SelectByNeo(ctx context.Context, neoID string) ([]model.Winner, error) {
	defer observe("winner_select", time.Now())
	var rows []winnerModel
	if err := w.s.db.WithContext(ctx).
		Where("neo_id = ?", neoID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, w.s.logError(ctx, "winner_repo_select_failed", err, logger.String("neo_id", neoID))
	}
	out := make([]model.Winner, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Winner{NeoID: r.NeoID, Account: r.Account, RecordedAt: r.RecordedAt.UTC()})
	}
	return out, nil
}

func (w winnerStore) DeleteByNeo(ctx context.Context, neoID string) (int64, error) {
	defer observe("winner_delete_neo", time.Now())
	res := w.s.db.WithContext(ctx).Where("neo_id = ?", neoID).Delete(&winnerModel{})
	if res.Error != nil {
		return 0, w.s.logError(ctx, "winner_repo_delete_neo_failed", res.Error, logger.String("neo_id", neoID))
	}
	return res.RowsAffected, nil
}

func (w winnerStore) DeleteByAccount(ctx context.Context, account string) (int64, error) {
	defer observe("winner_delete_account", time.Now())
	res := w.s.db.WithContext(ctx).Where("public_address = ?", account).Delete(&winnerModel{})
	if res.Error != nil {
		return 0, w.s.logError(ctx, "winner_repo_delete_account_failed", res.Error)
	}
	return res.RowsAffected, nil
}

type quizStore struct{ s *Store }

func (q quizStore) RandomExcluding(ctx context.Context, currentID string) (model.Quiz, error) {
	defer observe("quiz_random", time.Now())
	var row quizModel
	if err := randomQuizQuery(q.s.db.WithContext(ctx), currentID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Quiz{}, repository.ErrNotFound
		}
		return model.Quiz{}, q.s.logError(ctx, "quiz_repo_random_failed", err)
	}
	return row.toEntity()
}

func (q quizStore) Get(ctx context.Context, id string) (model.Quiz, error) {
	var row quizModel
	if err := q.s.db.WithContext(ctx).Where("quiz_id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Quiz{}, repository.ErrNotFound
		}
		return model.Quiz{}, q.s.logError(ctx, "quiz_repo_get_failed", err, logger.String("quiz_id", id))
	}
	return row.toEntity()
}

func (q quizStore) Put(ctx context.Context, quiz model.Quiz) error {
	raw, err := json.Marshal(quiz.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	row := quizModel{ID: quiz.ID, Title: quiz.Title, Questions: string(raw)}
	if err := q.s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "quiz_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "questions"}),
	}).Create(&row).Error; err != nil {
		return q.s.logError(ctx, "quiz_repo_put_failed", err, logger.String("quiz_id", quiz.ID))
	}
	return nil
}

func topNQuery(tx *gorm.DB, col string, asc bool, limit int) *gorm.DB {
	return tx.Model(&neoModel{}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: !asc}).
		Order("id ASC").
		Limit(limit)
}

func upsertWinnerQuery(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "neo_id"}, {Name: "public_address"}},
		DoNothing: true,
	})
}

// randomQuizQuery excludes the current quiz with <> when there is one and with
// IS NOT NULL otherwise, so the same statement shape serves both cases.
func randomQuizQuery(tx *gorm.DB, currentID string) *gorm.DB {
	tx = tx.Model(&quizModel{})
	if currentID != "" {
		tx = tx.Where("quiz_id <> ?", currentID)
	} else {
		tx = tx.Where("quiz_id IS NOT NULL")
	}
	return tx.Order("random()").Limit(1)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func observe(op string, start time.Time) {
	metrics.RecordRepositoryLatency(storeName, op, time.Since(start))
}

var _ repository.Store = (*Store)(nil)
