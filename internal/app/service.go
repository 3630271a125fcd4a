// Package service wires the rotation engine, winners ledger, reward workflow
// and quiz rotation together and implements the dependencies required by the
// HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/okian/neodrop/internal/adapters/chain/simulated"
	"github.com/okian/neodrop/internal/adapters/feed"
	"github.com/okian/neodrop/internal/adapters/metadata"
	metamemory "github.com/okian/neodrop/internal/adapters/metadata/memory"
	metas3 "github.com/okian/neodrop/internal/adapters/metadata/s3"
	"github.com/okian/neodrop/internal/adapters/mq/queue"
	"github.com/okian/neodrop/internal/adapters/mq/worker"
	"github.com/okian/neodrop/internal/adapters/repository"
	"github.com/okian/neodrop/internal/adapters/repository/memory"
	"github.com/okian/neodrop/internal/adapters/repository/postgres"
	"github.com/okian/neodrop/internal/adapters/repository/sqlite"
	"github.com/okian/neodrop/internal/config"
	"github.com/okian/neodrop/internal/domain/attributes"
	"github.com/okian/neodrop/internal/domain/chain"
	"github.com/okian/neodrop/internal/domain/dedupe"
	"github.com/okian/neodrop/internal/domain/failure"
	"github.com/okian/neodrop/internal/domain/gate"
	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/internal/domain/quiz"
	"github.com/okian/neodrop/internal/domain/reward"
	"github.com/okian/neodrop/internal/domain/rotation"
	"github.com/okian/neodrop/internal/domain/types"
	"github.com/okian/neodrop/internal/domain/winners"
	"github.com/okian/neodrop/pkg/logger"
	"github.com/okian/neodrop/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

// ErrNotStarted is returned by calls made before Start or after Stop.
var ErrNotStarted = fmt.Errorf("service not started: %w", failure.ErrStopped)

// Service implements the API dependencies of the prize-drop system.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config
	now func() time.Time

	// Injected or built in Start
	store     repository.Store
	ownsStore bool
	feed      rotation.Feed
	blobs     metadata.BlobStore
	ledger    chain.Ledger

	// Core components
	winners    *winners.Ledger
	gate       *gate.Gate
	workflow   *reward.Workflow
	engine     *rotation.Engine
	quiz       *quiz.Rotator
	triggers   *queue.InMemoryQueue
	dispatcher *worker.Dispatcher

	// State
	started bool
	cancel  context.CancelFunc

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration. Defaults to config.New().
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore uses store instead of opening the configured driver. The caller
// keeps ownership and closes it.
func WithStore(store repository.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithFeed replaces the configured candidate feed.
func WithFeed(f rotation.Feed) Option {
	return func(s *Service) { s.feed = f }
}

// WithBlobStore replaces the configured metadata backend.
func WithBlobStore(b metadata.BlobStore) Option {
	return func(s *Service) { s.blobs = b }
}

// WithLedger replaces the simulated token ledger.
func WithLedger(l chain.Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

// WithClock overrides the clock of the rotation engine and winners ledger.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service. Components are built by Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg: config.New(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components, runs the bootstrap rotation and starts the
// trigger dispatcher and quiz schedule. A failed bootstrap leaves the engine
// in the failed state; the service still starts so operators can recover it.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting neodrop service...")

	if err := s.build(ctx); err != nil {
		s.closeStore()
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	go s.dispatcher.Run(runCtx)

	if err := s.engine.Start(ctx); err != nil {
		s.logger.Warn(ctx, "bootstrap rotation failed", logger.Error(err))
	}
	if err := s.quiz.Start(runCtx); err != nil {
		cancel()
		s.engine.Stop()
		s.closeStore()
		return fmt.Errorf("start quiz rotation: %w", err)
	}

	s.started = true
	s.logger.Info(ctx, "neodrop service started",
		logger.String("store", s.cfg.StoreDriver),
		logger.String("metadata", s.cfg.MetadataDriver),
		logger.String("state", s.engine.Snapshot().State.String()),
	)
	return nil
}

func (s *Service) build(ctx context.Context) error {
	cfg := s.cfg
	log := s.logger

	if s.store == nil {
		store, err := openStore(ctx, cfg, log.Named("repository"))
		if err != nil {
			return err
		}
		s.store, s.ownsStore = store, true
	}
	if cfg.FeedFile != "" {
		if err := s.seedQuizzes(ctx, cfg.FeedFile); err != nil {
			return err
		}
	}
	if s.feed == nil {
		if cfg.FeedFile != "" {
			s.feed = feed.NewFile(cfg.FeedFile)
		} else {
			log.Warn(ctx, "no feed_file configured, candidate feed is empty")
			s.feed = feed.NewStatic()
		}
	}
	if s.blobs == nil {
		blobs, err := openBlobs(ctx, cfg)
		if err != nil {
			return err
		}
		s.blobs = blobs
	}
	if s.ledger == nil {
		s.ledger = simulated.New(common.HexToAddress(cfg.SignerAddress))
	}

	s.winners = winners.New(s.store.Winners(),
		winners.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))),
		winners.WithLogger(log.Named("winners")),
		winners.WithClock(s.now),
	)
	s.gate = gate.New(gate.WithWaitTimeout(cfg.GateWaitTimeout()), gate.WithLogger(log.Named("gate")))
	publisher := metadata.NewPublisher(s.blobs,
		metadata.WithImageBaseURL(cfg.ImageBaseURL),
		metadata.WithLogger(log.Named("metadata")),
	)
	s.workflow = reward.New(publisher, s.ledger, s.gate, reward.WithLogger(log.Named("reward")))

	s.triggers = queue.NewInMemoryQueue(queue.WithCapacity(cfg.TriggerQueueSize))
	s.engine = rotation.New(s.feed, s.store.Neos(), s.winners, s.workflow,
		rotation.WithLogger(log.Named("rotation")),
		rotation.WithClock(s.now),
		rotation.WithWindow(cfg.FeedLeadDays, cfg.FeedWindowDays),
		rotation.WithScheduler(func(t model.Trigger) bool {
			return s.triggers.Enqueue(context.Background(), t)
		}),
	)
	s.dispatcher = worker.New(s.triggers, s.engine,
		worker.WithName("rotation-dispatcher"),
		worker.WithLogger(log),
	)

	rotator, err := quiz.New(s.store.Quizzes(),
		quiz.WithSchedule(cfg.QuizSchedule),
		quiz.WithRegenerator(s.engine),
		quiz.WithLogger(log.Named("quiz")),
	)
	if err != nil {
		return err
	}
	s.quiz = rotator
	return nil
}

func (s *Service) seedQuizzes(ctx context.Context, path string) error {
	fx, err := feed.Load(path)
	if err != nil {
		return err
	}
	for _, q := range fx.Quizzes {
		if err := s.store.Quizzes().Put(ctx, q); err != nil {
			return fmt.Errorf("seed quiz %s: %w", q.ID, err)
		}
	}
	s.logger.Info(ctx, "quiz bank seeded", logger.Int("quizzes", len(fx.Quizzes)), logger.String("file", path))
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		log.Info(ctx, "using sqlite store", logger.String("path", cfg.SQLitePath))
		store, err := sqlite.Open(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, fmt.Errorf("%w: open sqlite: %w", failure.ErrPersistence, err)
		}
		return store, nil
	case config.StorePostgres:
		log.Info(ctx, "using postgres store")
		store, err := postgres.Connect(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return nil, fmt.Errorf("%w: connect postgres: %w", failure.ErrPersistence, err)
		}
		return store, nil
	default:
		log.Info(ctx, "using memory store")
		return memory.New(), nil
	}
}

func openBlobs(ctx context.Context, cfg *config.Config) (metadata.BlobStore, error) {
	if cfg.MetadataDriver != config.MetadataS3 {
		return metamemory.New(cfg.MetadataBaseURL), nil
	}
	store, err := metas3.New(ctx, metas3.Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		PathStyle:       cfg.S3PathStyle,
		PublicBaseURL:   cfg.MetadataBaseURL,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("metadata s3 store: %w", err)
	}
	return store, nil
}

// Stop gracefully shuts down the service. A rotation in flight completes.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping neodrop service...")

	s.quiz.Stop()
	s.engine.Stop()
	_ = s.triggers.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.dispatcher.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "dispatcher did not stop cleanly", logger.Error(err))
	}
	s.cancel()
	s.closeStore()

	s.started = false
	s.logger.Info(ctx, "neodrop service stopped")
}

func (s *Service) closeStore() {
	if s.ownsStore && s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(context.Background(), "close store", logger.Error(err))
		}
		s.store, s.ownsStore = nil, false
	}
}

// running returns the service under a read lock, or ErrNotStarted.
func (s *Service) running() (*Service, func(), error) {
	s.mu.RLock()
	if !s.started {
		s.mu.RUnlock()
		return nil, func() {}, ErrNotStarted
	}
	return s, s.mu.RUnlock, nil
}

// State reports the rotation state.
func (s *Service) State() types.EngineState {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return types.EngineState{State: rotation.StateUnset.String()}
	}
	snap := r.engine.Snapshot()
	st := types.EngineState{State: snap.State.String(), Since: snap.Since, Rotating: r.engine.Rotating()}
	if snap.Err != nil {
		st.Error = snap.Err.Error()
	}
	if snap.NEO != nil {
		v := types.NewNeo(*snap.NEO)
		st.Neo = &v
	}
	return st
}

// CurrentNeo returns the featured NEO.
func (s *Service) CurrentNeo(_ context.Context) (types.Neo, error) {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return types.Neo{}, err
	}
	n, ok := r.engine.Current()
	if !ok {
		return types.Neo{}, failure.ErrNoCurrentNeo
	}
	return types.NewNeo(*n), nil
}

// ForceRotate ends the current cycle and installs the next NEO now. It fails
// with ErrRotationInProgress when a rotation is already running.
func (s *Service) ForceRotate(ctx context.Context) (types.Neo, error) {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return types.Neo{}, err
	}
	n, err := r.engine.TryRotate(ctx, true)
	if err != nil {
		return types.Neo{}, err
	}
	return types.NewNeo(*n), nil
}

// RequestRegeneration makes the next quiz tick force a NEO rotation.
func (s *Service) RequestRegeneration(ctx context.Context) error {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return err
	}
	r.quiz.RequestRegeneration()
	r.logger.Info(ctx, "regeneration requested", logger.Time("next_tick", r.quiz.Next()))
	return nil
}

// RecordWinner adds account to the winners of the current NEO and returns
// that NEO's id.
func (s *Service) RecordWinner(ctx context.Context, account string) (string, error) {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return "", err
	}
	return r.winners.RecordCurrent(ctx, r.engine, account)
}

// CurrentWinners lists the winners recorded for the current NEO.
func (s *Service) CurrentWinners(ctx context.Context) (types.Winners, error) {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return types.Winners{}, err
	}
	n, ok := r.engine.Current()
	if !ok {
		return types.Winners{}, failure.ErrNoCurrentNeo
	}
	rows, err := r.winners.List(ctx, n.ID)
	if err != nil {
		return types.Winners{}, err
	}
	return types.Winners{NeoID: n.ID, Accounts: rows}, nil
}

// ForgetAccount removes every winner entry of account.
func (s *Service) ForgetAccount(ctx context.Context, account string) error {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return err
	}
	return r.winners.ForgetAccount(ctx, account)
}

// TopN returns the leaderboard of past NEOs for the named attribute.
func (s *Service) TopN(ctx context.Context, attribute string, limit int) ([]types.TopEntry, error) {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return nil, err
	}
	a, err := attributes.Parse(attribute)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", failure.ErrInvalidArgument, err)
	}
	limit, err = repository.ValidateLimit(limit, r.cfg.MaxTopLimit)
	if err != nil {
		return nil, err
	}
	neos, err := r.store.Neos().TopN(ctx, a, a.Ascending(), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: top %s: %w", failure.ErrPersistence, a, err)
	}
	out := make([]types.TopEntry, len(neos))
	for i, n := range neos {
		out[i] = types.TopEntry{Rank: i + 1, Value: attributes.Value(n, a), Neo: types.NewNeo(n)}
	}
	return out, nil
}

// CurrentQuiz returns the quiz being shown, without answers.
func (s *Service) CurrentQuiz(_ context.Context) (types.Quiz, error) {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return types.Quiz{}, err
	}
	q, err := r.quiz.Current()
	if err != nil {
		return types.Quiz{}, err
	}
	return types.NewQuiz(q), nil
}

// RotateQuiz replaces the current quiz now.
func (s *Service) RotateQuiz(ctx context.Context) (types.Quiz, error) {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return types.Quiz{}, err
	}
	q, err := r.quiz.Rotate(ctx)
	if err != nil {
		return types.Quiz{}, err
	}
	return types.NewQuiz(q), nil
}

// QuizByID returns a quiz from the bank, answers included.
func (s *Service) QuizByID(ctx context.Context, id string) (model.Quiz, error) {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return model.Quiz{}, err
	}
	return r.quiz.Get(ctx, id)
}

// Balance reads the reward token balance of account. An empty neoID means
// the current NEO.
func (s *Service) Balance(ctx context.Context, account, neoID string) (types.Balance, error) {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return types.Balance{}, err
	}
	if neoID == "" {
		n, ok := r.engine.Current()
		if !ok {
			return types.Balance{}, failure.ErrNoCurrentNeo
		}
		neoID = n.ID
	}
	acc, err := winners.NormalizeAccount(account)
	if err != nil {
		return types.Balance{}, err
	}
	bal, err := r.workflow.Balance(ctx, acc, neoID)
	if err != nil {
		return types.Balance{}, err
	}
	return types.Balance{Account: acc, NeoID: neoID, TokenID: chain.TokenID(neoID).String(), Balance: bal}, nil
}

// BalanceBatch reads accounts[i]'s balance of neoIDs[i]'s token.
func (s *Service) BalanceBatch(ctx context.Context, accounts, neoIDs []string) ([]types.Balance, error) {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return nil, err
	}
	accs := make([]string, len(accounts))
	for i, a := range accounts {
		if accs[i], err = winners.NormalizeAccount(a); err != nil {
			return nil, err
		}
	}
	bals, err := r.workflow.BalanceBatch(ctx, accs, neoIDs)
	if err != nil {
		return nil, err
	}
	out := make([]types.Balance, len(bals))
	for i, b := range bals {
		out[i] = types.Balance{Account: accs[i], NeoID: neoIDs[i], TokenID: chain.TokenID(neoIDs[i]).String(), Balance: b}
	}
	return out, nil
}

// TokenURI returns the metadata URI of neoID's token.
func (s *Service) TokenURI(ctx context.Context, neoID string) (types.TokenURI, error) {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return types.TokenURI{}, err
	}
	uri, err := r.workflow.TokenURI(ctx, neoID)
	if err != nil {
		return types.TokenURI{}, err
	}
	return types.TokenURI{NeoID: neoID, TokenID: chain.TokenID(neoID).String(), URI: uri}, nil
}

// TokenOwners lists the holders of neoID's token.
func (s *Service) TokenOwners(ctx context.Context, neoID string) (types.TokenOwners, error) {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return types.TokenOwners{}, err
	}
	owners, err := r.workflow.Owners(ctx, neoID)
	if err != nil {
		return types.TokenOwners{}, err
	}
	return types.TokenOwners{NeoID: neoID, TokenID: chain.TokenID(neoID).String(), Owners: types.NewHoldings(owners)}, nil
}

// OwnedBy lists the reward tokens account holds.
func (s *Service) OwnedBy(ctx context.Context, account string) (types.OwnedTokens, error) {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return types.OwnedTokens{}, err
	}
	acc, err := winners.NormalizeAccount(account)
	if err != nil {
		return types.OwnedTokens{}, err
	}
	held, err := r.workflow.OwnedBy(ctx, acc)
	if err != nil {
		return types.OwnedTokens{}, err
	}
	return types.OwnedTokens{Account: acc, Tokens: types.NewHoldings(held)}, nil
}

// TokenInfo combines the URI, holders and NEO of neoID's token. A token never
// minted is ErrNotFound.
func (s *Service) TokenInfo(ctx context.Context, neoID string) (types.TokenInfo, error) {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return types.TokenInfo{}, err
	}
	uri, err := r.workflow.TokenURI(ctx, neoID)
	if err != nil {
		return types.TokenInfo{}, err
	}
	owners, err := r.workflow.Owners(ctx, neoID)
	if err != nil {
		return types.TokenInfo{}, err
	}
	info := types.TokenInfo{
		NeoID:   neoID,
		TokenID: chain.TokenID(neoID).String(),
		URI:     uri,
		Owners:  types.NewHoldings(owners),
	}
	for _, o := range owners {
		info.Supply += o.Amount
	}
	if n, err := r.store.Neos().Get(ctx, neoID); err == nil {
		v := types.NewNeo(n)
		info.Neo = &v
	} else if !errors.Is(err, failure.ErrNotFound) {
		return types.TokenInfo{}, fmt.Errorf("%w: get neo %s: %w", failure.ErrPersistence, neoID, err)
	}
	return info, nil
}

// ReplayAward re-sends rewards. Without arguments it transfers to the winners
// the last award pass left unrewarded; otherwise it transfers to accounts for
// neoID, whose token must already be minted.
func (s *Service) ReplayAward(ctx context.Context, neoID string, accounts []string) (types.AwardRun, error) {
	r, done, err := s.running()
	defer done()
	if err != nil {
		return types.AwardRun{}, err
	}

	var out reward.Outcome
	switch {
	case neoID == "" && len(accounts) == 0:
		out, err = r.engine.ReplayLast(ctx)
	case neoID == "" || len(accounts) == 0:
		return types.AwardRun{}, fmt.Errorf("%w: neo_id and accounts go together", failure.ErrInvalidArgument)
	default:
		out, err = r.workflow.Replay(ctx, neoID, accounts)
	}
	run := types.NewAwardRun(out)
	if err != nil && run.Error == "" {
		run.Error = err.Error()
	}
	return run, err
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":        s.started,
		"storeDriver":    s.cfg.StoreDriver,
		"metadataDriver": s.cfg.MetadataDriver,
	}
	if !s.started {
		return stats
	}

	snap := s.engine.Snapshot()
	stats["state"] = snap.State.String()
	stats["rotating"] = s.engine.Rotating()
	if snap.NEO != nil {
		stats["currentNeo"] = snap.NEO.ID
	}
	queueLen := s.triggers.Len(ctx)
	stats["triggerQueueLength"] = queueLen
	stats["triggersProcessed"] = s.dispatcher.Processed()
	stats["triggersFailed"] = s.dispatcher.Failed()
	stats["gateInFlight"] = s.gate.InFlight()
	stats["gateWaiting"] = s.gate.Waiting()
	stats["regenerationPending"] = s.quiz.RegenerationPending()
	stats["nextQuizRotation"] = s.quiz.Next()
	if q, err := s.quiz.Current(); err == nil {
		stats["currentQuiz"] = q.ID
	}
	if p, ok := s.engine.LastPass(); ok {
		last := map[string]any{
			"neoId":      p.NEO.ID,
			"winners":    len(p.Winners),
			"unrewarded": len(p.Unrewarded()),
			"at":         p.At,
		}
		if p.Err != nil {
			last["error"] = p.Err.Error()
		}
		stats["lastAwardPass"] = last
	}

	metrics.UpdateTriggerQueueSize(queueLen)
	metrics.UpdateGateInFlight(s.gate.InFlight())
	return stats
}
