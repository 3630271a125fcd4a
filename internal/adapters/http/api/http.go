// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	NeoDependencies
	WinnerDependencies
	QuizDependencies
	RewardDependencies
}

// NeoDependencies covers the current NEO and the NEO history.
type NeoDependencies interface {
	CurrentNeo(ctx context.Context) (types.Neo, error)
	ForceRotate(ctx context.Context) (types.Neo, error)
	RequestRegeneration(ctx context.Context) error
	TopN(ctx context.Context, attribute string, limit int) ([]types.TopEntry, error)
}

// WinnerDependencies covers the winners ledger.
type WinnerDependencies interface {
	RecordWinner(ctx context.Context, account string) (string, error)
	CurrentWinners(ctx context.Context) (types.Winners, error)
	ForgetAccount(ctx context.Context, account string) error
}

// QuizDependencies covers the daily quiz.
type QuizDependencies interface {
	CurrentQuiz(ctx context.Context) (types.Quiz, error)
	RotateQuiz(ctx context.Context) (types.Quiz, error)
	QuizByID(ctx context.Context, id string) (model.Quiz, error)
}

// RewardDependencies covers token balances and award replays.
type RewardDependencies interface {
	Balance(ctx context.Context, account, neoID string) (types.Balance, error)
	BalanceBatch(ctx context.Context, accounts, neoIDs []string) ([]types.Balance, error)
	TokenURI(ctx context.Context, neoID string) (types.TokenURI, error)
	TokenOwners(ctx context.Context, neoID string) (types.TokenOwners, error)
	OwnedBy(ctx context.Context, account string) (types.OwnedTokens, error)
	TokenInfo(ctx context.Context, neoID string) (types.TokenInfo, error)
	ReplayAward(ctx context.Context, neoID string, accounts []string) (types.AwardRun, error)
}

const (
	defaultTopLimit      = 10
	defaultLimiterIdle   = 10 * time.Minute
	defaultWinnerRate    = 5
	defaultWinnerBurst   = 10
	retryAfterRotationS  = "1"
	headerAdminToken     = "X-Admin-Token"
	headerRequestID      = "X-Request-ID"
	contentTypeJSONUTF8  = "application/json; charset=utf-8"
	maxRequestBodyBytes  = 1 << 20
	endpointWinnersWrite = "winners_post"
)

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	neoHandler    *NeoHandler
	winners       *WinnersHandler
	quizHandler   *QuizHandler
	rewards       *RewardsHandler

	adminToken  string
	winnerRate  float64
	winnerBurst int
	now         func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithAdminToken sets the token operator routes require in X-Admin-Token.
// Without one the operator routes answer 403.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// WithWinnerRateLimit limits winner reports per client address.
func WithWinnerRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 && burst > 0 {
			s.winnerRate = perSecond
			s.winnerBurst = burst
		}
	}
}

// WithClock overrides the clock used by the rate limiter.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		neoHandler:    NewNeoHandler(deps),
		winners:       NewWinnersHandler(deps),
		quizHandler:   NewQuizHandler(deps),
		rewards:       NewRewardsHandler(deps),
		winnerRate:    defaultWinnerRate,
		winnerBurst:   defaultWinnerBurst,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	admin := AdminOnly(s.adminToken)
	limiter := NewMapLimiter(s.winnerRate, s.winnerBurst, defaultLimiterIdle)

	route := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, RequestID(MetricsMiddleware(h, endpoint)))
	}

	route("GET /healthz", "healthz", s.healthHandler.HandleHealth)
	route("GET /metrics", "metrics", s.healthHandler.HandleMetrics)
	route("GET /stats", "stats", s.statsHandler.HandleStats)

	route("GET /neo", "neo_get", s.neoHandler.HandleGetNeo)
	route("PUT /neo", "neo_put", admin(s.neoHandler.HandleRotate))
	route("POST /neo/regenerate", "neo_regenerate", admin(s.neoHandler.HandleRegenerate))
	route("GET /neo/top/{attribute}", "neo_top", s.neoHandler.HandleTop)

	route("POST /winners", endpointWinnersWrite,
		RateLimit(limiter, endpointWinnersWrite, s.now, s.winners.HandleRecord))
	route("GET /winners", "winners_get", s.winners.HandleList)
	route("DELETE /winners/{account}", "winners_delete", admin(s.winners.HandleForget))

	route("GET /quiz", "quiz_get", s.quizHandler.HandleCurrent)
	route("PUT /quiz", "quiz_put", admin(s.quizHandler.HandleRotate))
	route("GET /quiz/{id}", "quiz_by_id", admin(s.quizHandler.HandleByID))

	route("GET /nft/balance", "nft_balance", s.rewards.HandleBalance)
	route("POST /nft/balance/batch", "nft_balance_batch", s.rewards.HandleBalanceBatch)
	route("GET /nft/uri/{neo_id}", "nft_uri", s.rewards.HandleURI)
	route("GET /nft/owners/{neo_id}", "nft_owners", s.rewards.HandleOwners)
	route("GET /nft/owned/{account}", "nft_owned", s.rewards.HandleOwnedBy)
	route("GET /nft/info/{neo_id}", "nft_info", s.rewards.HandleInfo)
	route("POST /admin/awards/replay", "awards_replay", admin(s.rewards.HandleReplay))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSONUTF8)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure answers with the status and code statusFor derives from err.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status == http.StatusConflict || status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterRotationS)
	}
	writeError(w, status, code, err)
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
