package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/neodrop/internal/adapters/http/api"
	"github.com/okian/neodrop/internal/domain/failure"
	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	adminToken = "s3cret"
	alice      = "0x52908400098527886E0F7030069857D2E4169EE7"
)

// mockDeps records calls and returns canned results.
type mockDeps struct {
	mu sync.Mutex

	neo       *types.Neo
	rotateErr error
	regens    int

	topAttr  string
	topLimit int
	topErr   error

	recorded  []string
	recordErr error
	forgotten []string

	quiz    *types.Quiz
	bank    map[string]model.Quiz
	quizErr error

	balanceAccount string
	balanceNeo     string
	batchAccounts  []string
	batchNeos      []string
	tokenNeo       string
	ownedAccount   string

	replayNeo      string
	replayAccounts []string
	replayRun      types.AwardRun
	replayErr      error
}

func (m *mockDeps) CurrentNeo(context.Context) (types.Neo, error) {
	if m.neo == nil {
		return types.Neo{}, failure.ErrNoCurrentNeo
	}
	return *m.neo, nil
}

func (m *mockDeps) ForceRotate(context.Context) (types.Neo, error) {
	if m.rotateErr != nil {
		return types.Neo{}, m.rotateErr
	}
	m.neo = &types.Neo{ID: "next"}
	return *m.neo, nil
}

func (m *mockDeps) RequestRegeneration(context.Context) error {
	m.regens++
	return nil
}

func (m *mockDeps) TopN(_ context.Context, attribute string, limit int) ([]types.TopEntry, error) {
	m.topAttr, m.topLimit = attribute, limit
	if m.topErr != nil {
		return nil, m.topErr
	}
	return []types.TopEntry{{Rank: 1, Value: 1200, Neo: types.Neo{ID: "1001"}}}, nil
}

func (m *mockDeps) RecordWinner(_ context.Context, account string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return "", m.recordErr
	}
	m.recorded = append(m.recorded, account)
	return "1001", nil
}

func (m *mockDeps) CurrentWinners(context.Context) (types.Winners, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := types.Winners{NeoID: "1001"}
	for _, a := range m.recorded {
		out.Accounts = append(out.Accounts, model.Winner{NeoID: "1001", Account: a})
	}
	return out, nil
}

func (m *mockDeps) ForgetAccount(_ context.Context, account string) error {
	m.forgotten = append(m.forgotten, account)
	return nil
}

func (m *mockDeps) CurrentQuiz(context.Context) (types.Quiz, error) {
	if m.quiz == nil {
		return types.Quiz{}, failure.ErrNoCurrentQuiz
	}
	return *m.quiz, nil
}

func (m *mockDeps) RotateQuiz(context.Context) (types.Quiz, error) {
	if m.quizErr != nil {
		return types.Quiz{}, m.quizErr
	}
	m.quiz = &types.Quiz{ID: "q2"}
	return *m.quiz, nil
}

func (m *mockDeps) QuizByID(_ context.Context, id string) (model.Quiz, error) {
	q, ok := m.bank[id]
	if !ok {
		return model.Quiz{}, fmt.Errorf("record %w", failure.ErrNotFound)
	}
	return q, nil
}

func (m *mockDeps) Balance(_ context.Context, account, neoID string) (types.Balance, error) {
	m.balanceAccount, m.balanceNeo = account, neoID
	if account == "" {
		return types.Balance{}, failure.ErrInvalidAccount
	}
	return types.Balance{Account: account, NeoID: "1001", TokenID: "1001", Balance: 1}, nil
}

func (m *mockDeps) BalanceBatch(_ context.Context, accounts, neoIDs []string) ([]types.Balance, error) {
	m.batchAccounts, m.batchNeos = accounts, neoIDs
	if len(accounts) != len(neoIDs) {
		return nil, fmt.Errorf("%w: length mismatch", failure.ErrInvalidArgument)
	}
	out := make([]types.Balance, len(accounts))
	for i := range accounts {
		out[i] = types.Balance{Account: accounts[i], NeoID: neoIDs[i], TokenID: neoIDs[i], Balance: uint64(i)}
	}
	return out, nil
}

func (m *mockDeps) TokenURI(_ context.Context, neoID string) (types.TokenURI, error) {
	m.tokenNeo = neoID
	if neoID != "1001" {
		return types.TokenURI{}, fmt.Errorf("%w: no token minted", failure.ErrNotFound)
	}
	return types.TokenURI{NeoID: neoID, TokenID: neoID, URI: "s3://drops/1001.json"}, nil
}

func (m *mockDeps) TokenOwners(_ context.Context, neoID string) (types.TokenOwners, error) {
	m.tokenNeo = neoID
	return types.TokenOwners{NeoID: neoID, TokenID: neoID, Owners: []types.Holding{{Account: alice, TokenID: neoID, Balance: 1}}}, nil
}

func (m *mockDeps) OwnedBy(_ context.Context, account string) (types.OwnedTokens, error) {
	m.ownedAccount = account
	if account != alice {
		return types.OwnedTokens{}, failure.ErrInvalidAccount
	}
	return types.OwnedTokens{Account: account, Tokens: []types.Holding{{Account: account, TokenID: "1001", Balance: 1}}}, nil
}

func (m *mockDeps) TokenInfo(_ context.Context, neoID string) (types.TokenInfo, error) {
	uri, err := m.TokenURI(context.Background(), neoID)
	if err != nil {
		return types.TokenInfo{}, err
	}
	return types.TokenInfo{NeoID: neoID, TokenID: neoID, URI: uri.URI, Supply: 1}, nil
}

func (m *mockDeps) ReplayAward(_ context.Context, neoID string, accounts []string) (types.AwardRun, error) {
	m.replayNeo, m.replayAccounts = neoID, accounts
	return m.replayRun, m.replayErr
}

type mockStatsProvider struct {
	stats map[string]any
}

func (m *mockStatsProvider) GetStats() map[string]any {
	return m.stats
}

func newMux(deps *mockDeps, opts ...api.Option) *http.ServeMux {
	mux := http.NewServeMux()
	stats := &mockStatsProvider{stats: map[string]any{"started": true, "state": "active"}}
	api.NewServer(deps, stats, opts...).Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func errorCode(w *httptest.ResponseRecorder) string {
	var resp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.Code
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps, api.WithAdminToken(adminToken))

		Convey("Health and metrics expose the Prometheus registry", func() {
			for _, path := range []string{"/healthz", "/metrics"} {
				w := do(mux, http.MethodGet, path, "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldContainSubstring, "text/plain")
			}
		})

		Convey("Stats are served as JSON", func() {
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var stats map[string]any
			So(json.Unmarshal(w.Body.Bytes(), &stats), ShouldBeNil)
			So(stats["state"], ShouldEqual, "active")
		})

		Convey("Every response carries a request id", func() {
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Header().Get("X-Request-ID"), ShouldNotBeEmpty)

			w = do(mux, http.MethodGet, "/stats", "", "X-Request-ID", "abc-123")
			So(w.Header().Get("X-Request-ID"), ShouldEqual, "abc-123")
		})

		Convey("Wrong methods are rejected by the router", func() {
			w := do(mux, http.MethodDelete, "/neo", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestNeoRoutes(t *testing.T) {
	Convey("Given the NEO routes", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps, api.WithAdminToken(adminToken))

		Convey("GET /neo without a current NEO is 404 neo_not_set", func() {
			w := do(mux, http.MethodGet, "/neo", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(errorCode(w), ShouldEqual, "neo_not_set")
		})

		Convey("GET /neo returns the current NEO", func() {
			deps.neo = &types.Neo{ID: "1001", Name: "(2010 PK9)"}
			w := do(mux, http.MethodGet, "/neo", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var n types.Neo
			So(json.Unmarshal(w.Body.Bytes(), &n), ShouldBeNil)
			So(n.ID, ShouldEqual, "1001")
		})

		Convey("PUT /neo needs the admin token", func() {
			w := do(mux, http.MethodPut, "/neo", "")
			So(w.Code, ShouldEqual, http.StatusUnauthorized)

			w = do(mux, http.MethodPut, "/neo", "", "X-Admin-Token", "wrong")
			So(w.Code, ShouldEqual, http.StatusUnauthorized)

			w = do(mux, http.MethodPut, "/neo", "", "X-Admin-Token", adminToken)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.neo.ID, ShouldEqual, "next")
		})

		Convey("PUT /neo during a rotation is 409 with Retry-After", func() {
			deps.rotateErr = failure.ErrRotationInProgress
			w := do(mux, http.MethodPut, "/neo", "", "X-Admin-Token", adminToken)
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(errorCode(w), ShouldEqual, "rotation_in_progress")
			So(w.Header().Get("Retry-After"), ShouldEqual, "1")
		})

		Convey("A failed selection is an upstream error", func() {
			deps.rotateErr = fmt.Errorf("%w: all used", failure.ErrNoEligibleCandidate)
			w := do(mux, http.MethodPut, "/neo", "", "X-Admin-Token", adminToken)
			So(w.Code, ShouldEqual, http.StatusBadGateway)
			So(errorCode(w), ShouldEqual, "no_eligible_candidate")
		})

		Convey("POST /neo/regenerate schedules a regeneration", func() {
			w := do(mux, http.MethodPost, "/neo/regenerate", "", "X-Admin-Token", adminToken)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(deps.regens, ShouldEqual, 1)
		})

		Convey("GET /neo/top/{attribute} passes the attribute and limit", func() {
			w := do(mux, http.MethodGet, "/neo/top/size?limit=3", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.topAttr, ShouldEqual, "size")
			So(deps.topLimit, ShouldEqual, 3)

			Convey("with a default limit", func() {
				do(mux, http.MethodGet, "/neo/top/range", "")
				So(deps.topLimit, ShouldEqual, 10)
			})
		})

		Convey("GET /neo/top rejects a bad limit", func() {
			for _, q := range []string{"0", "-1", "ten"} {
				w := do(mux, http.MethodGet, "/neo/top/size?limit="+q, "")
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "bad_request")
			}
		})

		Convey("An unknown attribute is a client error", func() {
			deps.topErr = fmt.Errorf("%w: unknown attribute", failure.ErrInvalidArgument)
			w := do(mux, http.MethodGet, "/neo/top/mass", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "invalid_argument")
		})
	})
}

func TestAdminDisabled(t *testing.T) {
	Convey("Without an admin token operator routes are forbidden", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		for _, r := range []struct{ method, path string }{
			{http.MethodPut, "/neo"},
			{http.MethodPost, "/neo/regenerate"},
			{http.MethodPut, "/quiz"},
			{http.MethodGet, "/quiz/q1"},
			{http.MethodDelete, "/winners/" + alice},
			{http.MethodPost, "/admin/awards/replay"},
		} {
			w := do(mux, r.method, r.path, "", "X-Admin-Token", "")
			So(w.Code, ShouldEqual, http.StatusForbidden)
			So(errorCode(w), ShouldEqual, "admin_disabled")
		}
		So(deps.regens, ShouldEqual, 0)
	})
}

func TestWinnerRoutes(t *testing.T) {
	Convey("Given the winner routes", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps, api.WithAdminToken(adminToken), api.WithWinnerRateLimit(1000, 1000))

		Convey("POST /winners records the account", func() {
			w := do(mux, http.MethodPost, "/winners", `{"account":"`+alice+`"}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			var resp map[string]string
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp["status"], ShouldEqual, "recorded")
			So(resp["neo_id"], ShouldEqual, "1001")

			w = do(mux, http.MethodGet, "/winners", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var list types.Winners
			So(json.Unmarshal(w.Body.Bytes(), &list), ShouldBeNil)
			So(len(list.Accounts), ShouldEqual, 1)
		})

		Convey("Malformed bodies are rejected", func() {
			for _, body := range []string{`{`, `{"account":""}`, `{"acct":"x"}`} {
				w := do(mux, http.MethodPost, "/winners", body)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			}
			w := do(mux, http.MethodPost, "/winners", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("An invalid account is 400 invalid_account", func() {
			deps.recordErr = fmt.Errorf("%w: %q", failure.ErrInvalidAccount, "bob")
			w := do(mux, http.MethodPost, "/winners", `{"account":"bob"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "invalid_account")
		})

		Convey("Reports during a rotation are 409", func() {
			deps.recordErr = failure.ErrRotationInProgress
			w := do(mux, http.MethodPost, "/winners", `{"account":"`+alice+`"}`)
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(w.Header().Get("Retry-After"), ShouldEqual, "1")
		})

		Convey("Persistence failures are 500", func() {
			deps.recordErr = fmt.Errorf("%w: disk full", failure.ErrPersistence)
			w := do(mux, http.MethodPost, "/winners", `{"account":"`+alice+`"}`)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(errorCode(w), ShouldEqual, "internal_error")
		})

		Convey("DELETE /winners/{account} forgets the account", func() {
			w := do(mux, http.MethodDelete, "/winners/"+alice, "", "X-Admin-Token", adminToken)
			So(w.Code, ShouldEqual, http.StatusNoContent)
			So(deps.forgotten, ShouldResemble, []string{alice})
		})
	})

	Convey("Given a tight winner rate limit", t, func() {
		deps := &mockDeps{}
		now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
		mux := newMux(deps,
			api.WithWinnerRateLimit(1, 2),
			api.WithClock(func() time.Time { return now }),
		)
		body := `{"account":"` + alice + `"}`

		Convey("The burst passes and the next report is 429", func() {
			So(do(mux, http.MethodPost, "/winners", body).Code, ShouldEqual, http.StatusOK)
			So(do(mux, http.MethodPost, "/winners", body).Code, ShouldEqual, http.StatusOK)

			w := do(mux, http.MethodPost, "/winners", body)
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(errorCode(w), ShouldEqual, "rate_limited")
			So(len(deps.recorded), ShouldEqual, 2)

			Convey("and reads are not limited", func() {
				So(do(mux, http.MethodGet, "/winners", "").Code, ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestQuizRoutes(t *testing.T) {
	Convey("Given the quiz routes", t, func() {
		deps := &mockDeps{bank: map[string]model.Quiz{
			"q1": {ID: "q1", Questions: []model.Question{{Prompt: "p", Choices: []string{"a", "b"}, Answer: 1}}},
		}}
		mux := newMux(deps, api.WithAdminToken(adminToken))

		Convey("GET /quiz without a quiz is 404 quiz_not_set", func() {
			w := do(mux, http.MethodGet, "/quiz", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(errorCode(w), ShouldEqual, "quiz_not_set")
		})

		Convey("PUT /quiz rotates and GET /quiz shows the new quiz", func() {
			w := do(mux, http.MethodPut, "/quiz", "", "X-Admin-Token", adminToken)
			So(w.Code, ShouldEqual, http.StatusOK)

			w = do(mux, http.MethodGet, "/quiz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"q2"`)
		})

		Convey("GET /quiz/{id} returns the answers to operators", func() {
			w := do(mux, http.MethodGet, "/quiz/q1", "", "X-Admin-Token", adminToken)
			So(w.Code, ShouldEqual, http.StatusOK)
			var q model.Quiz
			So(json.Unmarshal(w.Body.Bytes(), &q), ShouldBeNil)
			So(q.Questions[0].Answer, ShouldEqual, 1)

			w = do(mux, http.MethodGet, "/quiz/nope", "", "X-Admin-Token", adminToken)
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(errorCode(w), ShouldEqual, "not_found")
		})
	})
}

func TestRewardRoutes(t *testing.T) {
	Convey("Given the reward routes", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps, api.WithAdminToken(adminToken))

		Convey("GET /nft/balance forwards the query", func() {
			w := do(mux, http.MethodGet, "/nft/balance?account="+alice+"&neo_id=1001", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.balanceAccount, ShouldEqual, alice)
			So(deps.balanceNeo, ShouldEqual, "1001")

			w = do(mux, http.MethodGet, "/nft/balance", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("POST /nft/balance/batch pairs accounts with NEO ids", func() {
			body := `{"accounts":["` + alice + `","` + alice + `"],"neo_ids":["1001","1002"]}`
			w := do(mux, http.MethodPost, "/nft/balance/batch", body)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.batchNeos, ShouldResemble, []string{"1001", "1002"})

			var resp struct {
				Balances []types.Balance `json:"balances"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Balances, ShouldHaveLength, 2)
			So(resp.Balances[1].NeoID, ShouldEqual, "1002")

			w = do(mux, http.MethodPost, "/nft/balance/batch", `{"accounts":["`+alice+`"],"neo_ids":[]}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			w = do(mux, http.MethodPost, "/nft/balance/batch", `{"owners":[]}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("GET /nft/uri/{neo_id} returns the metadata location", func() {
			w := do(mux, http.MethodGet, "/nft/uri/1001", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var uri types.TokenURI
			So(json.Unmarshal(w.Body.Bytes(), &uri), ShouldBeNil)
			So(uri.URI, ShouldEqual, "s3://drops/1001.json")

			w = do(mux, http.MethodGet, "/nft/uri/42", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("GET /nft/owners/{neo_id} lists holders", func() {
			w := do(mux, http.MethodGet, "/nft/owners/1001", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.tokenNeo, ShouldEqual, "1001")
			var owners types.TokenOwners
			So(json.Unmarshal(w.Body.Bytes(), &owners), ShouldBeNil)
			So(owners.Owners, ShouldHaveLength, 1)
		})

		Convey("GET /nft/owned/{account} lists the account's tokens", func() {
			w := do(mux, http.MethodGet, "/nft/owned/"+alice, "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.ownedAccount, ShouldEqual, alice)

			w = do(mux, http.MethodGet, "/nft/owned/bob", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("GET /nft/info/{neo_id} describes the token", func() {
			w := do(mux, http.MethodGet, "/nft/info/1001", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var info types.TokenInfo
			So(json.Unmarshal(w.Body.Bytes(), &info), ShouldBeNil)
			So(info.Supply, ShouldEqual, 1)

			w = do(mux, http.MethodGet, "/nft/info/42", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("An empty replay body replays the last pass", func() {
			deps.replayRun = types.AwardRun{NeoID: "1001", Transfers: []types.Transfer{{Account: alice}}}
			w := do(mux, http.MethodPost, "/admin/awards/replay", "", "X-Admin-Token", adminToken)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.replayNeo, ShouldBeEmpty)
			So(deps.replayAccounts, ShouldBeNil)
		})

		Convey("An explicit replay passes the accounts", func() {
			body := `{"neo_id":"1001","accounts":["` + alice + `"]}`
			w := do(mux, http.MethodPost, "/admin/awards/replay", body, "X-Admin-Token", adminToken)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.replayNeo, ShouldEqual, "1001")
			So(deps.replayAccounts, ShouldResemble, []string{alice})
		})

		Convey("A failed replay reports the partial run", func() {
			deps.replayRun = types.AwardRun{NeoID: "1001", Error: "transfer 0 failed"}
			deps.replayErr = &failure.TransferError{Index: 0, Account: alice, Err: fmt.Errorf("reverted")}
			w := do(mux, http.MethodPost, "/admin/awards/replay", "", "X-Admin-Token", adminToken)
			So(w.Code, ShouldEqual, http.StatusBadGateway)

			var resp struct {
				Code string          `json:"code"`
				Run  *types.AwardRun `json:"run"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Code, ShouldEqual, "transfer_failed")
			So(resp.Run, ShouldNotBeNil)
			So(resp.Run.NeoID, ShouldEqual, "1001")
		})

		Convey("Replay with nothing to replay is 404", func() {
			deps.replayErr = fmt.Errorf("%w: no award pass yet", failure.ErrNotFound)
			w := do(mux, http.MethodPost, "/admin/awards/replay", "", "X-Admin-Token", adminToken)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}
