package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	service "github.com/okian/neodrop/internal/app"
	"github.com/okian/neodrop/internal/adapters/feed"
	"github.com/okian/neodrop/internal/adapters/repository/memory"
	"github.com/okian/neodrop/internal/config"
	"github.com/okian/neodrop/internal/domain/failure"
	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const (
	alice = "0x52908400098527886E0F7030069857D2E4169EE7"
	bob   = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
)

var (
	today    = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	approach = time.Date(2026, 10, 20, 6, 0, 0, 0, time.UTC)
)

func candidate(id string, at time.Time, sizeFeet, missMiles float64) model.Candidate {
	return model.Candidate{
		ID:              id,
		Name:            "(" + id + ")",
		DiameterFeetMax: sizeFeet,
		Approaches:      []model.Approach{{At: at, MissDistanceMiles: missMiles, VelocityMPH: 20_000}},
	}
}

func quizzes() []model.Quiz {
	return []model.Quiz{
		{ID: "q1", Title: "Orbits", Questions: []model.Question{{Prompt: "Closest planet?", Choices: []string{"Mercury", "Venus"}, Answer: 0}}},
		{ID: "q2", Title: "Comets", Questions: []model.Question{{Prompt: "Halley period?", Choices: []string{"76y", "12y"}, Answer: 0}}},
	}
}

func newService(f *feed.Static) *service.Service {
	store := memory.New(memory.WithQuizzes(quizzes()...), memory.WithPicker(func(int) int { return 0 }))
	return service.New(
		service.WithConfig(config.New()),
		service.WithStore(store),
		service.WithFeed(f),
		service.WithClock(func() time.Time { return today }),
		service.WithLogger(logger.Nop()),
	)
}

func TestService_New(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		svc := service.New()
		ctx := context.Background()

		Convey("Then calls fail with ErrNotStarted", func() {
			_, err := svc.CurrentNeo(ctx)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(errors.Is(err, failure.ErrStopped), ShouldBeTrue)

			_, err = svc.RecordWinner(ctx, alice)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})

		Convey("And stats report it as stopped", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldBeFalse)
			So(stats["storeDriver"], ShouldEqual, config.StoreMemory)
		})

		Convey("And the state is unset", func() {
			So(svc.State().State, ShouldEqual, "unset")
		})

		Convey("And Stop is a no-op", func() {
			So(func() { svc.Stop() }, ShouldNotPanic)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a started service with two candidates", t, func() {
		ctx := context.Background()
		f := feed.NewStatic(
			candidate("1001", approach, 1200, 4_000_000),
			candidate("1002", approach.Add(time.Hour), 90, 20_000_000),
		)
		svc := newService(f)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("The first candidate is the current NEO", func() {
			n, err := svc.CurrentNeo(ctx)
			So(err, ShouldBeNil)
			So(n.ID, ShouldEqual, "1001")
			So(n.Attributes.Size, ShouldEqual, "big")

			st := svc.State()
			So(st.State, ShouldEqual, "active")
			So(st.Neo.ID, ShouldEqual, "1001")
		})

		Convey("Start is idempotent", func() {
			So(svc.Start(ctx), ShouldBeNil)
			n, _ := svc.CurrentNeo(ctx)
			So(n.ID, ShouldEqual, "1001")
		})

		Convey("Winner reports are deduplicated", func() {
			for i := 0; i < 3; i++ {
				id, err := svc.RecordWinner(ctx, alice)
				So(err, ShouldBeNil)
				So(id, ShouldEqual, "1001")
			}
			_, err := svc.RecordWinner(ctx, bob)
			So(err, ShouldBeNil)

			w, err := svc.CurrentWinners(ctx)
			So(err, ShouldBeNil)
			So(w.NeoID, ShouldEqual, "1001")
			So(len(w.Accounts), ShouldEqual, 2)
			So(w.Accounts[0].Account, ShouldEqual, alice)
		})

		Convey("Malformed accounts are rejected", func() {
			_, err := svc.RecordWinner(ctx, "not-an-address")
			So(errors.Is(err, failure.ErrInvalidAccount), ShouldBeTrue)
		})

		Convey("A forced rotation rewards the winners and installs the next NEO", func() {
			_, _ = svc.RecordWinner(ctx, alice)
			_, _ = svc.RecordWinner(ctx, bob)

			n, err := svc.ForceRotate(ctx)
			So(err, ShouldBeNil)
			So(n.ID, ShouldEqual, "1002")

			bal, err := svc.Balance(ctx, alice, "1001")
			So(err, ShouldBeNil)
			So(bal.Balance, ShouldEqual, 1)
			So(bal.TokenID, ShouldEqual, "1001")

			w, err := svc.CurrentWinners(ctx)
			So(err, ShouldBeNil)
			So(w.NeoID, ShouldEqual, "1002")
			So(w.Accounts, ShouldBeEmpty)

			Convey("and the current NEO's balance is read by default", func() {
				bal, err := svc.Balance(ctx, alice, "")
				So(err, ShouldBeNil)
				So(bal.NeoID, ShouldEqual, "1002")
				So(bal.Balance, ShouldEqual, 0)
			})

			Convey("and the token reads show who holds what", func() {
				bals, err := svc.BalanceBatch(ctx, []string{alice, bob, alice}, []string{"1001", "1001", "1002"})
				So(err, ShouldBeNil)
				So(bals, ShouldHaveLength, 3)
				So(bals[0].Balance, ShouldEqual, 1)
				So(bals[1].Balance, ShouldEqual, 1)
				So(bals[2].Balance, ShouldEqual, 0)

				uri, err := svc.TokenURI(ctx, "1001")
				So(err, ShouldBeNil)
				So(uri.URI, ShouldNotBeEmpty)
				_, err = svc.TokenURI(ctx, "1002")
				So(errors.Is(err, failure.ErrNotFound), ShouldBeTrue)

				owners, err := svc.TokenOwners(ctx, "1001")
				So(err, ShouldBeNil)
				So(owners.Owners, ShouldHaveLength, 2)

				held, err := svc.OwnedBy(ctx, bob)
				So(err, ShouldBeNil)
				So(held.Tokens, ShouldHaveLength, 1)
				So(held.Tokens[0].TokenID, ShouldEqual, "1001")

				info, err := svc.TokenInfo(ctx, "1001")
				So(err, ShouldBeNil)
				So(info.Supply, ShouldEqual, 2)
				So(info.URI, ShouldEqual, uri.URI)
				So(info.Neo, ShouldNotBeNil)
				So(info.Neo.ID, ShouldEqual, "1001")
			})

			Convey("and replaying the last pass has nothing left to send", func() {
				run, err := svc.ReplayAward(ctx, "", nil)
				So(err, ShouldBeNil)
				So(run.NeoID, ShouldEqual, "1001")
				So(run.Transfers, ShouldBeEmpty)
			})

			Convey("and an explicit replay fails once the minted units are gone", func() {
				_, err := svc.ReplayAward(ctx, "1001", []string{bob})
				So(failure.Classify(err), ShouldEqual, failure.ClassUpstream)
			})

			Convey("and the leaderboard ranks both NEOs", func() {
				top, err := svc.TopN(ctx, "size", 10)
				So(err, ShouldBeNil)
				So(len(top), ShouldEqual, 2)
				So(top[0].Neo.ID, ShouldEqual, "1001")
				So(top[0].Rank, ShouldEqual, 1)
				So(top[0].Value, ShouldEqual, 1200)

				byRange, _ := svc.TopN(ctx, "range", 1)
				So(byRange[0].Neo.ID, ShouldEqual, "1001")
			})

			Convey("and with the feed exhausted the next rotation fails", func() {
				_, err := svc.ForceRotate(ctx)
				So(errors.Is(err, failure.ErrNoEligibleCandidate), ShouldBeTrue)
				So(svc.State().State, ShouldEqual, "failed")

				_, err = svc.CurrentNeo(ctx)
				So(errors.Is(err, failure.ErrNoCurrentNeo), ShouldBeTrue)
				_, err = svc.RecordWinner(ctx, alice)
				So(errors.Is(err, failure.ErrNoCurrentNeo), ShouldBeTrue)

				Convey("until the feed has a fresh candidate", func() {
					f.Set(candidate("1003", approach, 10, 1_000))
					n, err := svc.ForceRotate(ctx)
					So(err, ShouldBeNil)
					So(n.ID, ShouldEqual, "1003")
				})
			})
		})

		Convey("Leaderboard arguments are validated", func() {
			_, err := svc.TopN(ctx, "mass", 10)
			So(errors.Is(err, failure.ErrInvalidArgument), ShouldBeTrue)
			_, err = svc.TopN(ctx, "size", 0)
			So(errors.Is(err, failure.ErrInvalidArgument), ShouldBeTrue)
		})

		Convey("Replay needs a NEO and accounts together", func() {
			_, err := svc.ReplayAward(ctx, "1001", nil)
			So(errors.Is(err, failure.ErrInvalidArgument), ShouldBeTrue)
		})

		Convey("Replaying before any award pass is not found", func() {
			_, err := svc.ReplayAward(ctx, "", nil)
			So(errors.Is(err, failure.ErrNotFound), ShouldBeTrue)
		})

		Convey("ForgetAccount removes the account's reports", func() {
			_, _ = svc.RecordWinner(ctx, alice)
			So(svc.ForgetAccount(ctx, alice), ShouldBeNil)
			w, _ := svc.CurrentWinners(ctx)
			So(w.Accounts, ShouldBeEmpty)
		})

		Convey("The quiz starts on the first bank entry and hides answers", func() {
			q, err := svc.CurrentQuiz(ctx)
			So(err, ShouldBeNil)
			So(q.ID, ShouldEqual, "q1")
			So(q.Questions[0].Choices, ShouldResemble, []string{"Mercury", "Venus"})

			Convey("and rotating moves to another quiz", func() {
				q, err := svc.RotateQuiz(ctx)
				So(err, ShouldBeNil)
				So(q.ID, ShouldEqual, "q2")
			})

			Convey("and the admin view carries the answers", func() {
				full, err := svc.QuizByID(ctx, "q2")
				So(err, ShouldBeNil)
				So(full.Questions[0].Answer, ShouldEqual, 0)
				_, err = svc.QuizByID(ctx, "missing")
				So(errors.Is(err, failure.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("Regeneration requests are pending until the next tick", func() {
			So(svc.RequestRegeneration(ctx), ShouldBeNil)
			So(svc.GetStats()["regenerationPending"], ShouldBeTrue)
		})

		Convey("Stats describe the running components", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldBeTrue)
			So(stats["state"], ShouldEqual, "active")
			So(stats["currentNeo"], ShouldEqual, "1001")
			So(stats["currentQuiz"], ShouldEqual, "q1")
			So(stats["triggerQueueLength"], ShouldEqual, 0)
			So(stats["gateInFlight"], ShouldEqual, 0)
		})

		Convey("After Stop calls fail and Stop stays safe", func() {
			svc.Stop()
			_, err := svc.CurrentNeo(ctx)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(func() { svc.Stop() }, ShouldNotPanic)
		})
	})
}

func TestService_Bootstrap(t *testing.T) {
	Convey("Given a feed with no candidates", t, func() {
		ctx := context.Background()
		f := feed.NewStatic()
		svc := newService(f)

		Convey("The service starts with the engine failed", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			So(svc.State().State, ShouldEqual, "failed")
			So(svc.State().Error, ShouldNotBeEmpty)

			Convey("and an operator rotation recovers it", func() {
				f.Set(candidate("2001", approach, 10, 1_000))
				n, err := svc.ForceRotate(ctx)
				So(err, ShouldBeNil)
				So(n.ID, ShouldEqual, "2001")
				So(svc.State().State, ShouldEqual, "active")
			})
		})
	})

	Convey("Given a configuration with an invalid quiz schedule", t, func() {
		cfg := config.New()
		cfg.QuizSchedule = "every day"
		svc := service.New(
			service.WithConfig(cfg),
			service.WithStore(memory.New()),
			service.WithFeed(feed.NewStatic()),
			service.WithLogger(logger.Nop()),
		)

		Convey("Start fails", func() {
			err := svc.Start(context.Background())
			So(errors.Is(err, failure.ErrInvalidArgument), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldBeFalse)
		})
	})
}

func TestService_WakeTimer(t *testing.T) {
	Convey("Given a NEO whose close approach is moments away", t, func() {
		ctx := context.Background()
		now := time.Now().UTC()
		cfg := config.New()
		cfg.FeedLeadDays = 0
		cfg.FeedWindowDays = 2
		f := feed.NewStatic(
			candidate("3001", now.Add(300*time.Millisecond), 10, 1_000),
			candidate("3002", now.Add(time.Hour), 20, 2_000),
		)
		svc := service.New(
			service.WithConfig(cfg),
			service.WithStore(memory.New()),
			service.WithFeed(f),
			service.WithLogger(logger.Nop()),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		first, err := svc.CurrentNeo(ctx)
		So(err, ShouldBeNil)
		So(first.ID, ShouldEqual, "3001")

		Convey("The timer queues a trigger and the dispatcher rotates", func() {
			deadline := time.Now().Add(5 * time.Second)
			var processed any
			for time.Now().Before(deadline) {
				processed = svc.GetStats()["triggersProcessed"]
				if processed == int64(1) {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			So(processed, ShouldEqual, 1)

			n, err := svc.CurrentNeo(ctx)
			So(err, ShouldBeNil)
			So(n.ID, ShouldEqual, "3002")
		})
	})
}
