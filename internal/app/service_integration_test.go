package service_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	service "github.com/okian/neodrop/internal/app"
	"github.com/okian/neodrop/internal/config"
	"github.com/okian/neodrop/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

const fixture = `
candidates:
  - id: "3542519"
    name: "(2010 PK9)"
    diameter_feet_max: 1200
    approaches:
      - at: 2026-10-20T06:00:00Z
        miss_distance_miles: 4000000
        velocity_mph: 20000
      - at: 2026-10-20T09:00:00Z
        miss_distance_miles: 5000000
        velocity_mph: 21000
  - id: "2001036"
    name: "1036 Ganymed"
    diameter_feet_max: 130000
    approaches:
      - at: 2026-10-20T18:00:00Z
        miss_distance_miles: 35000000
        velocity_mph: 30000
  - id: "54321"
    name: "(out of window)"
    diameter_feet_max: 50
    approaches:
      - at: 2026-11-02T00:00:00Z
        miss_distance_miles: 100
        velocity_mph: 100
quizzes:
  - id: q-orbits
    title: Orbits
    questions:
      - prompt: Which planet is closest to the sun?
        choices: [Mercury, Venus, Earth]
        answer: 0
`

func TestServiceIntegration(t *testing.T) {
	Convey("Given a service on a sqlite store fed from a fixture file", t, func() {
		dir := t.TempDir()
		feedPath := filepath.Join(dir, "feed.yaml")
		So(os.WriteFile(feedPath, []byte(fixture), 0o600), ShouldBeNil)

		cfg := config.New()
		cfg.StoreDriver = config.StoreSQLite
		cfg.SQLitePath = filepath.Join(dir, "neodrop.db")
		cfg.FeedFile = feedPath
		cfg.MetadataBaseURL = "https://meta.example"
		cfg.ImageBaseURL = "https://img.example/layers"

		start := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
		svc := service.New(
			service.WithConfig(cfg),
			service.WithClock(func() time.Time { return start }),
			service.WithLogger(logger.Nop()),
		)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("The first in-window candidate is installed with the closest pass", func() {
			n, err := svc.CurrentNeo(ctx)
			So(err, ShouldBeNil)
			So(n.ID, ShouldEqual, "3542519")
			So(n.RangeMiles, ShouldEqual, 4_000_000)
			So(n.VelocityMPH, ShouldEqual, 21_000)
			So(n.CloseApproach.Equal(time.Date(2026, 10, 20, 6, 0, 0, 0, time.UTC)), ShouldBeTrue)
		})

		Convey("The quiz bank is seeded from the fixture", func() {
			q, err := svc.CurrentQuiz(ctx)
			So(err, ShouldBeNil)
			So(q.ID, ShouldEqual, "q-orbits")
			So(q.Questions[0].Choices, ShouldResemble, []string{"Mercury", "Venus", "Earth"})
		})

		Convey("A full cycle rewards the winners", func() {
			accounts := []string{
				"0x52908400098527886E0F7030069857D2E4169EE7",
				"0x8617E340B3D01FA5F11F306F4090FD50E238070D",
				"0xde709f2102306220921060314715629080e2fb77",
			}
			for _, a := range accounts {
				_, err := svc.RecordWinner(ctx, a)
				So(err, ShouldBeNil)
				_, err = svc.RecordWinner(ctx, a)
				So(err, ShouldBeNil)
			}

			next, err := svc.ForceRotate(ctx)
			So(err, ShouldBeNil)
			So(next.ID, ShouldEqual, "2001036")

			for _, a := range accounts {
				bal, err := svc.Balance(ctx, a, "3542519")
				So(err, ShouldBeNil)
				So(bal.Balance, ShouldEqual, 1)
			}

			w, err := svc.CurrentWinners(ctx)
			So(err, ShouldBeNil)
			So(w.Accounts, ShouldBeEmpty)

			top, err := svc.TopN(ctx, "size", 5)
			So(err, ShouldBeNil)
			So(len(top), ShouldEqual, 2)
			So(top[0].Neo.ID, ShouldEqual, "2001036")

			stats := svc.GetStats()
			So(stats["storeDriver"], ShouldEqual, config.StoreSQLite)
			last := stats["lastAwardPass"].(map[string]any)
			So(last["neoId"], ShouldEqual, "3542519")
			So(last["winners"], ShouldEqual, 3)
			So(last["unrewarded"], ShouldEqual, 0)
		})

		Convey("A restart skips NEOs already in the history", func() {
			svc.Stop()

			restarted := service.New(
				service.WithConfig(cfg),
				service.WithClock(func() time.Time { return start }),
				service.WithLogger(logger.Nop()),
			)
			So(restarted.Start(ctx), ShouldBeNil)
			defer restarted.Stop()

			n, err := restarted.CurrentNeo(ctx)
			So(err, ShouldBeNil)
			So(n.ID, ShouldEqual, "2001036")
		})
	})
}
