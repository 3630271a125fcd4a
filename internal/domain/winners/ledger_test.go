package winners_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/neodrop/internal/adapters/repository/memory"
	"github.com/okian/neodrop/internal/domain/failure"
	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/internal/domain/winners"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	alice = "0x52908400098527886E0F7030069857D2E4169EE7"
	bob   = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
)

// flakyStore fails Upsert until healed.
type flakyStore struct {
	winners.Store
	mu     sync.Mutex
	broken bool
	calls  int
}

func (f *flakyStore) Upsert(ctx context.Context, w model.Winner) (bool, error) {
	f.mu.Lock()
	f.calls++
	broken := f.broken
	f.mu.Unlock()
	if broken {
		return false, errors.New("connection reset")
	}
	return f.Store.Upsert(ctx, w)
}

func TestRecord(t *testing.T) {
	ctx := context.Background()

	Convey("Given a ledger over an empty store", t, func() {
		store := memory.New().Winners()
		l := winners.New(store)

		Convey("Recording the same account many times keeps one entry", func() {
			for i := 0; i < 5; i++ {
				So(l.Record(ctx, "neo-1", alice), ShouldBeNil)
			}
			got, err := l.Drain(ctx, "neo-1")
			So(err, ShouldBeNil)
			So(got, ShouldResemble, []string{alice})
		})

		Convey("Lower-case input is stored in checksum form and still deduplicates", func() {
			So(l.Record(ctx, "neo-1", "0x52908400098527886e0f7030069857d2e4169ee7"), ShouldBeNil)
			So(l.Record(ctx, "neo-1", alice), ShouldBeNil)
			got, _ := l.Drain(ctx, "neo-1")
			So(got, ShouldResemble, []string{alice})
		})

		Convey("Concurrent duplicate reports leave one entry", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = l.Record(ctx, "neo-1", bob)
				}()
			}
			wg.Wait()
			got, _ := l.Drain(ctx, "neo-1")
			So(len(got), ShouldEqual, 1)
		})

		Convey("Invalid accounts are rejected as client errors", func() {
			for _, bad := range []string{"", "bob", "0x123", "0x0000000000000000000000000000000000000000"} {
				err := l.Record(ctx, "neo-1", bad)
				So(errors.Is(err, failure.ErrInvalidAccount), ShouldBeTrue)
			}
		})

		Convey("A missing NEO id is reported as not set", func() {
			So(errors.Is(l.Record(ctx, "", alice), failure.ErrNoCurrentNeo), ShouldBeTrue)
		})

		Convey("Drain does not delete and Clear does", func() {
			So(l.Record(ctx, "neo-1", alice), ShouldBeNil)
			So(l.Record(ctx, "neo-1", bob), ShouldBeNil)

			first, _ := l.Drain(ctx, "neo-1")
			second, _ := l.Drain(ctx, "neo-1")
			So(second, ShouldResemble, first)
			So(first, ShouldResemble, []string{alice, bob})

			So(l.Clear(ctx, "neo-1"), ShouldBeNil)
			after, _ := l.Drain(ctx, "neo-1")
			So(after, ShouldBeEmpty)

			Convey("and the pair can be recorded again afterwards", func() {
				So(l.Record(ctx, "neo-1", alice), ShouldBeNil)
				again, _ := l.Drain(ctx, "neo-1")
				So(again, ShouldResemble, []string{alice})
			})
		})

		Convey("ForgetAccount removes the account everywhere", func() {
			So(l.Record(ctx, "neo-1", alice), ShouldBeNil)
			So(l.Record(ctx, "neo-2", alice), ShouldBeNil)
			So(l.ForgetAccount(ctx, alice), ShouldBeNil)
			a, _ := l.Drain(ctx, "neo-1")
			b, _ := l.Drain(ctx, "neo-2")
			So(a, ShouldBeEmpty)
			So(b, ShouldBeEmpty)
		})
	})

	Convey("Given a store that fails writes", t, func() {
		store := &flakyStore{Store: memory.New().Winners(), broken: true}
		l := winners.New(store)

		err := l.Record(ctx, "neo-1", alice)

		Convey("The failure is a persistence error", func() {
			So(errors.Is(err, failure.ErrPersistence), ShouldBeTrue)
		})

		Convey("A retry after recovery reaches the store", func() {
			store.mu.Lock()
			store.broken = false
			store.mu.Unlock()

			So(l.Record(ctx, "neo-1", alice), ShouldBeNil)
			So(store.calls, ShouldEqual, 2)
			got, _ := l.Drain(ctx, "neo-1")
			So(got, ShouldResemble, []string{alice})
		})
	})
}

// stallingStore holds every Upsert until release is closed, then fails it.
type stallingStore struct {
	winners.Store
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (s *stallingStore) Upsert(ctx context.Context, w model.Winner) (bool, error) {
	s.calls.Add(1)
	s.entered <- struct{}{}
	<-s.release
	return false, errors.New("disk full")
}

func TestRecordInFlight(t *testing.T) {
	ctx := context.Background()

	Convey("Given a write of a pair still in flight", t, func() {
		store := &stallingStore{
			Store:   memory.New().Winners(),
			entered: make(chan struct{}, 4),
			release: make(chan struct{}),
		}
		l := winners.New(store)

		first := make(chan error, 1)
		go func() { first <- l.Record(ctx, "neo-1", alice) }()
		<-store.entered

		second := make(chan error, 1)
		go func() { second <- l.Record(ctx, "neo-1", alice) }()

		Convey("A duplicate report waits for it and shares its failure", func() {
			var early error
			settled := false
			select {
			case early = <-second:
				settled = true
			case <-time.After(50 * time.Millisecond):
			}
			So(settled, ShouldBeFalse)
			So(early, ShouldBeNil)
			close(store.release)

			So(errors.Is(<-first, failure.ErrPersistence), ShouldBeTrue)
			So(errors.Is(<-second, failure.ErrPersistence), ShouldBeTrue)
			So(store.calls.Load(), ShouldBeGreaterThanOrEqualTo, 1)

			got, _ := l.Drain(ctx, "neo-1")
			So(got, ShouldBeEmpty)
		})
	})
}

type fixedCycle struct {
	id  string
	err error
}

func (c fixedCycle) WithOpenNeo(fn func(string) error) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.id, fn(c.id)
}

func TestRecordCurrent(t *testing.T) {
	ctx := context.Background()

	Convey("Recording against the open cycle", t, func() {
		l := winners.New(memory.New().Winners())

		Convey("uses the cycle's NEO id", func() {
			id, err := l.RecordCurrent(ctx, fixedCycle{id: "neo-7"}, alice)
			So(err, ShouldBeNil)
			So(id, ShouldEqual, "neo-7")
			got, _ := l.Drain(ctx, "neo-7")
			So(got, ShouldResemble, []string{alice})
		})

		Convey("passes through the cycle's refusal", func() {
			_, err := l.RecordCurrent(ctx, fixedCycle{err: failure.ErrRotationInProgress}, alice)
			So(errors.Is(err, failure.ErrRotationInProgress), ShouldBeTrue)
			_, err = l.RecordCurrent(ctx, fixedCycle{err: failure.ErrNoCurrentNeo}, alice)
			So(errors.Is(err, failure.ErrNoCurrentNeo), ShouldBeTrue)
		})
	})
}
