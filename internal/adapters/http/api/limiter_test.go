package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/neodrop/internal/domain/failure"
)

func TestMapLimiter(t *testing.T) {
	convey.Convey("Given a limiter of 1/s with a burst of 1", t, func() {
		l := NewMapLimiter(1, 1, time.Minute)
		now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

		convey.Convey("Each key has its own bucket", func() {
			convey.So(l.Allow("10.0.0.1", now), convey.ShouldBeTrue)
			convey.So(l.Allow("10.0.0.1", now), convey.ShouldBeFalse)
			convey.So(l.Allow("10.0.0.2", now), convey.ShouldBeTrue)
		})

		convey.Convey("Tokens refill over time", func() {
			convey.So(l.Allow("10.0.0.1", now), convey.ShouldBeTrue)
			convey.So(l.Allow("10.0.0.1", now.Add(time.Second)), convey.ShouldBeTrue)
		})

		convey.Convey("Empty keys are never limited", func() {
			for i := 0; i < 3; i++ {
				convey.So(l.Allow(" ", now), convey.ShouldBeTrue)
			}
			convey.So(l.Len(), convey.ShouldEqual, 0)
		})

		convey.Convey("Idle keys are evicted", func() {
			for i := 0; i < evictEvery-1; i++ {
				l.Allow(fmt.Sprintf("old-%d", i%4), now)
			}
			convey.So(l.Len(), convey.ShouldEqual, 4)
			l.Allow("fresh", now.Add(2*time.Minute))
			convey.So(l.Len(), convey.ShouldEqual, 1)
		})
	})

	convey.Convey("A limiter built with a zero rate allows everything", t, func() {
		l := NewMapLimiter(0, 1, 0)
		convey.So(l, convey.ShouldBeNil)
		convey.So(l.Allow("k", time.Now()), convey.ShouldBeTrue)
		convey.So(l.Len(), convey.ShouldEqual, 0)
	})
}

func TestStatusFor(t *testing.T) {
	convey.Convey("Errors map onto statuses and codes", t, func() {
		cases := []struct {
			err    error
			status int
			code   string
		}{
			{NewKind("op", ErrBadRequest), http.StatusBadRequest, "bad_request"},
			{NewKind("op", ErrUnauthorized), http.StatusUnauthorized, "unauthorized"},
			{Wrap("op", failure.ErrInvalidAccount), http.StatusBadRequest, "invalid_account"},
			{Wrap("op", failure.ErrNoCurrentNeo), http.StatusNotFound, "neo_not_set"},
			{Wrap("op", failure.ErrRotationInProgress), http.StatusConflict, "rotation_in_progress"},
			{Wrap("op", failure.ErrStopped), http.StatusServiceUnavailable, "stopped"},
			{Wrap("op", failure.ErrGateTimeout), http.StatusServiceUnavailable, "gate_timeout"},
			{Wrap("op", failure.ErrMintFailed), http.StatusBadGateway, "mint_failed"},
			{Wrap("op", errors.New("boom")), http.StatusInternalServerError, "internal_error"},
		}
		for _, c := range cases {
			status, code := statusFor(c.err)
			convey.So(status, convey.ShouldEqual, c.status)
			convey.So(code, convey.ShouldEqual, c.code)
		}
	})

	convey.Convey("OpError keeps the op, kind and cause in its message", t, func() {
		err := WrapKind("api.top", ErrBadRequest, errors.New("limit"))
		convey.So(err.Error(), convey.ShouldEqual, "api.top: bad request: limit")
		convey.So(errors.Is(err, ErrBadRequest), convey.ShouldBeTrue)
		convey.So(Wrap("op", nil), convey.ShouldBeNil)
		convey.So(WrapKind("op", ErrBadRequest, nil).Error(), convey.ShouldEqual, "op: bad request")
	})
}
