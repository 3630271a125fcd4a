package model_test

import (
	"errors"
	"testing"
	"time"

	model "github.com/okian/neodrop/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestCandidateToNEO(t *testing.T) {
	convey.Convey("Given a candidate with several close approaches", t, func() {
		first := time.Date(2026, 10, 19, 4, 0, 0, 0, time.UTC)
		second := first.Add(400 * 24 * time.Hour)
		c := model.Candidate{
			ID:              "3542519",
			Name:            "(2010 PK9)",
			DiameterFeetMax: 1214.6,
			Approaches: []model.Approach{
				{At: first, MissDistanceMiles: 9_000_000, VelocityMPH: 12000},
				{At: second, MissDistanceMiles: 4_000_000, VelocityMPH: 40000},
			},
		}

		convey.Convey("When reduced", func() {
			n, err := c.ToNEO()

			convey.Convey("Then size, range and velocity follow the reduction rules", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(n.ID, convey.ShouldEqual, "3542519")
				convey.So(n.SizeFeet, convey.ShouldEqual, 1214.6)
				convey.So(n.RangeMiles, convey.ShouldEqual, 4_000_000)
				convey.So(n.VelocityMPH, convey.ShouldEqual, 40000)
				convey.So(n.CloseApproach, convey.ShouldEqual, second)
			})
		})
	})

	convey.Convey("Given malformed candidates", t, func() {
		_, errNoID := model.Candidate{Approaches: []model.Approach{{}}}.ToNEO()
		_, errNoApproach := model.Candidate{ID: "1"}.ToNEO()

		convey.Convey("Then reduction fails with ErrInvalidCandidate", func() {
			convey.So(errors.Is(errNoID, model.ErrInvalidCandidate), convey.ShouldBeTrue)
			convey.So(errors.Is(errNoApproach, model.ErrInvalidCandidate), convey.ShouldBeTrue)
		})
	})
}
