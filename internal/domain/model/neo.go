// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidCandidate is returned when a feed row cannot be reduced to a NEO.
var ErrInvalidCandidate = errors.New("invalid candidate")

// NEO is the featured near-earth object of a cycle. It is immutable once installed;
// a rotation replaces the whole value.
type NEO struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	CloseApproach time.Time `json:"close_approach"` // UTC
	SizeFeet      float64   `json:"size_feet"`
	RangeMiles    float64   `json:"range_miles"`
	VelocityMPH   float64   `json:"velocity_mph"`
}

// Approach is one close-approach sample reported by the feed for a candidate.
type Approach struct {
	At                time.Time `yaml:"at"`
	MissDistanceMiles float64   `yaml:"miss_distance_miles"`
	VelocityMPH       float64   `yaml:"velocity_mph"`
}

// Candidate is a feed row before reduction.
type Candidate struct {
	ID              string     `yaml:"id"`
	Name            string     `yaml:"name"`
	DiameterFeetMax float64    `yaml:"diameter_feet_max"`
	Hazardous       bool       `yaml:"hazardous"`
	Approaches      []Approach `yaml:"approaches"`
}

// ToNEO reduces the candidate to the measurements used by the game:
// size is the maximum estimated diameter, range the smallest miss distance,
// velocity the largest relative velocity. The close-approach instant is the
// instant of the closest pass.
func (c Candidate) ToNEO() (NEO, error) {
	if c.ID == "" {
		return NEO{}, fmt.Errorf("%w: empty id", ErrInvalidCandidate)
	}
	if len(c.Approaches) == 0 {
		return NEO{}, fmt.Errorf("%w: %s has no close approaches", ErrInvalidCandidate, c.ID)
	}

	n := NEO{
		ID:         c.ID,
		Name:       c.Name,
		SizeFeet:   c.DiameterFeetMax,
		RangeMiles: math.Inf(1),
	}
	for _, a := range c.Approaches {
		if a.MissDistanceMiles < n.RangeMiles {
			n.RangeMiles = a.MissDistanceMiles
			n.CloseApproach = a.At.UTC()
		}
		if a.VelocityMPH > n.VelocityMPH {
			n.VelocityMPH = a.VelocityMPH
		}
	}
	return n, nil
}

// Winner is one (neo, account) entry of the winners ledger.
type Winner struct {
	NeoID      string    `json:"neo_id"`
	Account    string    `json:"account"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Question is a single quiz prompt.
type Question struct {
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices"`
	Answer  int      `json:"answer"`
}

// Quiz is the daily quiz shown to players.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Trigger asks the rotation dispatcher to run a rotation.
type Trigger struct {
	Reason string
	Force  bool
	At     time.Time
}

// Trigger reasons.
const (
	ReasonWakeTimer    = "wake_timer"
	ReasonRegeneration = "regeneration"
	ReasonOperator     = "operator"
	ReasonBootstrap    = "bootstrap"
)
