// Package attributes classifies a NEO's measurements into the coarse labels used
// for reward metadata and image selection.
package attributes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/okian/neodrop/internal/domain/model"
)

// ErrUnknownAttribute is returned by Parse for names outside Size, Range and Velocity.
var ErrUnknownAttribute = errors.New("unknown attribute")

// Attribute names one of the three measured dimensions.
type Attribute string

const (
	Size     Attribute = "size"
	Range    Attribute = "range"
	Velocity Attribute = "velocity"
)

// All lists the attributes in metadata order.
var All = []Attribute{Size, Range, Velocity}

// Parse resolves a case-insensitive attribute name.
func Parse(s string) (Attribute, error) {
	switch a := Attribute(strings.ToLower(strings.TrimSpace(s))); a {
	case Size, Range, Velocity:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAttribute, s)
	}
}

// Ascending reports the leaderboard order for the attribute: the closest
// range wins, while size and velocity rank the largest first.
func (a Attribute) Ascending() bool {
	return a == Range
}

// Label values.
const (
	Small   = "small"
	Big     = "big"
	Close   = "close"
	Far     = "far"
	Slow    = "slow"
	Fast    = "fast"
	Average = "average"
)

// Band is the interquartile band of a measurement. Values below Low take the low
// label, values above High the high label, and everything in [Low, High] is average.
type Band struct {
	Low       float64
	High      float64
	LowLabel  string
	HighLabel string
}

func (b Band) label(v float64) string {
	switch {
	case v < b.Low:
		return b.LowLabel
	case v > b.High:
		return b.HighLabel
	default:
		return Average
	}
}

// Percentiles of the historical NEO population (25th and 75th).
var (
	SizeBand     = Band{Low: 141.07612, High: 918.6351999999999, LowLabel: Small, HighLabel: Big}
	RangeBand    = Band{Low: 5389472, High: 14649843, LowLabel: Close, HighLabel: Far}
	VelocityBand = Band{Low: 15986, High: 32580, LowLabel: Slow, HighLabel: Fast}
)

// Attributes holds the derived labels. It is never persisted.
type Attributes struct {
	Size     string `json:"size"`
	Range    string `json:"range"`
	Velocity string `json:"velocity"`
}

// Get returns the label for attribute a.
func (at Attributes) Get(a Attribute) string {
	switch a {
	case Size:
		return at.Size
	case Range:
		return at.Range
	case Velocity:
		return at.Velocity
	}
	return ""
}

// Classify labels the NEO using the default bands. It is total and deterministic;
// NaN falls into the average band since it compares false against both bounds.
func Classify(n model.NEO) Attributes {
	return Attributes{
		Size:     SizeBand.label(n.SizeFeet),
		Range:    RangeBand.label(n.RangeMiles),
		Velocity: VelocityBand.label(n.VelocityMPH),
	}
}

// Value returns the raw measurement of n for attribute a.
func Value(n model.NEO, a Attribute) float64 {
	switch a {
	case Size:
		return n.SizeFeet
	case Range:
		return n.RangeMiles
	case Velocity:
		return n.VelocityMPH
	}
	return 0
}
