package rotation

import (
	"time"

	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/internal/domain/reward"
)

// State is the lifecycle state of the engine.
type State int

const (
	StateUnset State = iota
	StateActive
	StateEnding
	StateFailed
)

// States lists every state, for gauges.
var States = []string{StateUnset.String(), StateActive.String(), StateEnding.String(), StateFailed.String()}

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateFailed:
		return "failed"
	default:
		return "unset"
	}
}

// Snapshot is an immutable view of the engine. A rotation publishes a new
// snapshot rather than modifying the current one.
type Snapshot struct {
	State State
	NEO   *model.NEO // nil in Unset and Failed
	Err   error      // the failure that moved the engine to Failed
	Since time.Time
}

// Pass records the last award pass: who was drained and what the workflow did.
// It is kept so operators can find winners a failed pass left unrewarded.
type Pass struct {
	NEO     model.NEO
	Winners []string
	Outcome reward.Outcome
	Err     error
	At      time.Time
}

// Minted reports whether the pass got as far as minting the token.
func (p Pass) Minted() bool { return p.Outcome.Mint != nil }

// Unrewarded returns the drained winners without a successful transfer.
func (p Pass) Unrewarded() []string {
	done := make(map[string]struct{}, len(p.Outcome.Transfers))
	for _, a := range p.Outcome.Transferred() {
		done[a] = struct{}{}
	}
	out := make([]string, 0, len(p.Winners))
	for _, w := range p.Winners {
		if _, ok := done[w]; !ok {
			out = append(out, w)
		}
	}
	return out
}
