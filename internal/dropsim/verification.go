package dropsim

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/neodrop/internal/domain/types"
	"github.com/okian/neodrop/pkg/logger"
)

// Verification errors.
var (
	ErrDuplicateWinner = errors.New("account listed more than once")
	ErrMissingWinner   = errors.New("recorded account not listed")
	ErrNeoChanged      = errors.New("current neo changed during the run")
)

// verifyWinners checks the ledger after a run: no account is listed twice and,
// when no report failed, every generated account is listed.
func verifyWinners(ctx context.Context, neoID string, accounts []string, listed types.Winners, stats *Stats) error {
	if neoID != "" && listed.NeoID != neoID {
		return fmt.Errorf("%w: %s, now %s", ErrNeoChanged, neoID, listed.NeoID)
	}

	ours := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		ours[a] = struct{}{}
	}

	seen := make(map[string]struct{}, len(listed.Accounts))
	for _, w := range listed.Accounts {
		if _, dup := seen[w.Account]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateWinner, w.Account)
		}
		seen[w.Account] = struct{}{}
		if _, ok := ours[w.Account]; ok {
			stats.WinnersListed++
		}
	}

	if stats.ReportsFailed == 0 {
		var missing []string
		for _, a := range accounts {
			if _, ok := seen[a]; !ok {
				missing = append(missing, a)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %d of %d, first %s", ErrMissingWinner, len(missing), len(accounts), missing[0])
		}
	}

	logger.Get().Info(ctx, "winners verified",
		logger.String("neo_id", listed.NeoID),
		logger.Int("listed", stats.WinnersListed),
		logger.Int("generated", len(accounts)))
	return nil
}
