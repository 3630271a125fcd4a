package dropsim

import (
	"math/rand/v2"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// GenerateAccounts returns n distinct checksummed addresses.
func GenerateAccounts(n int) []string {
	seen := make(map[common.Address]struct{}, n)
	out := make([]string, 0, n)
	for len(out) < n {
		a, b := uuid.New(), uuid.New()
		addr := common.BytesToAddress(append(a[:], b[:4]...))
		if _, dup := seen[addr]; dup || addr == (common.Address{}) {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr.Hex())
	}
	return out
}

// BuildReports repeats every account repeats times, adds invalid malformed
// accounts and shuffles the result so duplicates arrive concurrently.
func BuildReports(accounts []string, repeats, invalid int) []Report {
	reports := make([]Report, 0, len(accounts)*repeats+invalid)
	for _, a := range accounts {
		for range repeats {
			reports = append(reports, Report{Account: a})
		}
	}
	for i := range invalid {
		reports = append(reports, Report{Account: "not-an-address-" + strconv.Itoa(i)})
	}
	rand.Shuffle(len(reports), func(i, j int) { reports[i], reports[j] = reports[j], reports[i] })
	return reports
}
