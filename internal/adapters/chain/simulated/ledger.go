// Package simulated is an in-process ERC-1155 ledger for local runs and tests.
// It keeps balances in memory and reports a nonce conflict whenever two
// state-changing submissions overlap, the way a single-signer node would.
package simulated

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/okian/neodrop/internal/domain/chain"
)

// Ledger implements chain.Ledger.
type Ledger struct {
	signer  common.Address
	latency time.Duration

	mu       sync.Mutex
	balances map[string]map[common.Address]uint64 // token id (decimal) -> holder -> amount
	uris     map[string]string
	failTo   map[common.Address]error
	failMint error
	nonce    uint64

	submitting atomic.Int32
	conflicts  atomic.Int64
}

// Option configures the simulated ledger.
type Option func(*Ledger)

// WithLatency delays every submission, which widens the window for overlap detection.
func WithLatency(d time.Duration) Option {
	return func(l *Ledger) { l.latency = d }
}

// New creates a ledger whose signer is signer.
func New(signer common.Address, opts ...Option) *Ledger {
	l := &Ledger{
		signer:   signer,
		balances: make(map[string]map[common.Address]uint64),
		uris:     make(map[string]string),
		failTo:   make(map[common.Address]error),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FailTransfersTo makes every transfer to account revert with cause.
func (l *Ledger) FailTransfersTo(account common.Address, cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failTo[account] = cause
}

// FailNextMint makes the next mint fail with cause.
func (l *Ledger) FailNextMint(cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failMint = cause
}

// Conflicts reports how many overlapping submissions were observed.
func (l *Ledger) Conflicts() int64 { return l.conflicts.Load() }

func (l *Ledger) Signer() common.Address { return l.signer }

func (l *Ledger) Mint(ctx context.Context, tokenID *big.Int, amount uint64, uri string) (chain.Receipt, error) {
	return l.submit(ctx, "mint", func() (chain.Receipt, error) {
		if cause := l.failMint; cause != nil {
			l.failMint = nil
			return chain.Receipt{}, &chain.Error{Kind: chain.KindRejected, Op: "mint", Err: cause}
		}
		key := tokenID.String()
		l.credit(key, l.signer, amount)
		if uri != "" {
			l.uris[key] = uri
		}
		return chain.Receipt{
			Operator: l.signer,
			To:       l.signer,
			TokenID:  new(big.Int).Set(tokenID),
			Amount:   amount,
		}, nil
	})
}

func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, tokenID *big.Int, amount uint64) (chain.Receipt, error) {
	return l.submit(ctx, "transfer", func() (chain.Receipt, error) {
		if cause, ok := l.failTo[to]; ok {
			return chain.Receipt{}, &chain.Error{Kind: chain.KindReverted, Op: "transfer", Err: cause}
		}
		key := tokenID.String()
		if l.balances[key][from] < amount {
			return chain.Receipt{}, &chain.Error{
				Kind: chain.KindInsufficientBalance,
				Op:   "transfer",
				Err:  fmt.Errorf("%s holds %d of token %s", from.Hex(), l.balances[key][from], key),
			}
		}
		l.balances[key][from] -= amount
		l.credit(key, to, amount)
		return chain.Receipt{
			Operator: l.signer,
			From:     from,
			To:       to,
			TokenID:  new(big.Int).Set(tokenID),
			Amount:   amount,
		}, nil
	})
}

func (l *Ledger) BalanceOf(ctx context.Context, account common.Address, tokenID *big.Int) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &chain.Error{Kind: chain.KindUnavailable, Op: "balance_of", Err: err}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[tokenID.String()][account], nil
}

func (l *Ledger) URI(ctx context.Context, tokenID *big.Int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &chain.Error{Kind: chain.KindUnavailable, Op: "uri", Err: err}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.uris[tokenID.String()], nil
}

func (l *Ledger) BalanceOfBatch(ctx context.Context, accounts []common.Address, tokenIDs []*big.Int) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, &chain.Error{Kind: chain.KindUnavailable, Op: "balance_of_batch", Err: err}
	}
	if len(accounts) != len(tokenIDs) {
		return nil, &chain.Error{
			Kind: chain.KindRejected,
			Op:   "balance_of_batch",
			Err:  fmt.Errorf("%d accounts and %d ids", len(accounts), len(tokenIDs)),
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]uint64, len(accounts))
	for i := range accounts {
		out[i] = l.balances[tokenIDs[i].String()][accounts[i]]
	}
	return out, nil
}

// OwnersOf returns holders ordered by address.
func (l *Ledger) OwnersOf(ctx context.Context, tokenID *big.Int) ([]chain.Holding, error) {
	if err := ctx.Err(); err != nil {
		return nil, &chain.Error{Kind: chain.KindUnavailable, Op: "owners_of", Err: err}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []chain.Holding
	for account, amount := range l.balances[tokenID.String()] {
		if amount > 0 {
			out = append(out, chain.Holding{Account: account, TokenID: new(big.Int).Set(tokenID), Amount: amount})
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Account[:], out[j].Account[:]) < 0 })
	return out, nil
}

// TokensOf returns holdings ordered by token id.
func (l *Ledger) TokensOf(ctx context.Context, account common.Address) ([]chain.Holding, error) {
	if err := ctx.Err(); err != nil {
		return nil, &chain.Error{Kind: chain.KindUnavailable, Op: "tokens_of", Err: err}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []chain.Holding
	for key, holders := range l.balances {
		amount := holders[account]
		if amount == 0 {
			continue
		}
		id, _ := new(big.Int).SetString(key, 10)
		out = append(out, chain.Holding{Account: account, TokenID: id, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID.Cmp(out[j].TokenID) < 0 })
	return out, nil
}

// submit runs apply as one transaction from the signer.
func (l *Ledger) submit(ctx context.Context, op string, apply func() (chain.Receipt, error)) (chain.Receipt, error) {
	if l.submitting.Add(1) > 1 {
		l.submitting.Add(-1)
		l.conflicts.Add(1)
		return chain.Receipt{}, &chain.Error{Kind: chain.KindNonceConflict, Op: op, Err: errors.New("nonce already used by a pending transaction")}
	}
	defer l.submitting.Add(-1)

	if l.latency > 0 {
		select {
		case <-time.After(l.latency):
		case <-ctx.Done():
			return chain.Receipt{}, &chain.Error{Kind: chain.KindUnavailable, Op: op, Err: ctx.Err()}
		}
	}
	if err := ctx.Err(); err != nil {
		return chain.Receipt{}, &chain.Error{Kind: chain.KindUnavailable, Op: op, Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	r, err := apply()
	if err != nil {
		return chain.Receipt{}, err
	}
	l.nonce++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], l.nonce)
	r.TxHash = crypto.Keccak256Hash(l.signer.Bytes(), buf[:])
	return r, nil
}

// credit must be called with l.mu held.
func (l *Ledger) credit(key string, to common.Address, amount uint64) {
	holders, ok := l.balances[key]
	if !ok {
		holders = make(map[common.Address]uint64)
		l.balances[key] = holders
	}
	holders[to] += amount
}

var _ chain.Ledger = (*Ledger)(nil)
