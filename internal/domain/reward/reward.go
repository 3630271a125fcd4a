// Package reward turns a NEO and its winners into a published metadata
// document, a minted ERC-1155 token and one transfer per winner.
package reward

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/okian/neodrop/internal/domain/attributes"
	"github.com/okian/neodrop/internal/domain/chain"
	"github.com/okian/neodrop/internal/domain/failure"
	"github.com/okian/neodrop/internal/domain/gate"
	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/pkg/logger"
	"github.com/okian/neodrop/pkg/metrics"
)

// Publisher stores the token metadata for a NEO and returns its content URI.
type Publisher interface {
	Publish(ctx context.Context, neo model.NEO, attrs attributes.Attributes) (string, error)
}

// TransferOutcome is the result of one winner's transfer.
type TransferOutcome struct {
	Index   int            `json:"index"`
	Account string         `json:"account"`
	Amount  uint64         `json:"amount"`
	Receipt *chain.Receipt `json:"receipt,omitempty"`
	Err     error          `json:"-"`
}

// Outcome describes one award pass. Transfers holds only attempted transfers.
type Outcome struct {
	RunID      string            `json:"run_id"`
	NeoID      string            `json:"neo_id"`
	TokenID    *big.Int          `json:"token_id"`
	MintAmount uint64            `json:"mint_amount"`
	ContentURI string            `json:"content_uri,omitempty"`
	Mint       *chain.Receipt    `json:"mint,omitempty"`
	Transfers  []TransferOutcome `json:"transfers"`
	Err        error             `json:"-"`
}

// Transferred returns the accounts whose transfer succeeded.
func (o Outcome) Transferred() []string {
	out := make([]string, 0, len(o.Transfers))
	for _, t := range o.Transfers {
		if t.Err == nil {
			out = append(out, t.Account)
		}
	}
	return out
}

// Workflow runs award passes. Every ledger call goes through the gate.
type Workflow struct {
	publisher Publisher
	ledger    chain.Ledger
	gate      *gate.Gate
	log       logger.Logger
	newRunID  func() string
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithLogger sets the workflow logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Workflow) {
		if l != nil {
			w.log = l
		}
	}
}

// WithRunIDs overrides the run id generator.
func WithRunIDs(f func() string) Option {
	return func(w *Workflow) {
		if f != nil {
			w.newRunID = f
		}
	}
}

// New creates a workflow. g must be the process-wide gate shared by every
// caller of ledger.
func New(publisher Publisher, ledger chain.Ledger, g *gate.Gate, opts ...Option) *Workflow {
	w := &Workflow{
		publisher: publisher,
		ledger:    ledger,
		gate:      g,
		log:       logger.Nop(),
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Award publishes metadata for neo, mints len(winners) units and transfers
// one unit to each winner in order. The first failed transfer stops the pass
// with a *failure.TransferError; completed transfers stay.
func (w *Workflow) Award(ctx context.Context, neo model.NEO, winners []string) (Outcome, error) {
	start := time.Now()
	out := Outcome{
		RunID:      w.newRunID(),
		NeoID:      neo.ID,
		TokenID:    chain.TokenID(neo.ID),
		MintAmount: uint64(len(winners)),
	}
	log := w.log.With(logger.String("run_id", out.RunID), logger.String("neo_id", neo.ID))

	if len(winners) == 0 {
		metrics.RecordAwardPass("skipped", time.Since(start))
		return out, nil
	}

	attrs := attributes.Classify(neo)
	pubStart := time.Now()
	uri, err := w.publisher.Publish(ctx, neo, attrs)
	metrics.RecordMetadataPublish(err == nil, time.Since(pubStart))
	if err != nil {
		return w.finish(ctx, log, out, start, fmt.Errorf("%w: %w", failure.ErrMetadataUploadFailed, err))
	}
	out.ContentURI = uri

	receipt, err := gate.Run(ctx, w.gate, func(ctx context.Context) (chain.Receipt, error) {
		return w.ledger.Mint(ctx, out.TokenID, out.MintAmount, uri)
	})
	metrics.RecordMint(err == nil)
	if err != nil {
		return w.finish(ctx, log, out, start, fmt.Errorf("%w: %w", failure.ErrMintFailed, err))
	}
	out.Mint = &receipt
	log.Info(ctx, "reward token minted",
		logger.String("token_id", out.TokenID.String()),
		logger.Int64("amount", int64(out.MintAmount)),
		logger.String("tx", receipt.TxHash.Hex()))

	err = w.transferAll(ctx, &out, winners)
	return w.finish(ctx, log, out, start, err)
}

// Replay transfers one unit of neoID's token to each account without minting.
// It is the operator path for winners left unrewarded by a failed pass.
func (w *Workflow) Replay(ctx context.Context, neoID string, accounts []string) (Outcome, error) {
	start := time.Now()
	out := Outcome{
		RunID:   w.newRunID(),
		NeoID:   neoID,
		TokenID: chain.TokenID(neoID),
	}
	log := w.log.With(logger.String("run_id", out.RunID), logger.String("neo_id", neoID), logger.Bool("replay", true))
	if len(accounts) == 0 {
		return out, nil
	}
	err := w.transferAll(ctx, &out, accounts)
	return w.finish(ctx, log, out, start, err)
}

// Balance reads account's balance of neoID's token through the gate.
func (w *Workflow) Balance(ctx context.Context, account, neoID string) (uint64, error) {
	if !common.IsHexAddress(account) {
		return 0, fmt.Errorf("%w: %q", failure.ErrInvalidAccount, account)
	}
	return gate.Run(ctx, w.gate, func(ctx context.Context) (uint64, error) {
		return w.ledger.BalanceOf(ctx, common.HexToAddress(account), chain.TokenID(neoID))
	})
}

// maxBatch bounds one BalanceBatch call.
const maxBatch = 100

// BalanceBatch reads accounts[i]'s balance of neoIDs[i]'s token in one ledger call.
func (w *Workflow) BalanceBatch(ctx context.Context, accounts, neoIDs []string) ([]uint64, error) {
	if len(accounts) != len(neoIDs) {
		return nil, fmt.Errorf("%w: %d accounts and %d neo ids", failure.ErrInvalidArgument, len(accounts), len(neoIDs))
	}
	if len(accounts) > maxBatch {
		return nil, fmt.Errorf("%w: batch of %d exceeds %d", failure.ErrInvalidArgument, len(accounts), maxBatch)
	}
	addrs := make([]common.Address, len(accounts))
	ids := make([]*big.Int, len(neoIDs))
	for i, a := range accounts {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("%w: %q at %d", failure.ErrInvalidAccount, a, i)
		}
		addrs[i] = common.HexToAddress(a)
		ids[i] = chain.TokenID(neoIDs[i])
	}
	if len(addrs) == 0 {
		return []uint64{}, nil
	}
	return gate.Run(ctx, w.gate, func(ctx context.Context) ([]uint64, error) {
		return w.ledger.BalanceOfBatch(ctx, addrs, ids)
	})
}

// TokenURI returns the metadata URI neoID's token was minted with. A token
// never minted is ErrNotFound.
func (w *Workflow) TokenURI(ctx context.Context, neoID string) (string, error) {
	uri, err := gate.Run(ctx, w.gate, func(ctx context.Context) (string, error) {
		return w.ledger.URI(ctx, chain.TokenID(neoID))
	})
	if err != nil {
		return "", err
	}
	if uri == "" {
		return "", fmt.Errorf("%w: no token minted for neo %s", failure.ErrNotFound, neoID)
	}
	return uri, nil
}

// Owners lists the holders of neoID's token.
func (w *Workflow) Owners(ctx context.Context, neoID string) ([]chain.Holding, error) {
	return gate.Run(ctx, w.gate, func(ctx context.Context) ([]chain.Holding, error) {
		return w.ledger.OwnersOf(ctx, chain.TokenID(neoID))
	})
}

// OwnedBy lists the reward tokens account holds.
func (w *Workflow) OwnedBy(ctx context.Context, account string) ([]chain.Holding, error) {
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("%w: %q", failure.ErrInvalidAccount, account)
	}
	return gate.Run(ctx, w.gate, func(ctx context.Context) ([]chain.Holding, error) {
		return w.ledger.TokensOf(ctx, common.HexToAddress(account))
	})
}

func (w *Workflow) transferAll(ctx context.Context, out *Outcome, accounts []string) error {
	from := w.ledger.Signer()
	for i, account := range accounts {
		t := TransferOutcome{Index: i, Account: account, Amount: 1}
		if !common.IsHexAddress(account) {
			t.Err = fmt.Errorf("%w: %q", failure.ErrInvalidAccount, account)
		} else {
			to := common.HexToAddress(account)
			var r chain.Receipt
			r, t.Err = gate.Run(ctx, w.gate, func(ctx context.Context) (chain.Receipt, error) {
				return w.ledger.Transfer(ctx, from, to, out.TokenID, t.Amount)
			})
			if t.Err == nil {
				t.Receipt = &r
			}
		}
		metrics.RecordTransfer(t.Err == nil)
		out.Transfers = append(out.Transfers, t)
		if t.Err != nil {
			return &failure.TransferError{Index: i, Account: account, Err: t.Err}
		}
	}
	return nil
}

func (w *Workflow) finish(ctx context.Context, log logger.Logger, out Outcome, start time.Time, err error) (Outcome, error) {
	out.Err = err
	took := time.Since(start)
	if err == nil {
		metrics.RecordAwardPass("success", took)
		log.Info(ctx, "award pass complete",
			logger.Int("transfers", len(out.Transfers)),
			logger.Duration("took", took))
		return out, nil
	}
	result := failure.Kind(err)
	metrics.RecordAwardPass(result, took)
	metrics.RecordErrorByComponent("reward", result)
	fields := []logger.Field{
		logger.Error(err),
		logger.Int("transferred", len(out.Transferred())),
		logger.Duration("took", took),
	}
	if kind := chain.KindOf(err); kind != 0 {
		fields = append(fields, logger.String("ledger_kind", kind.String()))
	}
	log.Error(ctx, "award pass failed", fields...)
	return out, err
}
