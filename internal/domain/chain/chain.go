// Package chain describes the ERC-1155 ledger primitives the reward workflow
// drives. Adapters decode their transport errors into *Error at the boundary.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Receipt carries the fields of the TransferSingle event emitted by a mint or transfer.
type Receipt struct {
	Operator common.Address `json:"operator"`
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	TokenID  *big.Int       `json:"token_id"`
	Amount   uint64         `json:"amount"`
	TxHash   common.Hash    `json:"tx_hash"`
}

// Holding is one account's balance of one token.
type Holding struct {
	Account common.Address `json:"account"`
	TokenID *big.Int       `json:"token_id"`
	Amount  uint64         `json:"amount"`
}

// Ledger is the external mint/transfer/balance surface. Implementations must
// not be called concurrently for state-changing operations; callers go through
// the transaction gate.
type Ledger interface {
	// Signer is the account that mints and sends rewards.
	Signer() common.Address
	Mint(ctx context.Context, tokenID *big.Int, amount uint64, uri string) (Receipt, error)
	Transfer(ctx context.Context, from, to common.Address, tokenID *big.Int, amount uint64) (Receipt, error)
	BalanceOf(ctx context.Context, account common.Address, tokenID *big.Int) (uint64, error)
	// BalanceOfBatch returns the balance of accounts[i] in tokenIDs[i]. The
	// slices must have the same length.
	BalanceOfBatch(ctx context.Context, accounts []common.Address, tokenIDs []*big.Int) ([]uint64, error)
	// URI is the metadata URI a token was minted with, empty when unminted.
	URI(ctx context.Context, tokenID *big.Int) (string, error)
	// OwnersOf lists the accounts holding a non-zero balance of tokenID.
	OwnersOf(ctx context.Context, tokenID *big.Int) ([]Holding, error)
	// TokensOf lists the tokens account holds a non-zero balance of.
	TokensOf(ctx context.Context, account common.Address) ([]Holding, error)
}

// ErrorKind classifies ledger failures.
type ErrorKind int

const (
	KindUnavailable ErrorKind = iota + 1
	KindRejected
	KindReverted
	KindNonceConflict
	KindInsufficientBalance
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindRejected:
		return "rejected"
	case KindReverted:
		return "reverted"
	case KindNonceConflict:
		return "nonce_conflict"
	case KindInsufficientBalance:
		return "insufficient_balance"
	default:
		return "unknown"
	}
}

// Error is the tagged ledger error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ledger %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("ledger %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a ledger error, or 0 when err is not one.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}

// TokenID derives the ERC-1155 token id of a NEO. Decimal NEO ids (the feed's
// native form) are used as-is; anything else maps to the keccak-256 of the id.
func TokenID(neoID string) *big.Int {
	if id, ok := new(big.Int).SetString(neoID, 10); ok && id.Sign() >= 0 {
		return id
	}
	return crypto.Keccak256Hash([]byte(neoID)).Big()
}
