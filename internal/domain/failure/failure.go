// Package failure defines the error kinds shared by the rotation, reward and
// ledger components, and classifies them for outer surfaces.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds.
var (
	ErrFeedUnavailable      = errors.New("feed unavailable")
	ErrNoEligibleCandidate  = errors.New("no eligible candidate")
	ErrPersistence          = errors.New("persistence failure")
	ErrMetadataUploadFailed = errors.New("metadata upload failed")
	ErrMintFailed           = errors.New("mint failed")
	ErrTransferFailed       = errors.New("transfer failed")
	ErrRotationInProgress   = errors.New("rotation in progress")
	ErrGateTimeout          = errors.New("transaction gate timeout")
	ErrNoCurrentNeo         = errors.New("current neo not set")
	ErrNoCurrentQuiz        = errors.New("current quiz not set")
	ErrInvalidAccount       = errors.New("invalid account")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrNotFound             = errors.New("not found")
	ErrStopped              = errors.New("stopped")
)

// TransferError reports the first failed transfer of an award pass. Transfers
// before Index completed; transfers from Index on were not attempted.
type TransferError struct {
	Index   int
	Account string
	Err     error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %d to %s failed: %v", e.Index, e.Account, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *TransferError) Unwrap() []error { return []error{ErrTransferFailed, e.Err} }

// Class is an HTTP-agnostic classification of an error.
type Class int

const (
	ClassInternal Class = iota
	ClassClient
	ClassNotFound
	ClassConflict
	ClassUpstream
	ClassCanceled
)

func (c Class) String() string {
	switch c {
	case ClassClient:
		return "client"
	case ClassNotFound:
		return "not_found"
	case ClassConflict:
		return "conflict"
	case ClassUpstream:
		return "upstream"
	case ClassCanceled:
		return "canceled"
	default:
		return "internal"
	}
}

// Classify maps err onto a Class. Unknown errors are internal.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassInternal
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	case errors.Is(err, ErrInvalidAccount), errors.Is(err, ErrInvalidArgument):
		return ClassClient
	case errors.Is(err, ErrNoCurrentNeo), errors.Is(err, ErrNoCurrentQuiz), errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrRotationInProgress), errors.Is(err, ErrStopped):
		return ClassConflict
	case errors.Is(err, ErrFeedUnavailable),
		errors.Is(err, ErrNoEligibleCandidate),
		errors.Is(err, ErrMetadataUploadFailed),
		errors.Is(err, ErrMintFailed),
		errors.Is(err, ErrTransferFailed),
		errors.Is(err, ErrGateTimeout):
		return ClassUpstream
	default:
		return ClassInternal
	}
}

// Kind returns a short machine-readable name of the outermost known kind in err.
func Kind(err error) string {
	kinds := []struct {
		err  error
		name string
	}{
		{ErrFeedUnavailable, "feed_unavailable"},
		{ErrNoEligibleCandidate, "no_eligible_candidate"},
		{ErrPersistence, "persistence_failure"},
		{ErrMetadataUploadFailed, "metadata_upload_failed"},
		{ErrMintFailed, "mint_failed"},
		{ErrTransferFailed, "transfer_failed"},
		{ErrRotationInProgress, "rotation_in_progress"},
		{ErrGateTimeout, "gate_timeout"},
		{ErrNoCurrentNeo, "neo_not_set"},
		{ErrNoCurrentQuiz, "quiz_not_set"},
		{ErrInvalidAccount, "invalid_account"},
		{ErrInvalidArgument, "invalid_argument"},
		{ErrNotFound, "not_found"},
		{ErrStopped, "stopped"},
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "internal"
}
