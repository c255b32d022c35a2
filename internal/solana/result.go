package solana

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the node reports a null result.
	ErrNotFound = errors.New("not found")

	// ErrBatchUnsupported is returned when an endpoint answers a batch
	// request with a single object instead of an array.
	ErrBatchUnsupported = errors.New("batch requests not supported")
)

// Outcome classifies the result of a single lookup.
type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeNotFound
	OutcomeTransientError
)

// String returns the metric label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "transient_error"
	}
}

// Result carries a lookup value together with its outcome so callers can
// tell "nothing there" apart from "could not ask".
type Result[T any] struct {
	Value   T
	Outcome Outcome
	Err     error
}

// Found wraps a successful lookup.
func Found[T any](v T) Result[T] {
	return Result[T]{Value: v, Outcome: OutcomeFound}
}

// ResultOf builds a Result from a value/error pair.
func ResultOf[T any](v T, err error) Result[T] {
	if err == nil {
		return Found(v)
	}
	var zero T
	return Result[T]{Value: zero, Outcome: Classify(err), Err: err}
}

// OK reports whether the lookup found a value.
func (r Result[T]) OK() bool {
	return r.Outcome == OutcomeFound
}

// Classify maps an error from the RPC layer to an Outcome.
// Node-side "not available" errors count as not found.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeFound
	}
	if errors.Is(err, ErrNotFound) {
		return OutcomeNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTransientError
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case codeSlotSkipped, codeLongTermStorageSlotSkipped, codeBlockNotAvailable, codeTransactionHistoryNotAvailable:
			return OutcomeNotFound
		}
	}
	return OutcomeTransientError
}

// JSON-RPC server error codes returned by Solana nodes.
const (
	codeBlockNotAvailable              = -32004
	codeSlotSkipped                    = -32007
	codeLongTermStorageSlotSkipped     = -32009
	codeTransactionHistoryNotAvailable = -32011
)
