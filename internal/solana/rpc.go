package solana

import "context"

// RPCClient defines the Solana JSON-RPC methods used for transfer extraction.
// Lookups of absent entities return ErrNotFound.
type RPCClient interface {
	// GetSignaturesForAddress retrieves signatures for an address, newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetTransaction retrieves a parsed transaction by signature.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetTransactions retrieves several transactions in one batch request.
	// Results are in request order. Returns ErrBatchUnsupported when the
	// endpoint does not accept batches.
	GetTransactions(ctx context.Context, signatures []string) ([]Result[*Transaction], error)

	// GetBlock retrieves a block with full transaction details.
	GetBlock(ctx context.Context, slot int64) (*Block, error)

	// GetAccountInfo retrieves parsed account state.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetTokenSupply retrieves the supply and decimals of a mint.
	GetTokenSupply(ctx context.Context, mint string) (*TokenSupply, error)

	// GetSlot returns the current slot.
	GetSlot(ctx context.Context) (int64, error)
}
