// Package stub provides an in-memory solana.RPCClient for tests.
package stub

import (
	"context"
	"errors"
	"sync"

	"stablecoin-transfers/internal/solana"
)

// ErrUnavailable simulates a transport failure.
var ErrUnavailable = errors.New("stub: endpoint unavailable")

// RPCClient implements solana.RPCClient for testing.
// Signatures are stored newest first, as the node returns them.
type RPCClient struct {
	mu sync.Mutex

	Transactions map[string]*solana.Transaction
	Blocks       map[int64]*solana.Block
	Signatures   map[string][]solana.SignatureInfo
	Accounts     map[string]*solana.AccountInfo
	Supplies     map[string]*solana.TokenSupply

	// BatchUnsupported makes GetTransactions return solana.ErrBatchUnsupported.
	BatchUnsupported bool
	// Unavailable makes every transaction-level lookup fail with ErrUnavailable.
	Unavailable bool
	// FailSignatures fails single lookups for the listed signatures.
	FailSignatures map[string]bool

	calls map[string]int
}

// Compile-time interface check.
var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions:   make(map[string]*solana.Transaction),
		Blocks:         make(map[int64]*solana.Block),
		Signatures:     make(map[string][]solana.SignatureInfo),
		Accounts:       make(map[string]*solana.AccountInfo),
		Supplies:       make(map[string]*solana.TokenSupply),
		FailSignatures: make(map[string]bool),
		calls:          make(map[string]int),
	}
}

func (c *RPCClient) record(method string) {
	c.calls[method]++
}

// Calls returns how many times method was invoked.
func (c *RPCClient) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// GetSignaturesForAddress pages the stored signatures honouring Before and Limit.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getSignaturesForAddress")

	sigs := c.Signatures[address]
	if opts == nil {
		return append([]solana.SignatureInfo(nil), sigs...), nil
	}

	start := 0
	if opts.Before != "" {
		start = len(sigs)
		for i, s := range sigs {
			if s.Signature == opts.Before {
				start = i + 1
				break
			}
		}
	}
	end := len(sigs)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	if start >= end {
		return nil, nil
	}
	return append([]solana.SignatureInfo(nil), sigs[start:end]...), nil
}

// GetTransaction retrieves a transaction by signature from the stub store.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getTransaction")

	if c.Unavailable || c.FailSignatures[signature] {
		return nil, ErrUnavailable
	}
	tx, ok := c.Transactions[signature]
	if !ok {
		return nil, solana.ErrNotFound
	}
	return tx, nil
}

// GetTransactions resolves each signature like GetTransaction.
func (c *RPCClient) GetTransactions(_ context.Context, signatures []string) ([]solana.Result[*solana.Transaction], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getTransactions")

	if c.Unavailable {
		return nil, ErrUnavailable
	}
	if c.BatchUnsupported {
		return nil, solana.ErrBatchUnsupported
	}

	out := make([]solana.Result[*solana.Transaction], len(signatures))
	for i, sig := range signatures {
		tx, ok := c.Transactions[sig]
		if !ok {
			out[i] = solana.ResultOf[*solana.Transaction](nil, solana.ErrNotFound)
			continue
		}
		out[i] = solana.Found(tx)
	}
	return out, nil
}

// GetBlock retrieves a block by slot from the stub store.
func (c *RPCClient) GetBlock(_ context.Context, slot int64) (*solana.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getBlock")

	block, ok := c.Blocks[slot]
	if !ok {
		return nil, solana.ErrNotFound
	}
	return block, nil
}

// GetAccountInfo retrieves account state from the stub store.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getAccountInfo")

	info, ok := c.Accounts[pubkey]
	if !ok {
		return nil, solana.ErrNotFound
	}
	return info, nil
}

// GetTokenSupply retrieves mint supply from the stub store.
func (c *RPCClient) GetTokenSupply(_ context.Context, mint string) (*solana.TokenSupply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getTokenSupply")

	supply, ok := c.Supplies[mint]
	if !ok {
		return nil, solana.ErrNotFound
	}
	return supply, nil
}

// GetSlot returns the highest stored block slot.
func (c *RPCClient) GetSlot(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getSlot")

	var highest int64
	for slot := range c.Blocks {
		if slot > highest {
			highest = slot
		}
	}
	return highest, nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// AddBlock adds a block to the stub store.
func (c *RPCClient) AddBlock(block *solana.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Blocks[block.Slot] = block
}

// AddSignatures sets signatures for an address, newest first.
func (c *RPCClient) AddSignatures(address string, sigs []solana.SignatureInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Signatures[address] = sigs
}

// AddTokenAccount registers a parsed token account.
func (c *RPCClient) AddTokenAccount(account, mint, owner string, decimals int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := decimals
	c.Accounts[account] = &solana.AccountInfo{
		Owner: solana.TokenProgramID,
		Parsed: &solana.ParsedAccount{
			Program:  solana.ParsedProgramToken,
			Type:     "account",
			Mint:     mint,
			Owner:    owner,
			Decimals: &d,
		},
	}
}

// AddMint registers a mint supply with the given decimals.
func (c *RPCClient) AddMint(mint string, decimals int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Supplies[mint] = &solana.TokenSupply{Amount: "0", Decimals: decimals}
}
