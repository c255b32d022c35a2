package domain

// Chain identifies the ledger a transfer or tag belongs to.
type Chain string

const (
	ChainSolana   Chain = "solana"
	ChainEthereum Chain = "ethereum"
)

// String returns the string representation of Chain.
func (c Chain) String() string {
	return string(c)
}

// IsValid checks if the chain is a supported value.
func (c Chain) IsValid() bool {
	return c == ChainSolana || c == ChainEthereum
}

// IsEVM reports whether addresses on this chain are case-insensitive hex.
func (c Chain) IsEVM() bool {
	return c == ChainEthereum
}
