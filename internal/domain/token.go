package domain

// Token is a monitored stablecoin on a chain.
type Token struct {
	Symbol   string
	Chain    Chain
	Address  string // mint on Solana, contract on EVM chains
	Decimals *int   // canonical decimals when known up front
}
