package domain

// TokenAccountInfo is the resolved state of a token account.
// Missing marks an account that could not be resolved, so the miss can be
// cached like a hit.
type TokenAccountInfo struct {
	Mint     string
	Owner    string
	Decimals *int
	Missing  bool
}
