package extraction

import (
	"context"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/solana"
)

// DefaultDecimals is used when a mint's decimals cannot be resolved.
const DefaultDecimals = 6

// MintDecimals resolves canonical decimals per mint. A supply answer or a
// definitive not-found is kept for the lifetime of the value; transient
// failures fall back to DefaultDecimals for that call only.
type MintDecimals struct {
	rpc    solana.RPCClient
	items  *cache.Cache
	group  singleflight.Group
	logger *zap.Logger
}

// NewMintDecimals creates an empty resolver.
func NewMintDecimals(rpc solana.RPCClient, logger *zap.Logger) *MintDecimals {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MintDecimals{
		rpc:    rpc,
		items:  cache.New(cache.NoExpiration, 0),
		logger: logger,
	}
}

// Decimals returns the configured decimals of token, else the supply
// decimals reported by the node, else DefaultDecimals.
func (m *MintDecimals) Decimals(ctx context.Context, token domain.Token) int {
	if token.Decimals != nil {
		return *token.Decimals
	}
	if v, ok := m.items.Get(token.Address); ok {
		return v.(int)
	}

	v, _, _ := m.group.Do(token.Address, func() (interface{}, error) {
		if v, ok := m.items.Get(token.Address); ok {
			return v, nil
		}
		supply, err := m.rpc.GetTokenSupply(ctx, token.Address)
		switch solana.Classify(err) {
		case solana.OutcomeFound:
			m.items.Set(token.Address, supply.Decimals, cache.NoExpiration)
			return supply.Decimals, nil
		case solana.OutcomeNotFound:
			m.logger.Warn("mint has no supply, using default decimals",
				zap.String("mint", token.Address), zap.Int("default", DefaultDecimals))
			m.items.Set(token.Address, DefaultDecimals, cache.NoExpiration)
		default:
			// Not cached; the next lookup asks again.
			m.logger.Warn("mint decimals unavailable, using default",
				zap.String("mint", token.Address), zap.Int("default", DefaultDecimals), zap.Error(err))
		}
		return DefaultDecimals, nil
	})
	return v.(int)
}
