package extraction

import (
	"context"

	"github.com/mr-tron/base58"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/observability"
	"stablecoin-transfers/internal/solana"
)

// Token account binary layout.
const (
	tokenAccountSize     = 165
	tokenAccountTypeByte = 165 // Token-2022 extension discriminator
	accountTypeAccount   = 2
)

// OwnerCache stores resolved token accounts, including negative entries.
type OwnerCache interface {
	Get(ctx context.Context, account string) (domain.TokenAccountInfo, bool)
	Set(ctx context.Context, account string, info domain.TokenAccountInfo)
}

// MemoryOwnerCache is an in-process OwnerCache. Entries never expire; a
// fresh cache is created for every run.
type MemoryOwnerCache struct {
	items *cache.Cache
}

// NewMemoryOwnerCache creates an empty in-process cache.
func NewMemoryOwnerCache() *MemoryOwnerCache {
	return &MemoryOwnerCache{items: cache.New(cache.NoExpiration, 0)}
}

// Get implements OwnerCache.
func (c *MemoryOwnerCache) Get(_ context.Context, account string) (domain.TokenAccountInfo, bool) {
	v, ok := c.items.Get(account)
	if !ok {
		return domain.TokenAccountInfo{}, false
	}
	info, ok := v.(domain.TokenAccountInfo)
	return info, ok
}

// Set implements OwnerCache.
func (c *MemoryOwnerCache) Set(_ context.Context, account string, info domain.TokenAccountInfo) {
	c.items.Set(account, info, cache.NoExpiration)
}

// Len returns the number of cached accounts.
func (c *MemoryOwnerCache) Len() int {
	return c.items.ItemCount()
}

// TieredOwnerCache reads through an in-process cache into a shared remote
// cache. Only positive entries are written to the remote; misses stay local
// to the run.
type TieredOwnerCache struct {
	local  *MemoryOwnerCache
	remote OwnerCache
}

// NewTieredOwnerCache layers a fresh in-process cache over remote.
func NewTieredOwnerCache(remote OwnerCache) *TieredOwnerCache {
	return &TieredOwnerCache{local: NewMemoryOwnerCache(), remote: remote}
}

// Get implements OwnerCache.
func (c *TieredOwnerCache) Get(ctx context.Context, account string) (domain.TokenAccountInfo, bool) {
	if info, ok := c.local.Get(ctx, account); ok {
		return info, true
	}
	info, ok := c.remote.Get(ctx, account)
	if !ok || info.Missing {
		return domain.TokenAccountInfo{}, false
	}
	c.local.Set(ctx, account, info)
	return info, true
}

// Set implements OwnerCache.
func (c *TieredOwnerCache) Set(ctx context.Context, account string, info domain.TokenAccountInfo) {
	c.local.Set(ctx, account, info)
	if !info.Missing {
		c.remote.Set(ctx, account, info)
	}
}

// OwnerResolver maps token accounts to their owning wallet and mint.
// Lookups go through the cache; concurrent lookups of one account share a
// single RPC call.
type OwnerResolver struct {
	rpc    solana.RPCClient
	cache  OwnerCache
	group  singleflight.Group
	logger *zap.Logger
}

// NewOwnerResolver creates a resolver. A nil cache gets a fresh in-process one.
func NewOwnerResolver(rpc solana.RPCClient, c OwnerCache, logger *zap.Logger) *OwnerResolver {
	if c == nil {
		c = NewMemoryOwnerCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OwnerResolver{rpc: rpc, cache: c, logger: logger}
}

// Account returns the mint, owner and decimals of a token account.
// Unresolvable accounts are cached negatively and report false.
func (r *OwnerResolver) Account(ctx context.Context, account string) (domain.TokenAccountInfo, bool) {
	if account == "" {
		return domain.TokenAccountInfo{}, false
	}
	if info, ok := r.cache.Get(ctx, account); ok {
		observability.RecordOwnerCache(true)
		return info, !info.Missing && info.Owner != ""
	}
	observability.RecordOwnerCache(false)

	v, _, _ := r.group.Do(account, func() (interface{}, error) {
		if info, ok := r.cache.Get(ctx, account); ok {
			return info, nil
		}
		info := r.lookup(ctx, account)
		r.cache.Set(ctx, account, info)
		return info, nil
	})
	info, _ := v.(domain.TokenAccountInfo)
	return info, !info.Missing && info.Owner != ""
}

// Owner returns the wallet that owns a token account.
func (r *OwnerResolver) Owner(ctx context.Context, account string) (string, bool) {
	info, ok := r.Account(ctx, account)
	if !ok || info.Owner == "" {
		return "", false
	}
	return info.Owner, true
}

// PrimeAssociated derives the associated token accounts of wallets for mint
// under both token programs and seeds the cache with them. Accounts already
// cached are left alone. Returns the number of entries added.
func (r *OwnerResolver) PrimeAssociated(ctx context.Context, wallets []string, mint string) int {
	var primed int
	for _, wallet := range wallets {
		for _, program := range solana.TokenProgramIDs {
			ata, err := AssociatedTokenAddress(wallet, mint, program)
			if err != nil {
				continue
			}
			if _, ok := r.cache.Get(ctx, ata); ok {
				continue
			}
			r.cache.Set(ctx, ata, domain.TokenAccountInfo{Mint: mint, Owner: wallet})
			primed++
		}
	}
	if primed > 0 {
		r.logger.Debug("primed associated token accounts",
			zap.String("mint", mint), zap.Int("wallets", len(wallets)), zap.Int("accounts", primed))
	}
	return primed
}

func (r *OwnerResolver) lookup(ctx context.Context, account string) domain.TokenAccountInfo {
	missing := domain.TokenAccountInfo{Missing: true}

	acc, err := r.rpc.GetAccountInfo(ctx, account)
	if err != nil {
		if solana.Classify(err) == solana.OutcomeTransientError {
			r.logger.Debug("account lookup failed", zap.String("account", account), zap.Error(err))
		}
		return missing
	}

	if p := acc.Parsed; p != nil {
		if p.Type != "account" || p.Mint == "" || p.Owner == "" {
			return missing
		}
		return domain.TokenAccountInfo{Mint: p.Mint, Owner: p.Owner, Decimals: p.Decimals}
	}

	if info, ok := decodeTokenAccount(acc); ok {
		return info
	}
	return missing
}

// decodeTokenAccount reads mint and owner from raw token account data:
// mint = data[0:32], owner = data[32:64].
func decodeTokenAccount(acc *solana.AccountInfo) (domain.TokenAccountInfo, bool) {
	if acc.Owner != "" && !solana.IsTokenProgram(acc.Owner) {
		return domain.TokenAccountInfo{}, false
	}
	data := acc.Data
	if len(data) < tokenAccountSize {
		return domain.TokenAccountInfo{}, false
	}
	if len(data) > tokenAccountSize && data[tokenAccountTypeByte] != accountTypeAccount {
		return domain.TokenAccountInfo{}, false
	}
	return domain.TokenAccountInfo{
		Mint:  base58.Encode(data[0:32]),
		Owner: base58.Encode(data[32:64]),
	}, true
}
