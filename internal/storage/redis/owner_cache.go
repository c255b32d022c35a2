// Package redis shares resolved token account owners across runs.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"stablecoin-transfers/internal/domain"
)

// DefaultOwnerTTL bounds how long a resolved owner is reused.
const DefaultOwnerTTL = 7 * 24 * time.Hour

const ownerKeyPrefix = "owner:"

// ownerEntry is the stored JSON value.
type ownerEntry struct {
	Mint     string `json:"mint"`
	Owner    string `json:"owner"`
	Decimals *int   `json:"decimals,omitempty"`
}

// OwnerCache stores token account owners in Redis. Only resolved accounts
// are written; a miss is never cached remotely because the account may be
// created later. Errors degrade to a miss.
type OwnerCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewOwnerCache connects to url and verifies the server is reachable.
// A non-positive ttl uses DefaultOwnerTTL.
func NewOwnerCache(ctx context.Context, url string, ttl time.Duration, logger *zap.Logger) (*OwnerCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultOwnerTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OwnerCache{client: client, ttl: ttl, logger: logger}, nil
}

// Close closes the client.
func (c *OwnerCache) Close() error {
	return c.client.Close()
}

// Get returns the cached account, if any.
func (c *OwnerCache) Get(ctx context.Context, account string) (domain.TokenAccountInfo, bool) {
	raw, err := c.client.Get(ctx, ownerKeyPrefix+account).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("owner cache read failed", zap.String("account", account), zap.Error(err))
		}
		return domain.TokenAccountInfo{}, false
	}

	var entry ownerEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Owner == "" {
		return domain.TokenAccountInfo{}, false
	}
	return domain.TokenAccountInfo{Mint: entry.Mint, Owner: entry.Owner, Decimals: entry.Decimals}, true
}

// Set stores a resolved account. Missing accounts are ignored.
func (c *OwnerCache) Set(ctx context.Context, account string, info domain.TokenAccountInfo) {
	if info.Missing || info.Owner == "" {
		return
	}

	raw, err := json.Marshal(ownerEntry{Mint: info.Mint, Owner: info.Owner, Decimals: info.Decimals})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, ownerKeyPrefix+account, raw, c.ttl).Err(); err != nil {
		c.logger.Debug("owner cache write failed", zap.String("account", account), zap.Error(err))
	}
}
