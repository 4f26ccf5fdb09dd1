package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/truthmarkets/settled/internal/domain"
)

const claimTTL = 10 * time.Minute

// ClaimCache implements domain.ClaimCache using Redis hashes with
// JSON-serialized claim snapshots. Only terminal claims are cached by the
// service layer, so a stale entry can never mask an in-flight state change.
//
// Key schema:
//
//	claim:{id} - hash with field "data" containing JSON
type ClaimCache struct {
	rdb *redis.Client
}

// NewClaimCache creates a ClaimCache backed by the given Client.
func NewClaimCache(c *Client) *ClaimCache {
	return &ClaimCache{rdb: c.Underlying()}
}

func claimKey(id string) string { return "claim:" + id }

// Set stores a claim snapshot with a 10-minute TTL.
func (cc *ClaimCache) Set(ctx context.Context, claim domain.Claim) error {
	data, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("redis: marshal claim %s: %w", claim.ID, err)
	}

	key := claimKey(claim.ID)

	pipe := cc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, claimTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set claim %s: %w", claim.ID, err)
	}
	return nil
}

// Get retrieves a claim snapshot by ID.
// It returns domain.ErrNotFound when the key does not exist.
func (cc *ClaimCache) Get(ctx context.Context, id string) (domain.Claim, error) {
	data, err := cc.rdb.HGet(ctx, claimKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Claim{}, domain.ErrNotFound
		}
		return domain.Claim{}, fmt.Errorf("redis: get claim %s: %w", id, err)
	}

	var claim domain.Claim
	if err := json.Unmarshal(data, &claim); err != nil {
		return domain.Claim{}, fmt.Errorf("redis: unmarshal claim %s: %w", id, err)
	}
	return claim, nil
}

// Invalidate removes a claim snapshot from the cache.
func (cc *ClaimCache) Invalidate(ctx context.Context, id string) error {
	if err := cc.rdb.Del(ctx, claimKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate claim %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ClaimCache = (*ClaimCache)(nil)
