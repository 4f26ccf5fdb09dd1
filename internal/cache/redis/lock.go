package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/truthmarkets/settled/internal/domain"
)

// releaseScript deletes the lock key only when it still carries the holder's
// token, so an expired-and-reacquired lock is never released by the previous
// holder.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager is the distributed mutex used to serialize the deadline sweep
// across instances: SET NX with a TTL to acquire, token-checked Lua delete to
// release.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager on the shared client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseScript),
	}
}

// Acquire takes the lock named by key for at most ttl and returns its release
// function. Calling the release function more than once is a no-op. When
// another holder owns the lock it returns domain.ErrLockHeld.
func (m *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	name := "lock:" + key

	ok, err := m.rdb.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	done := false
	return func() {
		if done {
			return
		}
		done = true

		// The caller's context is usually cancelled by the time the sweep
		// releases, so the release gets its own deadline.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.release.Run(rctx, m.rdb, []string{name}, token).Err()
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
