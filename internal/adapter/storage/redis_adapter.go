package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/part-ledger/internal/port"
)

var (
	_ port.ScopeLocker      = (*RedisAdapter)(nil)
	_ port.IdempotencyCache = (*RedisAdapter)(nil)
)

const (
	lockKeyPrefix     = "ledger:scope:"
	idempotencyPrefix = "ledger:idem:"
	idempotencyKeyTTL = 24 * time.Hour
	defaultLockTTL    = 10 * time.Second
	lockRetryDelay    = 20 * time.Millisecond
)

// releaseLockScript deletes the lock only if this holder still owns it.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]

if redis.call('GET', key) == token then
	return redis.call('DEL', key)
end

return 0
`)

type RedisAdapter struct {
	client  *redis.Client
	lockTTL time.Duration
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client, lockTTL: defaultLockTTL}
}

// WithLockTTL sets how long a scope lock survives a crashed holder.
func (r *RedisAdapter) WithLockTTL(ttl time.Duration) *RedisAdapter {
	r.lockTTL = ttl
	return r
}

// Lock spins on SET NX PX until it owns the scope key or ctx ends.
func (r *RedisAdapter) Lock(ctx context.Context, scope string) (func(), error) {
	key := lockKeyPrefix + scope
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}

	return func() {
		// The request context may already be done; release regardless.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		releaseLockScript.Run(releaseCtx, r.client, []string{key}, token)
	}, nil
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) DeleteIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyPrefix+key).Err()
}
