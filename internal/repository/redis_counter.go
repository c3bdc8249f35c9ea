package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithExpiry increments the counter and attaches the window TTL only on
// the increment that creates the key. The script runs atomically on the
// server, so the expiry-once semantics hold across service instances.
var incrWithExpiry = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisCounterStore is the shared fixed-window backend for multi-instance
// rate limiting.
type RedisCounterStore struct {
	client *RedisClient
	prefix string
}

func NewRedisCounterStore(client *RedisClient) *RedisCounterStore {
	return &RedisCounterStore{client: client, prefix: "ratelimit:"}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	count, err := incrWithExpiry.Run(ctx, s.client.Client, []string{s.prefix + key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis counter incr: %w", err)
	}
	return count, nil
}
