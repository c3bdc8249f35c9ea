package repository

import (
	"context"
	"fmt"
	"time"
)

// RedisRevocationStore shares the revoked-token set across instances. Each
// entry lives exactly until the token's own expiry (SET PX), so the set
// garbage-collects itself.
type RedisRevocationStore struct {
	client *RedisClient
	prefix string
}

func NewRedisRevocationStore(client *RedisClient) *RedisRevocationStore {
	return &RedisRevocationStore{client: client, prefix: "revoked:"}
}

func (s *RedisRevocationStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Already past its natural expiry; the signature check rejects it
		// without consulting the set.
		return nil
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	if err := s.client.Client.Set(ctx, s.prefix+jti, 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis revoke: %w", err)
	}
	return nil
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	n, err := s.client.Client.Exists(ctx, s.prefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("redis revocation check: %w", err)
	}
	return n > 0, nil
}
