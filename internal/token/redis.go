package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// revokedKeyPrefix namespaces revocation keys in Redis.
const revokedKeyPrefix = "token:revoked:"

// RedisRevocationStore persists revoked jtis in Redis with a TTL matching
// the token's remaining lifetime. SET NX provides the cross-process
// check-and-revoke, so single-winner refresh rotation holds across
// replicas and restarts.
type RedisRevocationStore struct {
	client *redis.Client
}

// NewRedisRevocationStore creates a Redis-backed revocation store.
func NewRedisRevocationStore(client *redis.Client) *RedisRevocationStore {
	return &RedisRevocationStore{client: client}
}

// Consume marks the jti revoked until expiresAt. Returns true if this call
// newly revoked it.
func (s *RedisRevocationStore) Consume(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Token already expired; nothing to guard.
		return false, nil
	}

	ok, err := s.client.SetNX(ctx, revokedKeyPrefix+jti, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx revoked jti: %w", err)
	}
	return ok, nil
}

// IsRevoked reports whether the jti is currently revoked.
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists revoked jti: %w", err)
	}
	return n > 0, nil
}
