package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker tears sessions down on logout. Tokens stay revoked until they
// would have expired anyway.
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RedisRevoker keeps revoked token ids in Redis with a TTL matching the
// token's remaining lifetime.
type RedisRevoker struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisRevoker creates a revoker backed by client.
func NewRedisRevoker(client *redis.Client) *RedisRevoker {
	return &RedisRevoker{client: client, prefix: "session:revoked:", now: time.Now}
}

func (r *RedisRevoker) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if tokenID == "" {
		return nil
	}
	ttl := expiresAt.Sub(r.now())
	if expiresAt.IsZero() {
		ttl = 24 * time.Hour
	}
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("session: revoke token: %w", err)
	}
	return nil
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	n, err := r.client.Exists(ctx, r.prefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("session: check revocation: %w", err)
	}
	return n > 0, nil
}

// MemoryRevoker is an in-process Revoker for single-instance deployments
// and tests.
type MemoryRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{revoked: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryRevoker) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	if tokenID == "" {
		return nil
	}
	if expiresAt.IsZero() {
		expiresAt = m.now().Add(24 * time.Hour)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[tokenID] = expiresAt
	return nil
}

func (m *MemoryRevoker) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if m.now().After(exp) {
		delete(m.revoked, tokenID)
		return false, nil
	}
	return true, nil
}
