package payments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

// OrderGuard serializes order creation per appointment. Acquire returns
// ErrOrderInFlight when another request holds the appointment.
type OrderGuard interface {
	Acquire(ctx context.Context, appointmentID string) (release func(), err error)
}

const orderLockPrefix = "payments:order-lock:"

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOrderGuard holds a short-lived SET NX lock per appointment so the
// guard spans API replicas. The TTL bounds how long a crashed holder can
// block retries.
type RedisOrderGuard struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewRedisOrderGuard(client *redis.Client, ttl time.Duration, logger *logging.Logger) *RedisOrderGuard {
	if client == nil {
		panic("payments: redis client required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisOrderGuard{redis: client, ttl: ttl, logger: logger}
}

func (g *RedisOrderGuard) Acquire(ctx context.Context, appointmentID string) (func(), error) {
	key := orderLockPrefix + appointmentID
	token := uuid.NewString()
	ok, err := g.redis.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("payments: acquire order lock: %w", err)
	}
	if !ok {
		return nil, ErrOrderInFlight
	}
	return func() {
		// The request context may already be done; release regardless.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, g.redis, []string{key}, token).Err(); err != nil {
			g.logger.Warn("failed to release order lock", "appointment_id", appointmentID, "error", err)
		}
	}, nil
}

// LocalOrderGuard is the single-process fallback used when Redis is not
// configured.
type LocalOrderGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewLocalOrderGuard() *LocalOrderGuard {
	return &LocalOrderGuard{inFlight: make(map[string]struct{})}
}

func (g *LocalOrderGuard) Acquire(_ context.Context, appointmentID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.inFlight[appointmentID]; held {
		return nil, ErrOrderInFlight
	}
	g.inFlight[appointmentID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, appointmentID)
			g.mu.Unlock()
		})
	}, nil
}
