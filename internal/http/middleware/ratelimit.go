package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dental-clinic-platform/internal/session"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

// Limiter decides whether one more request for key fits the budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter is a per-key token bucket local to this process.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int     // max tokens
	now     func() time.Time
}

type bucket struct {
	tokens   float64
	lastTime time.Time
}

// NewMemoryLimiter allows rate requests/sec with the given burst per key.
// Stale buckets are evicted until ctx is done.
func NewMemoryLimiter(ctx context.Context, rate float64, burst int) *MemoryLimiter {
	rl := &MemoryLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		now:     time.Now,
	}
	go rl.cleanup(ctx)
	return rl
}

func (rl *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastTime: now}
		rl.buckets[key] = b
	}

	elapsed := now.Sub(b.lastTime).Seconds()
	b.tokens += elapsed * rl.rate
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.lastTime = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

func (rl *MemoryLimiter) cleanup(ctx context.Context) {
	if ctx == nil {
		return
	}
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		rl.mu.Lock()
		cutoff := rl.now().Add(-10 * time.Minute)
		for key, b := range rl.buckets {
			if b.lastTime.Before(cutoff) {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// RedisLimiter counts requests per key in a fixed window shared by every
// API instance.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &RedisLimiter{client: client, limit: limit, window: window, prefix: "ratelimit:", now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	slot := l.now().UnixNano() / int64(l.window)
	k := l.prefix + key + ":" + strconv.FormatInt(slot, 10)

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("middleware: rate limit incr: %w", err)
	}
	// Set expiry only on first increment
	if count == 1 {
		l.client.Expire(ctx, k, 2*l.window)
	}
	return count <= int64(l.limit), nil
}

// FallbackLimiter asks primary and uses secondary when primary errors.
type FallbackLimiter struct {
	Primary   Limiter
	Secondary Limiter
	Logger    *logging.Logger
}

func (f FallbackLimiter) Allow(ctx context.Context, key string) (bool, error) {
	ok, err := f.Primary.Allow(ctx, key)
	if err == nil {
		return ok, nil
	}
	if f.Logger != nil {
		f.Logger.Warn("rate limiter degraded to local buckets", "error", err)
	}
	return f.Secondary.Allow(ctx, key)
}

// RateLimit rejects requests over budget with 429. Signed-in callers are
// keyed by session, everyone else by IP. Limiter errors let the request
// through.
func RateLimit(limiter Limiter, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := limiter.Allow(r.Context(), rateLimitKey(r))
			if err != nil {
				logger.Error("rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if s := session.FromContext(r.Context()); !session.IsAnonymous(s) {
		return string(s.Role()) + ":" + s.Subject()
	}
	ip := r.RemoteAddr
	// Prefer X-Real-Ip set by chi's RealIP middleware.
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		ip = xri
	}
	return "ip:" + ip
}
