package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
)

// ipRateLimit is the 5-per-minute ingress ceiling, applied per client IP.
const (
	ipRateLimit      = 5
	ipRateLimitBurst = 5
	ipRateLimitWindow = time.Minute
)

// RateLimiter enforces the per-IP webhook ingress ceiling. It prefers a
// Redis-backed counter (shared across replicas) when configured, and falls
// back to an in-process token bucket otherwise — acceptable for a single
// replica, and still fail-open-safe since it only ever rejects, never stalls.
type RateLimiter struct {
	redis *redis.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter builds a RateLimiter. client may be nil, in which case the
// in-process limiter is used exclusively.
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{redis: client, limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether the request from clientIP is within the ingress
// rate limit.
func (l *RateLimiter) Allow(ctx context.Context, clientIP string) (bool, error) {
	if l.redis != nil {
		return l.allowRedis(ctx, clientIP)
	}
	return l.allowInProcess(clientIP), nil
}

func (l *RateLimiter) allowInProcess(clientIP string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[clientIP]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(ipRateLimitWindow/ipRateLimit), ipRateLimitBurst)
		l.limiters[clientIP] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func (l *RateLimiter) allowRedis(ctx context.Context, clientIP string) (bool, error) {
	key := "webhook:ratelimit:" + clientIP
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("webhook: redis rate limit incr: %w", err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ipRateLimitWindow).Err(); err != nil {
			return false, fmt.Errorf("webhook: redis rate limit expire: %w", err)
		}
	}
	return count <= ipRateLimit, nil
}
