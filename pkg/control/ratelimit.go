package control

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginRateLimiter throttles admin login attempts per client IP with a Redis
// INCR/EXPIRE counter, used on the control-plane login route.
type LoginRateLimiter struct {
	rdb        *redis.Client
	maxAttempt int64
	window     time.Duration
}

// NewLoginRateLimiter creates a LoginRateLimiter.
func NewLoginRateLimiter(rdb *redis.Client, maxAttempt int64, window time.Duration) *LoginRateLimiter {
	return &LoginRateLimiter{rdb: rdb, maxAttempt: maxAttempt, window: window}
}

// LoginRateLimitResult reports the outcome of a rate-limit check.
type LoginRateLimitResult struct {
	Allowed   bool
	Remaining int64
	RetryAt   time.Time
}

// Check increments the attempt counter for ip and reports whether another
// attempt is allowed.
func (l *LoginRateLimiter) Check(ctx context.Context, ip string) (LoginRateLimitResult, error) {
	key := fmt.Sprintf("cascata:admin_login_attempts:%s", ip)

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return LoginRateLimitResult{}, err
	}
	if count == 1 {
		l.rdb.Expire(ctx, key, l.window)
	}

	ttl, err := l.rdb.TTL(ctx, key).Result()
	if err != nil {
		return LoginRateLimitResult{}, err
	}

	if count > l.maxAttempt {
		return LoginRateLimitResult{Allowed: false, Remaining: 0, RetryAt: time.Now().Add(ttl)}, nil
	}

	return LoginRateLimitResult{Allowed: true, Remaining: l.maxAttempt - count}, nil
}

// Reset clears the attempt counter for ip, called after a successful login.
func (l *LoginRateLimiter) Reset(ctx context.Context, ip string) error {
	return l.rdb.Del(ctx, fmt.Sprintf("cascata:admin_login_attempts:%s", ip)).Err()
}
