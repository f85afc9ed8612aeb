package pipeline

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-redis/redis_rate/v10"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/internal/httpserver"
	"github.com/cascata/gateway/pkg/tenant"
)

// defaultRatePerMinute is the limit applied to every tenant request; there is
// no per-project override. Dynamic, per-(slug, path, method, role, client_ip) limiting is
// backed by the same Redis instance the job engine and panic shield use.
const defaultRatePerMinute = 300

// RateLimit applies a token-bucket limit keyed by tenant, route, method,
// role, and client IP, so one noisy client or endpoint can't exhaust another
// tenant's budget.
func (p *Pipeline) RateLimit(next http.Handler) http.Handler {
	limiter := redis_rate.NewLimiter(p.rdb)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proj := tenant.FromContext(r.Context())
		if proj == nil {
			// Control-plane requests are throttled separately (LoginRateLimiter).
			next.ServeHTTP(w, r)
			return
		}

		role := tenant.RoleFromContext(r.Context())
		key := fmt.Sprintf("cascata:rl:%s:%s:%s:%s:%s", proj.Slug, r.URL.Path, r.Method, role, clientIP(r))

		res, err := limiter.Allow(r.Context(), key, redis_rate.PerMinute(defaultRatePerMinute))
		if err != nil {
			p.logger.Error("rate limiter check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(defaultRatePerMinute))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(res.ResetAfter.Seconds())))
		if res.Allowed == 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
			httpserver.RespondError(w, http.StatusTooManyRequests, string(apperror.RateLimited), "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
