// Package pipeline implements the Request Pipeline that every data-plane
// request passes through before it reaches the Query Translator: tenant
// resolution, dynamic CORS, the per-project IP firewall, the cascataAuth
// state machine, and dynamic body/rate limiting. The firewall checks only
// requests resolved to a project; control-plane paths are not checked
// against any project's blocklist.
package pipeline

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cascata/gateway/pkg/pool"
	"github.com/cascata/gateway/pkg/tenant"
)

// Pipeline holds the shared dependencies for the request-pipeline middleware
// chain.
type Pipeline struct {
	directory *tenant.Directory
	pools     *pool.Registry
	rdb       *redis.Client
	logger    *slog.Logger

	pooler             pool.Endpoint
	defaultStatementMs int
	acquireTimeout     time.Duration

	defaultBodyLimit int64
	edgeBodyLimit    int64
	maxBodyLimit     int64
}

// Config carries the tunables pulled from internal/config.
type Config struct {
	DefaultBodyLimitBytes int64
	EdgeBodyLimitBytes    int64
	MaxBodyLimitBytes     int64

	// Pooler addresses the shared transaction-mode pooler used for internal
	// (non-ejected, non-replica) pool selection.
	Pooler             pool.Endpoint
	DefaultStatementMs int
	AcquireTimeout     time.Duration
}

// New creates a Pipeline.
func New(directory *tenant.Directory, pools *pool.Registry, rdb *redis.Client, logger *slog.Logger, cfg Config) *Pipeline {
	return &Pipeline{
		directory:          directory,
		pools:              pools,
		rdb:                rdb,
		logger:             logger,
		pooler:             cfg.Pooler,
		defaultStatementMs: cfg.DefaultStatementMs,
		acquireTimeout:     cfg.AcquireTimeout,
		defaultBodyLimit:   cfg.DefaultBodyLimitBytes,
		edgeBodyLimit:      cfg.EdgeBodyLimitBytes,
		maxBodyLimit:       cfg.MaxBodyLimitBytes,
	}
}

// Chain wraps next with every pipeline stage in order: security headers,
// tenant resolution, pool acquisition, dynamic CORS, host guard, firewall,
// auth, body limit, rate limit.
func (p *Pipeline) Chain(next http.Handler) http.Handler {
	h := next
	h = p.RateLimit(h)
	h = p.BodyLimit(h)
	h = p.Auth(h)
	h = p.Firewall(h)
	h = p.HostGuard(h)
	h = p.DynamicCORS(h)
	h = p.PoolAcquire(h)
	h = p.TenantResolution(h)
	h = SecurityHeaders(h)
	return h
}

// SecurityHeaders sets the fixed response headers required before any other
// pipeline stage runs.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Del("Server")
		next.ServeHTTP(w, r)
	})
}
