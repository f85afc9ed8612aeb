package pipeline

import (
	"context"
	"net/http"

	"github.com/cascata/gateway/internal/httpserver"
	"github.com/cascata/gateway/pkg/pool"
	"github.com/cascata/gateway/pkg/tenant"
)

// PoolAcquire selects and acquires the pgxpool.Pool for the resolved project
// and attaches it to the request context, right after tenant resolution and
// before any handler touches the database. Control-plane requests (no
// resolved Project) pass through untouched.
func (p *Pipeline) PoolAcquire(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proj := tenant.FromContext(r.Context())
		if proj == nil {
			next.ServeHTTP(w, r)
			return
		}

		sel := pool.Select(proj, r.Method, p.pooler, p.defaultStatementMs)

		acquireCtx, cancel := context.WithTimeout(r.Context(), p.acquireTimeout)
		handle, err := p.pools.Get(acquireCtx, sel.DBIdentifier, sel.ConnectionURL, sel.Config)
		cancel()
		if err != nil {
			p.pools.HandleError(sel.DBIdentifier, err)
			httpserver.RespondAppError(w, p.logger, r, err)
			return
		}

		ctx := pool.NewContext(r.Context(), handle)
		ctx = pool.NewErrorReporterContext(ctx, func(err error) {
			p.pools.HandleError(sel.DBIdentifier, err)
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
