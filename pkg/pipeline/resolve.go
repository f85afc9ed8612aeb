package pipeline

import (
	"net"
	"net/http"
	"strings"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/internal/httpserver"
	"github.com/cascata/gateway/pkg/tenant"
)

// TenantResolution resolves the inbound host/path to a Project and attaches
// it to the request context, or lets control-plane paths through untouched.
func (p *Pipeline) TenantResolution(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer := tenant.BearerFromRequest(r)

		resolution, err := p.directory.Resolve(r.Context(), r.Host, r.URL.Path, bearer)
		if err != nil {
			httpserver.RespondAppError(w, p.logger, r, err)
			return
		}

		if resolution.ControlPlane {
			next.ServeHTTP(w, r)
			return
		}

		ctx := tenant.NewContext(r.Context(), resolution.Project)
		if resolution.SystemRequest {
			ctx = tenant.NewRoleContext(ctx, tenant.RoleServiceRole)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HostGuard returns a generic 404 for any data-plane request that did not
// resolve to a project, rather than distinguishing "no such tenant" from
// other failures — a client probing hostnames should not learn which ones
// are valid.
func (p *Pipeline) HostGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenant.IsControlPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if tenant.FromContext(r.Context()) == nil {
			httpserver.RespondError(w, http.StatusNotFound, string(apperror.NotFound), "not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Firewall rejects requests from a project's blocked-IP list before any
// authentication work happens. It applies only to requests resolved to a
// project; control-plane paths, including slug-scoped ones, pass unchecked.
func (p *Pipeline) Firewall(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proj := tenant.FromContext(r.Context())
		if proj != nil && proj.IsBlocked(clientIP(r)) {
			httpserver.RespondError(w, http.StatusForbidden, string(apperror.Forbidden), "client is blocked")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First hop is the original client.
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
