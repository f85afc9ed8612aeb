package pipeline

import (
	"net"
	"net/http"
	"net/url"

	"github.com/cascata/gateway/pkg/tenant"
)

// DynamicCORS answers preflight and sets Access-Control-Allow-Origin per the
// resolved project's allowed_origins list, instead of the process-wide
// static origin list used for the control plane. A project with an empty
// list echoes only loopback origins, the development posture.
func (p *Pipeline) DynamicCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proj := tenant.FromContext(r.Context())
		if proj == nil {
			// Control-plane requests are covered by the static CORS handler
			// mounted on the /control subtree.
			next.ServeHTTP(w, r)
			return
		}

		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(proj.Metadata.AllowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, apikey, Prefer, Range, X-Request-ID")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Range, X-RateLimit-Limit, X-RateLimit-Remaining, X-Request-ID")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func originAllowed(rules []tenant.OriginRule, origin string) bool {
	if len(rules) == 0 {
		return isLoopbackOrigin(origin)
	}
	for _, rule := range rules {
		if rule.URL == origin || rule.URL == "*" {
			return true
		}
	}
	return false
}

// isLoopbackOrigin reports whether origin points at a loopback host.
func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
