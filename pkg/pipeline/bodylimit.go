package pipeline

import (
	"net/http"
	"strings"

	"github.com/cascata/gateway/pkg/tenant"
)

// BodyLimit caps the request body size. The base limit is 2 MiB; routes
// under /edge/ or /import/ get a 10 MiB allowance for larger payloads, and a
// project may raise its own ceiling via metadata.security.max_json_size, up
// to a hard 50 MiB cap that no configuration can exceed.
func (p *Pipeline) BodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := p.defaultBodyLimit
		if strings.Contains(r.URL.Path, "/edge/") || strings.Contains(r.URL.Path, "/import/") {
			limit = p.edgeBodyLimit
		}

		if proj := tenant.FromContext(r.Context()); proj != nil {
			if custom := proj.Metadata.Security.MaxJSONSizeBytes; custom > 0 {
				limit = custom
			}
		}

		if limit > p.maxBodyLimit {
			limit = p.maxBodyLimit
		}

		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}
