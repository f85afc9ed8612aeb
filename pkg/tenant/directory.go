package tenant

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/internal/crypto"
)

// AdminVerifier reports whether a bearer token verifies under the
// process-wide admin signing secret. Implemented by pkg/control to avoid an
// import cycle between the Tenant Directory and the control-plane auth.
type AdminVerifier interface {
	VerifyAdminToken(bearer string) bool
}

// Resolution is the outcome of resolving a request to a project.
type Resolution struct {
	Project       *Project
	SystemRequest bool // bearer verified under the admin signing secret
	ControlPlane  bool // URL is an admin/control path; tenant resolution bypassed
}

// Directory implements the Tenant Directory: it looks up a
// Project by host or slug, decrypts its secrets, and enforces
// domain-locking and the panic shield.
type Directory struct {
	store    *Store
	envelope *crypto.Envelope
	shield   *PanicShield
	admin    AdminVerifier
}

// NewDirectory creates a Directory.
func NewDirectory(store *Store, envelope *crypto.Envelope, shield *PanicShield, admin AdminVerifier) *Directory {
	return &Directory{store: store, envelope: envelope, shield: shield, admin: admin}
}

// IsControlPath reports whether urlPath is an admin/control-plane route,
// which bypasses tenant resolution entirely.
func IsControlPath(urlPath string) bool {
	return strings.HasPrefix(urlPath, "/api/control/") || strings.HasPrefix(urlPath, "/control/")
}

// slugFromDataPath extracts {slug} from "/api/data/{slug}/...".
func slugFromDataPath(urlPath string) (string, bool) {
	const prefix = "/api/data/"
	if !strings.HasPrefix(urlPath, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(urlPath, prefix)
	if rest == "" {
		return "", false
	}
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}

// isLoopbackOrLinkLocal reports whether host (which may include a port) is a
// loopback or link-local address — the development posture used by
// domain-locking and dynamic CORS.
func isLoopbackOrLinkLocal(host string) bool {
	h := host
	if hostOnly, _, err := net.SplitHostPort(host); err == nil {
		h = hostOnly
	}
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// Resolve implements the Tenant Directory algorithm.
func (d *Directory) Resolve(ctx context.Context, host, urlPath, bearer string) (*Resolution, error) {
	if IsControlPath(urlPath) {
		return &Resolution{ControlPlane: true, SystemRequest: d.admin != nil && d.admin.VerifyAdminToken(bearer)}, nil
	}

	systemRequest := d.admin != nil && d.admin.VerifyAdminToken(bearer)

	var project *Project
	var resolvedViaHost bool

	if !isLoopbackOrLinkLocal(host) {
		if p, err := d.store.GetByHostname(ctx, hostOnly(host)); err == nil {
			project = p
			resolvedViaHost = true
		}
	}

	if project == nil {
		slug, ok := slugFromDataPath(urlPath)
		if !ok {
			return nil, apperror.New(apperror.NotFound, "no tenant in path")
		}
		p, err := d.store.GetBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		project = p
	}

	// Domain-locking.
	if project.CustomHostname != "" && !resolvedViaHost {
		if !systemRequest && !isLoopbackOrLinkLocal(host) {
			return nil, apperror.New(apperror.Forbidden, "project requires its custom domain")
		}
	}

	// Decrypt secrets eagerly.
	secrets, err := d.decryptSecrets(project)
	if err != nil {
		return nil, err
	}
	project.Secrets = secrets

	// Panic shield.
	if !systemRequest {
		panicked, err := d.shield.IsPanicked(ctx, project.Slug)
		if err != nil {
			return nil, apperror.Wrap(apperror.Internal, "checking panic shield", err)
		}
		if panicked {
			return nil, apperror.New(apperror.LockedDown, "project is locked down")
		}
	}

	return &Resolution{Project: project, SystemRequest: systemRequest}, nil
}

func (d *Directory) decryptSecrets(p *Project) (Secrets, error) {
	var s Secrets
	var err error

	if s.AnonKey, err = d.envelope.Open(p.AnonKeyEncrypted); err != nil {
		return s, apperror.Wrap(apperror.Internal, "decrypting anon key", err)
	}
	if s.ServiceKey, err = d.envelope.Open(p.ServiceKeyEncrypted); err != nil {
		return s, apperror.Wrap(apperror.Internal, "decrypting service key", err)
	}
	if s.JWTSecret, err = d.envelope.Open(p.JWTSecretEncrypted); err != nil {
		return s, apperror.Wrap(apperror.Internal, "decrypting jwt secret", err)
	}
	return s, nil
}

func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// BearerFromRequest extracts the bearer token from the Authorization header
// or a "token" query parameter.
func BearerFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// APIKeyFromRequest extracts the apikey from the apikey header or query
// parameter.
func APIKeyFromRequest(r *http.Request) string {
	if v := r.Header.Get("apikey"); v != "" {
		return v
	}
	return r.URL.Query().Get("apikey")
}
