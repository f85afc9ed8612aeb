package control

import (
	"context"
	"fmt"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/internal/crypto"
	"github.com/cascata/gateway/pkg/pool"
	"github.com/cascata/gateway/pkg/tenant"
)

// Projects is the control-plane service for project lifecycle operations:
// create/list/update, key rotation and reveal, and blocklist management.
type Projects struct {
	store    *tenant.Store
	envelope *crypto.Envelope
	pools    *pool.Registry
}

// NewProjects creates a Projects service.
func NewProjects(store *tenant.Store, envelope *crypto.Envelope, pools *pool.Registry) *Projects {
	return &Projects{store: store, envelope: envelope, pools: pools}
}

// CreateInput carries the fields needed to provision a new project.
type CreateInput struct {
	Slug           string
	Name           string
	DBName         string
	CustomHostname string
	Metadata       tenant.Metadata
}

// Create provisions a new project: generates and encrypts its three
// secrets, then inserts the control-plane record. The tenant database
// itself is a pre-existing, externally provisioned target — migrations and
// schema DDL are treated as black-box inputs.
func (p *Projects) Create(ctx context.Context, in CreateInput) (*tenant.Project, error) {
	if in.Slug == "" || !isURLSafeSlug(in.Slug) {
		return nil, apperror.New(apperror.Validation, "slug must be URL-safe and non-empty")
	}

	anon, err := GenerateHexSecret()
	if err != nil {
		return nil, err
	}
	service, err := GenerateHexSecret()
	if err != nil {
		return nil, err
	}
	jwtSecret, err := GenerateHexSecret()
	if err != nil {
		return nil, err
	}

	anonEnc, err := p.envelope.Seal(anon)
	if err != nil {
		return nil, err
	}
	serviceEnc, err := p.envelope.Seal(service)
	if err != nil {
		return nil, err
	}
	jwtEnc, err := p.envelope.Seal(jwtSecret)
	if err != nil {
		return nil, err
	}

	return p.store.Create(ctx, tenant.CreateParams{
		Slug:                in.Slug,
		Name:                in.Name,
		DBName:              in.DBName,
		CustomHostname:      in.CustomHostname,
		Metadata:            in.Metadata,
		AnonKeyEncrypted:    anonEnc,
		ServiceKeyEncrypted: serviceEnc,
		JWTSecretEncrypted:  jwtEnc,
	})
}

func isURLSafeSlug(s string) bool {
	if len(s) == 0 || len(s) > 63 {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		case r == '-' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Get loads a project by slug.
func (p *Projects) Get(ctx context.Context, slug string) (*tenant.Project, error) {
	return p.store.GetBySlug(ctx, slug)
}

// List returns every project.
func (p *Projects) List(ctx context.Context) ([]*tenant.Project, error) {
	return p.store.List(ctx)
}

// UpdateMetadata replaces a project's metadata bag and invalidates any live
// pool entries so the next request rebuilds with the new settings.
func (p *Projects) UpdateMetadata(ctx context.Context, slug string, m tenant.Metadata) (*tenant.Project, error) {
	proj, err := p.store.UpdateMetadata(ctx, slug, m)
	if err != nil {
		return nil, err
	}
	p.pools.Invalidate(proj.DBName)
	return proj, nil
}

// Delete removes a project and invalidates its pool entries.
func (p *Projects) Delete(ctx context.Context, slug string) error {
	proj, err := p.store.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if err := p.store.Delete(ctx, slug); err != nil {
		return err
	}
	p.pools.Invalidate(proj.DBName)
	return nil
}

// SecretKind identifies which of a project's three secrets an operation acts on.
type SecretKind string

const (
	SecretAnon    SecretKind = "anon"
	SecretService SecretKind = "service"
	SecretJWT     SecretKind = "jwt"
)

func (k SecretKind) column() (string, error) {
	switch k {
	case SecretAnon:
		return "anon_key_encrypted", nil
	case SecretService:
		return "service_key_encrypted", nil
	case SecretJWT:
		return "jwt_secret_encrypted", nil
	default:
		return "", apperror.New(apperror.Validation, fmt.Sprintf("unknown secret type %q", k))
	}
}

// RotateKey generates a fresh secret of the given kind, stores it encrypted,
// and returns the new plaintext value once.
func (p *Projects) RotateKey(ctx context.Context, slug string, kind SecretKind) (string, error) {
	column, err := kind.column()
	if err != nil {
		return "", err
	}

	newSecret, err := GenerateHexSecret()
	if err != nil {
		return "", err
	}
	encrypted, err := p.envelope.Seal(newSecret)
	if err != nil {
		return "", err
	}

	proj, err := p.store.UpdateSecret(ctx, slug, column, encrypted)
	if err != nil {
		return "", err
	}
	p.pools.Invalidate(proj.DBName)

	return newSecret, nil
}

// RevealKey decrypts and returns the current plaintext value of a secret,
// gated by admin password re-verification at the handler layer.
func (p *Projects) RevealKey(ctx context.Context, slug string, kind SecretKind) (string, error) {
	proj, err := p.store.GetBySlug(ctx, slug)
	if err != nil {
		return "", err
	}

	var encrypted string
	switch kind {
	case SecretAnon:
		encrypted = proj.AnonKeyEncrypted
	case SecretService:
		encrypted = proj.ServiceKeyEncrypted
	case SecretJWT:
		encrypted = proj.JWTSecretEncrypted
	default:
		return "", apperror.New(apperror.Validation, fmt.Sprintf("unknown secret type %q", kind))
	}

	return p.envelope.Open(encrypted)
}

// BlockIP adds an IP to a project's blocklist.
func (p *Projects) BlockIP(ctx context.Context, slug, ip string) error {
	return p.store.AddBlockedIP(ctx, slug, ip)
}

// UnblockIP removes an IP from a project's blocklist.
func (p *Projects) UnblockIP(ctx context.Context, slug, ip string) error {
	return p.store.RemoveBlockedIP(ctx, slug, ip)
}
