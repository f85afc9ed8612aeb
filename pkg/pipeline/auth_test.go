package pipeline

import (
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascata/gateway/pkg/tenant"
)

func testProject() *tenant.Project {
	return &tenant.Project{
		Slug: "acme",
		Secrets: tenant.Secrets{
			AnonKey:    "anon-key",
			ServiceKey: "service-key",
			JWTSecret:  "0123456789abcdef0123456789abcdef",
		},
	}
}

func signTenantToken(t *testing.T, secret string, expiry time.Time) string {
	t.Helper()

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)}, nil)
	require.NoError(t, err)

	claims := tenantClaims{
		Claims: jwt.Claims{
			Subject: "user-1",
			Expiry:  jwt.NewNumericDate(expiry),
		},
		Role: "authenticated",
	}
	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(t, err)
	return token
}

func TestResolveRole_Precedence(t *testing.T) {
	proj := testProject()
	userJWT := signTenantToken(t, proj.Secrets.JWTSecret, time.Now().Add(time.Hour))

	tests := []struct {
		name     string
		apikey   string
		bearer   string
		path     string
		wantRole tenant.Role
		wantOK   bool
	}{
		{"bearer service key", "", "service-key", "/api/data/acme/orders", tenant.RoleServiceRole, true},
		{"bearer anon key", "", "anon-key", "/api/data/acme/orders", tenant.RoleAnon, true},
		{"apikey service key", "service-key", "", "/api/data/acme/orders", tenant.RoleServiceRole, true},
		{"tenant user jwt", "", userJWT, "/api/data/acme/orders", tenant.RoleAuthenticated, true},
		{"apikey anon key", "anon-key", "", "/api/data/acme/orders", tenant.RoleAnon, true},
		{"service apikey wins over bearer jwt", "service-key", userJWT, "/api/data/acme/orders", tenant.RoleServiceRole, true},
		{"auth flow path without credentials", "", "", "/api/data/acme/auth/refresh", tenant.RoleAnon, true},
		{"oauth callback without credentials", "", "", "/api/data/acme/auth/callback", tenant.RoleAnon, true},
		{"no credentials, normal path", "", "", "/api/data/acme/orders", "", false},
		{"wrong apikey", "nope", "", "/api/data/acme/orders", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, ok := resolveRole(proj, tt.apikey, tt.bearer, tt.path)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantRole, role)
			}
		})
	}
}

func TestResolveRole_ExpiredJWTRejected(t *testing.T) {
	proj := testProject()
	expired := signTenantToken(t, proj.Secrets.JWTSecret, time.Now().Add(-time.Minute))

	_, ok := resolveRole(proj, "", expired, "/api/data/acme/orders")
	assert.False(t, ok)
}

func TestResolveRole_WrongSecretJWTRejected(t *testing.T) {
	proj := testProject()
	forged := signTenantToken(t, "another-secret-another-secret-xx", time.Now().Add(time.Hour))

	_, ok := resolveRole(proj, "", forged, "/api/data/acme/orders")
	assert.False(t, ok)
}
