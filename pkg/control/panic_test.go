package control

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascata/gateway/pkg/tenant"
)

const testAdminSecret = "test-admin-signing-secret-for-hs256"

func signAdminToken(t *testing.T, secret string) string {
	t.Helper()

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)}, nil)
	require.NoError(t, err)

	claims := adminClaims{
		Claims: jwt.Claims{
			Subject: "root",
			Expiry:  jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "admin",
	}
	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(t, err)
	return token
}

func TestPanicEndpointsSetAndClearTheShield(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	shield := tenant.NewPanicShield(rdb)

	auth, err := NewAdminAuth(nil, testAdminSecret)
	require.NoError(t, err)

	h := NewHandler(slog.Default(), auth, nil, nil, nil, shield)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	ctx := context.Background()
	token := signAdminToken(t, testAdminSecret)

	do := func(method, path, bearer string) *http.Response {
		req, err := http.NewRequest(method, srv.URL+path, nil)
		require.NoError(t, err)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	// Without an admin token the route is rejected before touching the shield.
	resp := do(http.MethodPost, "/projects/acme/panic", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	panicked, err := shield.IsPanicked(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, panicked)

	// An admin locks the project down.
	resp = do(http.MethodPost, "/projects/acme/panic", token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	panicked, err = shield.IsPanicked(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, panicked)

	// And releases it.
	resp = do(http.MethodDelete, "/projects/acme/panic", token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	panicked, err = shield.IsPanicked(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, panicked)
}
