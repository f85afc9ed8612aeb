// Package control implements the control plane: admin authentication,
// project CRUD, API key lifecycle, and the blocklist/export surface exposed
// under "/control/...".
package control

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/crypto/bcrypt"

	"github.com/cascata/gateway/internal/apperror"
)

// adminClaims is the JWT payload for an admin session: {role:"admin", sub, exp}.
type adminClaims struct {
	jwt.Claims
	Role string `json:"role"`
}

// AdminAuth issues and verifies the process-wide admin JWT and checks admin
// credentials against the control database.
type AdminAuth struct {
	store    *AdminStore
	secret   []byte
	signer   jose.Signer
	tokenTTL time.Duration
}

// NewAdminAuth builds an AdminAuth signing HS256 tokens under secret.
func NewAdminAuth(store *AdminStore, secret string) (*AdminAuth, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)}, nil)
	if err != nil {
		return nil, fmt.Errorf("building admin JWT signer: %w", err)
	}
	return &AdminAuth{store: store, secret: []byte(secret), signer: signer, tokenTTL: 12 * time.Hour}, nil
}

// Login verifies admin credentials and issues a 12-hour HS256 JWT.
func (a *AdminAuth) Login(ctx context.Context, username, password string) (string, error) {
	admin, err := a.store.GetByUsername(ctx, username)
	if err != nil {
		return "", apperror.New(apperror.Unauthorized, "invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return "", apperror.New(apperror.Unauthorized, "invalid credentials")
	}

	now := time.Now()
	claims := adminClaims{
		Claims: jwt.Claims{
			Subject:  admin.Username,
			Expiry:   jwt.NewNumericDate(now.Add(a.tokenTTL)),
			IssuedAt: jwt.NewNumericDate(now),
		},
		Role: "admin",
	}

	token, err := jwt.Signed(a.signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing admin token: %w", err)
	}
	return token, nil
}

// VerifyAdminToken reports whether bearer is a valid, unexpired admin JWT.
// It implements tenant.AdminVerifier.
func (a *AdminAuth) VerifyAdminToken(bearer string) bool {
	if bearer == "" {
		return false
	}

	parsed, err := jwt.ParseSigned(bearer, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return false
	}

	var claims adminClaims
	if err := parsed.Claims(a.secret, &claims); err != nil {
		return false
	}

	if claims.Role != "admin" {
		return false
	}

	return claims.Claims.Expiry != nil && claims.Claims.Expiry.Time().After(time.Now())
}

// Subject returns the username a valid admin bearer was issued to.
func (a *AdminAuth) Subject(bearer string) (string, bool) {
	if bearer == "" {
		return "", false
	}

	parsed, err := jwt.ParseSigned(bearer, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return "", false
	}

	var claims adminClaims
	if err := parsed.Claims(a.secret, &claims); err != nil {
		return "", false
	}
	if claims.Role != "admin" || claims.Claims.Expiry == nil || !claims.Claims.Expiry.Time().After(time.Now()) {
		return "", false
	}
	return claims.Claims.Subject, true
}

// GenerateHexSecret returns a random 32-byte value hex-encoded, the format
// used for anon_key/service_key.
func GenerateHexSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashPassword bcrypt-hashes an admin password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}
