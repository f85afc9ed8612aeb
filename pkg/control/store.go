package control

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cascata/gateway/internal/apperror"
)

// Admin is a control-plane administrator account.
type Admin struct {
	Username     string
	PasswordHash string
}

// AdminStore is the raw-SQL accessor for the admin_users control table.
type AdminStore struct {
	pool *pgxpool.Pool
}

// NewAdminStore creates an AdminStore.
func NewAdminStore(pool *pgxpool.Pool) *AdminStore {
	return &AdminStore{pool: pool}
}

// GetByUsername loads an admin account by username.
func (s *AdminStore) GetByUsername(ctx context.Context, username string) (*Admin, error) {
	var a Admin
	err := s.pool.QueryRow(ctx, `SELECT username, password_hash FROM admin_users WHERE username = $1`, username).
		Scan(&a.Username, &a.PasswordHash)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperror.New(apperror.NotFound, "admin not found")
		}
		return nil, apperror.FromPgError(err)
	}
	return &a, nil
}

// UpsertPassword creates or updates an admin account's password hash — used
// at bootstrap to provision the first admin user.
func (s *AdminStore) UpsertPassword(ctx context.Context, username, passwordHash string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO admin_users (username, password_hash)
		VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET password_hash = EXCLUDED.password_hash`,
		username, passwordHash)
	if err != nil {
		return apperror.FromPgError(err)
	}
	return nil
}
