package control

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cascata/gateway/internal/apperror"
)

// PushHistoryStore records push-delivery outcomes into the control
// database's history table, independent of any one tenant's pool — push
// jobs can be audited even if the tenant database later becomes
// unreachable.
type PushHistoryStore struct {
	pool *pgxpool.Pool
}

// NewPushHistoryStore creates a PushHistoryStore.
func NewPushHistoryStore(pool *pgxpool.Pool) *PushHistoryStore {
	return &PushHistoryStore{pool: pool}
}

// Record inserts one audit row for a completed or partially-completed push
// job.
func (s *PushHistoryStore) Record(ctx context.Context, projectSlug, userID, status, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO push_history (project_slug, user_id, status, detail, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		projectSlug, userID, status, detail)
	if err != nil {
		return apperror.FromPgError(err)
	}
	return nil
}
