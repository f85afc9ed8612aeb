package data

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/cascata/gateway/internal/apperror"
)

// Stats is the payload returned by get_stats: table/row/user counts and a
// human-formatted database size.
type Stats struct {
	TableCount       int64  `json:"table_count"`
	TotalRowEstimate int64  `json:"total_row_estimate"`
	UserCount        int64  `json:"user_count"`
	DatabaseSize     string `json:"database_size"`
}

// GetStats reports coarse database statistics using pg_size_pretty for
// human-readable sizing.
func (c *Controller) GetStats(ctx context.Context) (Stats, error) {
	var s Stats

	// User count is best-effort and queried standalone: the auth schema is
	// managed by the platform's auth provider and isn't guaranteed to exist
	// for every tenant, and a failed statement would otherwise poison the
	// rest of the stats transaction.
	_ = c.pool.QueryRow(ctx, `SELECT count(*) FROM auth.users`).Scan(&s.UserCount)

	err := c.withTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			SELECT count(*) FROM information_schema.tables WHERE table_schema = 'public'
		`).Scan(&s.TableCount); err != nil {
			return apperror.FromPgError(err)
		}

		if err := tx.QueryRow(ctx, `
			SELECT coalesce(sum(n_live_tup), 0) FROM pg_stat_user_tables
		`).Scan(&s.TotalRowEstimate); err != nil {
			return apperror.FromPgError(err)
		}

		if err := tx.QueryRow(ctx, `
			SELECT pg_size_pretty(pg_database_size(current_database()))
		`).Scan(&s.DatabaseSize); err != nil {
			return apperror.FromPgError(err)
		}

		return nil
	})
	return s, err
}
