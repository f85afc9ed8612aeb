// Package data implements the data controller: CRUD dispatch through the
// PostgREST-style translator, raw SQL (service-role gated), schema
// introspection, RPC execution, and the soft-delete recycle bin.
//
// Every operation acquires a connection from the per-request pool, opens a
// transaction, sets the session role so row-level-security policies apply,
// runs the statement, and commits.
package data

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/pkg/pool"
	"github.com/cascata/gateway/pkg/tenant"
)

// Controller executes CRUD and administrative operations against a single
// tenant's database pool.
type Controller struct {
	pool *pgxpool.Pool
	role tenant.Role
}

// New creates a Controller bound to the pool and role resolved for the
// current request.
func New(pool *pgxpool.Pool, role tenant.Role) *Controller {
	return &Controller{pool: pool, role: role}
}

// Result carries the rows and metadata returned by a read or write.
type Result struct {
	Rows     []map[string]any
	RowCount int64
}

// withTx runs fn inside a transaction that has SET LOCAL role bound to the
// controller's resolved role, so RLS policies evaluate against the caller's
// actual authorisation rather than the pool's superuser.
func (c *Controller) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		// A failed acquire on an established pool means the tenant database
		// went away underneath it; let the registry invalidate and rebuild.
		pool.ReportError(ctx, err)
		return apperror.Wrap(apperror.BadGateway, "acquiring tenant connection", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		pool.ReportError(ctx, err)
		return apperror.Wrap(apperror.BadGateway, "beginning transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SET LOCAL role = "+quoteRole(c.role)); err != nil {
		return apperror.FromPgError(err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperror.Wrap(apperror.BadGateway, "committing transaction", err)
	}
	return nil
}

// quoteRole maps a Role to the literal SQL role name switched into by SET
// LOCAL. Role values are a fixed, internally-defined set — never derived
// from request input — so a plain identifier is safe here without going
// through query.QuoteIdentifier's value-escaping path.
func quoteRole(r tenant.Role) string {
	switch r {
	case tenant.RoleServiceRole:
		return "service_role"
	case tenant.RoleAuthenticated:
		return "authenticated"
	default:
		return "anon"
	}
}

// rowsToMaps drains a pgx.Rows result into a slice of column-name-keyed maps.
func rowsToMaps(rows pgx.Rows) ([]map[string]any, error) {
	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}

	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, apperror.FromPgError(err)
		}
		row := make(map[string]any, len(names))
		for i, n := range names {
			if i < len(vals) {
				row[n] = vals[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.FromPgError(err)
	}
	return out, nil
}
