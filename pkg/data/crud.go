package data

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/pkg/query"
)

// SelectOptions carries the parsed request shape for a GET.
type SelectOptions struct {
	Table      string
	Select     string
	Filters    []query.Filter
	Order      []query.OrderTerm
	Pagination query.Pagination
}

// SelectResult carries rows plus the exact-count total when requested.
type SelectResult struct {
	Rows  []map[string]any
	Total int64 // -1 when Prefer: count=exact was not requested
}

// Select runs a translated SELECT and, when requested, a companion
// COUNT(*) query sharing the same filters.
func (c *Controller) Select(ctx context.Context, opts SelectOptions) (SelectResult, error) {
	stmt := query.BuildSelect(opts.Table, opts.Select, opts.Filters, opts.Order, opts.Pagination)

	result := SelectResult{Total: -1}

	err := c.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return apperror.FromPgError(err)
		}
		defer rows.Close()

		maps, err := rowsToMaps(rows)
		if err != nil {
			return err
		}
		result.Rows = maps

		if opts.Pagination.CountExact {
			var total int64
			if err := tx.QueryRow(ctx, stmt.CountSQL, stmt.CountArgs...).Scan(&total); err != nil {
				return apperror.FromPgError(err)
			}
			result.Total = total
		}
		return nil
	})
	return result, err
}

// Insert runs a translated INSERT for one or more JSON row objects.
func (c *Controller) Insert(ctx context.Context, table string, rows []map[string]any, opts query.InsertOptions) ([]map[string]any, error) {
	stmt, err := query.BuildInsert(table, rows, opts)
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	err = c.withTx(ctx, func(tx pgx.Tx) error {
		if opts.ReturnMinimal {
			_, err := tx.Exec(ctx, stmt.SQL, stmt.Args...)
			if err != nil {
				return apperror.FromPgError(err)
			}
			return nil
		}
		result, err := tx.Query(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return apperror.FromPgError(err)
		}
		defer result.Close()
		out, err = rowsToMaps(result)
		return err
	})
	return out, err
}

// Update runs a translated UPDATE (PATCH). Filters must be non-empty; the
// translator itself enforces that and returns apperror.Validation.
func (c *Controller) Update(ctx context.Context, table string, patch map[string]any, filters []query.Filter, returnMinimal bool) ([]map[string]any, error) {
	stmt, err := query.BuildUpdate(table, patch, filters, returnMinimal)
	if err != nil {
		return nil, err
	}
	return c.execReturning(ctx, stmt, returnMinimal)
}

// Delete runs a translated DELETE. Filters must be non-empty.
func (c *Controller) Delete(ctx context.Context, table string, filters []query.Filter, returnMinimal bool) ([]map[string]any, error) {
	stmt, err := query.BuildDelete(table, filters, returnMinimal)
	if err != nil {
		return nil, err
	}
	return c.execReturning(ctx, stmt, returnMinimal)
}

func (c *Controller) execReturning(ctx context.Context, stmt query.Statement, returnMinimal bool) ([]map[string]any, error) {
	var out []map[string]any
	err := c.withTx(ctx, func(tx pgx.Tx) error {
		if returnMinimal {
			_, err := tx.Exec(ctx, stmt.SQL, stmt.Args...)
			if err != nil {
				return apperror.FromPgError(err)
			}
			return nil
		}
		rows, err := tx.Query(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return apperror.FromPgError(err)
		}
		defer rows.Close()
		out, err = rowsToMaps(rows)
		return err
	})
	return out, err
}
