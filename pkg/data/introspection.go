package data

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/cascata/gateway/internal/apperror"
)

// introspection queries run directly against information_schema / pg_catalog
// with no caller-supplied SQL text, so they are permitted for any role —
// they can't be used to exfiltrate anything the role's RLS policies would
// otherwise block, since they only describe structure, not row data.

// ListTables returns every base table in the public schema.
func (c *Controller) ListTables(ctx context.Context) ([]map[string]any, error) {
	return c.introspect(ctx, `
		SELECT table_name, table_type
		FROM information_schema.tables
		WHERE table_schema = 'public'
		ORDER BY table_name`)
}

// GetColumns returns the column definitions for one table.
func (c *Controller) GetColumns(ctx context.Context, table string) ([]map[string]any, error) {
	return c.introspect(ctx, `
		SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`, table)
}

// ListFunctions returns every function in the public schema.
func (c *Controller) ListFunctions(ctx context.Context) ([]map[string]any, error) {
	return c.introspect(ctx, `
		SELECT p.proname AS name, pg_get_function_arguments(p.oid) AS arguments,
			pg_get_function_result(p.oid) AS return_type
		FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		WHERE n.nspname = 'public'
		ORDER BY p.proname`)
}

// ListTriggers returns every trigger defined on tables in the public schema.
func (c *Controller) ListTriggers(ctx context.Context) ([]map[string]any, error) {
	return c.introspect(ctx, `
		SELECT trigger_name, event_manipulation, event_object_table, action_timing
		FROM information_schema.triggers
		WHERE trigger_schema = 'public'
		ORDER BY event_object_table, trigger_name`)
}

// GetFunctionDefinition returns the source of a single function.
func (c *Controller) GetFunctionDefinition(ctx context.Context, name string) (string, error) {
	var def string
	err := c.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT pg_get_functiondef(p.oid)
			FROM pg_proc p
			JOIN pg_namespace n ON n.oid = p.pronamespace
			WHERE n.nspname = 'public' AND p.proname = $1
			LIMIT 1`, name)
		if err := row.Scan(&def); err != nil {
			if err == pgx.ErrNoRows {
				return apperror.New(apperror.NotFound, "function not found")
			}
			return apperror.FromPgError(err)
		}
		return nil
	})
	return def, err
}

func (c *Controller) introspect(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	var out []map[string]any
	err := c.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return apperror.FromPgError(err)
		}
		defer rows.Close()
		out, err = rowsToMaps(rows)
		return err
	})
	return out, err
}
