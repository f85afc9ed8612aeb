package data

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/pkg/query"
)

// recycleBinPrefix marks a soft-deleted table. Admin-only — enforced by the
// HTTP handler layer, same as every other method in this file.
const recycleBinPrefix = "_deleted_"

// CreateTable creates a new table from a column definition list. Column
// types are passed through as-is (admin-only input, trusted at this layer
// the same way the translator trusts a service-role caller's raw SQL).
func (c *Controller) CreateTable(ctx context.Context, table string, columns []ColumnDef) error {
	if len(columns) == 0 {
		return apperror.New(apperror.Validation, "create_table requires at least one column")
	}

	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = fmt.Sprintf("%s %s", query.QuoteIdentifier(col.Name), col.Type)
	}

	sql := fmt.Sprintf("CREATE TABLE %s (%s)", query.QuoteIdentifier(table), strings.Join(defs, ", "))
	return c.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return apperror.FromPgError(err)
		}
		return nil
	})
}

// ColumnDef is a single column name/type pair for CreateTable.
type ColumnDef struct {
	Name string
	Type string
}

// DeleteTable removes a table. Soft-delete (the default) renames the table
// to "_deleted_{unix_ms}_{table}" instead of dropping it; hard delete runs
// DROP TABLE with the requested referential mode.
func (c *Controller) DeleteTable(ctx context.Context, table string, hard bool, cascade bool, nowUnixMs int64) error {
	return c.withTx(ctx, func(tx pgx.Tx) error {
		if !hard {
			renamed := fmt.Sprintf("%s%d_%s", recycleBinPrefix, nowUnixMs, table)
			sql := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", query.QuoteIdentifier(table), query.QuoteIdentifier(renamed))
			if _, err := tx.Exec(ctx, sql); err != nil {
				return apperror.FromPgError(err)
			}
			return nil
		}

		mode := "RESTRICT"
		if cascade {
			mode = "CASCADE"
		}
		sql := fmt.Sprintf("DROP TABLE %s %s", query.QuoteIdentifier(table), mode)
		if _, err := tx.Exec(ctx, sql); err != nil {
			return apperror.FromPgError(err)
		}
		return nil
	})
}

// ListRecycleBin returns every soft-deleted table currently in the public
// schema, newest first.
func (c *Controller) ListRecycleBin(ctx context.Context) ([]map[string]any, error) {
	return c.introspect(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name LIKE $1
		ORDER BY table_name DESC`, recycleBinPrefix+"%")
}

// RestoreTable strips the "_deleted_{unix_ms}_" prefix from a soft-deleted
// table name and renames it back.
func (c *Controller) RestoreTable(ctx context.Context, deletedName string) (string, error) {
	original, ok := stripRecycleBinPrefix(deletedName)
	if !ok {
		return "", apperror.New(apperror.Validation, "not a recycle-bin table name")
	}

	err := c.withTx(ctx, func(tx pgx.Tx) error {
		sql := fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
			query.QuoteIdentifier(deletedName), query.QuoteIdentifier(original))
		if _, err := tx.Exec(ctx, sql); err != nil {
			return apperror.FromPgError(err)
		}
		return nil
	})
	return original, err
}

// stripRecycleBinPrefix parses "_deleted_{unix_ms}_{table}" back to {table}.
func stripRecycleBinPrefix(name string) (string, bool) {
	if !strings.HasPrefix(name, recycleBinPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(name, recycleBinPrefix)
	idx := strings.IndexByte(rest, '_')
	if idx < 0 {
		return "", false
	}
	return rest[idx+1:], true
}
