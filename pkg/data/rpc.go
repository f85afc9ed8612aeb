package data

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/pkg/query"
	"github.com/cascata/gateway/pkg/tenant"
)

// ExecuteRPC calls a public function positionally: args arrive as a JSON
// object and are passed as positional parameters in the declaration order
// implied by sorting the object's keys (callers are expected to name
// parameters to match the function's declared argument order).
func (c *Controller) ExecuteRPC(ctx context.Context, name string, args map[string]any) ([]map[string]any, error) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	placeholders := make([]string, len(keys))
	values := make([]any, len(keys))
	for i, k := range keys {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		values[i] = args[k]
	}

	sql := fmt.Sprintf("SELECT * FROM %s(%s)", query.QuoteIdentifier(name), strings.Join(placeholders, ", "))

	var out []map[string]any
	err := c.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql, values...)
		if err != nil {
			return apperror.FromPgError(err)
		}
		defer rows.Close()
		out, err = rowsToMaps(rows)
		return err
	})
	return out, err
}

// RawQueryResult carries the raw-SQL execution outcome surfaced to the
// caller: {rows, rowCount, command, duration_ms}.
type RawQueryResult struct {
	Rows       []map[string]any
	RowCount   int64
	Command    string
	DurationMs int64
}

// RunRawQuery executes arbitrary SQL. Service-role only: a controller built
// for any other role gets apperror.Forbidden. Database errors surface
// as apperror.Validation (400) with {error, code, position} rather than 500,
// per the error-handling design.
func (c *Controller) RunRawQuery(ctx context.Context, sql string, args []any) (RawQueryResult, error) {
	if c.role != tenant.RoleServiceRole {
		return RawQueryResult{}, apperror.New(apperror.Forbidden, "raw SQL requires the service role")
	}

	var result RawQueryResult
	start := time.Now()
	err := c.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return rawSQLError(err)
		}
		defer rows.Close()

		maps, err := rowsToMaps(rows)
		if err != nil {
			return rawSQLError(err)
		}
		tag := rows.CommandTag()
		result = RawQueryResult{
			Rows:     maps,
			RowCount: tag.RowsAffected(),
			Command:  tag.String(),
		}
		return nil
	})
	result.DurationMs = time.Since(start).Milliseconds()
	return result, err
}

// rawSQLError maps a raw-SQL execution failure to apperror.Validation with
// the database's code and position, instead of the FromPgError default
// (which may map some SQLSTATEs to other kinds) — raw SQL errors surface
// uniformly as 400.
func rawSQLError(err error) error {
	mapped := apperror.FromPgError(err)
	mapped.Kind = apperror.Validation
	return mapped
}
