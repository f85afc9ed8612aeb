package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cascata/gateway/internal/apperror"
)

// Statement is a single parameterised SQL statement ready for execution,
// plus an optional companion statement for Prefer: count=exact.
type Statement struct {
	SQL       string
	Args      []any
	CountSQL  string
	CountArgs []any
}

// BuildSelect renders a full SELECT statement for a GET request.
func BuildSelect(table string, selectParam string, filters []Filter, orderTerms []OrderTerm, p Pagination) Statement {
	var args []any
	where, args, _ := BuildWhereClause(filters, args, 1)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", BuildSelectClause(selectParam), QuoteIdentifier(table))
	if where != "" {
		fmt.Fprintf(&b, " WHERE %s", where)
	}
	if order := BuildOrderClause(orderTerms); order != "" {
		fmt.Fprintf(&b, " ORDER BY %s", order)
	}
	if p.HasLimit {
		fmt.Fprintf(&b, " LIMIT %d", p.Limit)
	}
	if p.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", p.Offset)
	}

	stmt := Statement{SQL: b.String(), Args: args}

	if p.CountExact {
		var countArgs []any
		countWhere, countArgs, _ := BuildWhereClause(filters, countArgs, 1)
		countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s", QuoteIdentifier(table))
		if countWhere != "" {
			countSQL += " WHERE " + countWhere
		}
		stmt.CountSQL = countSQL
		stmt.CountArgs = countArgs
	}

	return stmt
}

// InsertOptions configures ON CONFLICT handling and RETURNING for an INSERT.
type InsertOptions struct {
	OnConflictColumns string // from the on_conflict query parameter; defaults to "id"
	Resolution        string // "merge-duplicates", "ignore-duplicates", or ""
	ReturnMinimal     bool
}

// BuildInsert renders an INSERT statement for one or more JSON row objects.
// Every row must share the same set of keys.
func BuildInsert(table string, rows []map[string]any, opts InsertOptions) (Statement, error) {
	if len(rows) == 0 {
		return Statement{}, apperror.New(apperror.Validation, "insert body must contain at least one row")
	}

	columns := sortedKeys(rows[0])
	if len(columns) == 0 {
		return Statement{}, apperror.New(apperror.Validation, "insert row must have at least one column")
	}

	var args []any
	idx := 1
	valueGroups := make([]string, 0, len(rows))

	for _, row := range rows {
		placeholders := make([]string, 0, len(columns))
		for _, col := range columns {
			v, ok := row[col]
			if !ok {
				return Statement{}, apperror.New(apperror.Validation, fmt.Sprintf("row is missing column %q present in the first row", col))
			}
			placeholders = append(placeholders, fmt.Sprintf("$%d", idx))
			args = append(args, v)
			idx++
		}
		valueGroups = append(valueGroups, "("+strings.Join(placeholders, ", ")+")")
	}

	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = QuoteIdentifier(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES %s",
		QuoteIdentifier(table), strings.Join(quotedCols, ", "), strings.Join(valueGroups, ", "))

	switch opts.Resolution {
	case "merge-duplicates":
		conflictCols := opts.OnConflictColumns
		if conflictCols == "" {
			conflictCols = "id"
		}
		conflictIdents := make([]string, 0)
		for _, c := range strings.Split(conflictCols, ",") {
			conflictIdents = append(conflictIdents, QuoteIdentifier(strings.TrimSpace(c)))
		}
		sets := make([]string, 0, len(columns))
		for _, c := range columns {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", QuoteIdentifier(c), QuoteIdentifier(c)))
		}
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflictIdents, ", "), strings.Join(sets, ", "))
	case "ignore-duplicates":
		b.WriteString(" ON CONFLICT DO NOTHING")
	}

	if !opts.ReturnMinimal {
		b.WriteString(" RETURNING *")
	}

	return Statement{SQL: b.String(), Args: args}, nil
}

// BuildUpdate renders an UPDATE statement. A filterless update is rejected —
// partial, scoped mutation is mandatory for PATCH.
func BuildUpdate(table string, patch map[string]any, filters []Filter, returnMinimal bool) (Statement, error) {
	if len(filters) == 0 {
		return Statement{}, apperror.New(apperror.Validation, "update requires at least one filter")
	}
	if len(patch) == 0 {
		return Statement{}, apperror.New(apperror.Validation, "update body must contain at least one column")
	}

	columns := sortedKeys(patch)
	var args []any
	idx := 1

	sets := make([]string, 0, len(columns))
	for _, col := range columns {
		sets = append(sets, fmt.Sprintf("%s = $%d", QuoteIdentifier(col), idx))
		args = append(args, patch[col])
		idx++
	}

	where, args, _ := BuildWhereClause(filters, args, idx)

	var b strings.Builder
	fmt.Fprintf(&b, "UPDATE %s SET %s WHERE %s", QuoteIdentifier(table), strings.Join(sets, ", "), where)
	if !returnMinimal {
		b.WriteString(" RETURNING *")
	}

	return Statement{SQL: b.String(), Args: args}, nil
}

// BuildDelete renders a DELETE statement. A filterless delete is rejected.
func BuildDelete(table string, filters []Filter, returnMinimal bool) (Statement, error) {
	if len(filters) == 0 {
		return Statement{}, apperror.New(apperror.Validation, "delete requires at least one filter")
	}

	var args []any
	where, args, _ := BuildWhereClause(filters, args, 1)

	var b strings.Builder
	fmt.Fprintf(&b, "DELETE FROM %s WHERE %s", QuoteIdentifier(table), where)
	if !returnMinimal {
		b.WriteString(" RETURNING *")
	}

	return Statement{SQL: b.String(), Args: args}, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
