package query

import (
	"fmt"
	"strings"
)

// Filter is one parsed column predicate from the query string.
type Filter struct {
	Column   string
	Operator string
	Value    string
}

// ParseFilters extracts every non-reserved query parameter as a Filter.
// Each value is expected in "operator.value" form; a value with no
// recognised operator prefix is treated as a literal equality filter on the
// raw value.
func ParseFilters(params map[string][]string) []Filter {
	filters := make([]Filter, 0, len(params))

	for key, values := range params {
		if IsReservedParam(key) {
			continue
		}
		for _, v := range values {
			op, val := splitOperator(v)
			filters = append(filters, Filter{Column: key, Operator: op, Value: val})
		}
	}
	return filters
}

var knownOperators = map[string]bool{
	"eq": true, "neq": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"like": true, "ilike": true, "is": true, "in": true, "cs": true, "cd": true,
}

func splitOperator(raw string) (op, value string) {
	idx := strings.IndexByte(raw, '.')
	if idx < 0 {
		return "eq", raw
	}
	candidate := raw[:idx]
	if !knownOperators[candidate] {
		// Unknown or absent operator: the whole value is a literal equality.
		return "eq", raw
	}
	return candidate, raw[idx+1:]
}

// BuildWhereClause renders filters into a parameterised WHERE clause body
// (without the "WHERE" keyword), appending placeholder values to args
// starting at $(startIndex). It returns the rendered clause, the updated
// args slice, and the next free placeholder index.
func BuildWhereClause(filters []Filter, args []any, startIndex int) (string, []any, int) {
	if len(filters) == 0 {
		return "", args, startIndex
	}

	idx := startIndex
	parts := make([]string, 0, len(filters))

	for _, f := range filters {
		col := QuoteIdentifier(sanitizeFilterColumn(f.Column))
		clause, newArgs, nextIdx := renderPredicate(col, f.Operator, f.Value, args, idx)
		args = newArgs
		idx = nextIdx
		parts = append(parts, clause)
	}

	return strings.Join(parts, " AND "), args, idx
}

func sanitizeFilterColumn(col string) string {
	var b strings.Builder
	for _, r := range col {
		if isAllowedOrderColumnChar(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func renderPredicate(col, op, value string, args []any, idx int) (string, []any, int) {
	switch op {
	case "neq":
		return fmt.Sprintf("%s <> $%d", col, idx), append(args, value), idx + 1
	case "gt":
		return fmt.Sprintf("%s > $%d", col, idx), append(args, value), idx + 1
	case "gte":
		return fmt.Sprintf("%s >= $%d", col, idx), append(args, value), idx + 1
	case "lt":
		return fmt.Sprintf("%s < $%d", col, idx), append(args, value), idx + 1
	case "lte":
		return fmt.Sprintf("%s <= $%d", col, idx), append(args, value), idx + 1
	case "like":
		return fmt.Sprintf("%s LIKE $%d", col, idx), append(args, strings.ReplaceAll(value, "*", "%")), idx + 1
	case "ilike":
		return fmt.Sprintf("%s ILIKE $%d", col, idx), append(args, strings.ReplaceAll(value, "*", "%")), idx + 1
	case "is":
		switch strings.ToLower(value) {
		case "null":
			return col + " IS NULL", args, idx
		case "true":
			return col + " IS TRUE", args, idx
		case "false":
			return col + " IS FALSE", args, idx
		default:
			return col + " IS NULL", args, idx
		}
	case "in":
		items := parseInList(value)
		if len(items) == 0 {
			return "1=0", args, idx
		}
		placeholders := make([]string, len(items))
		for i, item := range items {
			placeholders[i] = fmt.Sprintf("$%d", idx)
			args = append(args, item)
			idx++
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")), args, idx
	case "cs":
		return fmt.Sprintf("%s @> $%d", col, idx), append(args, value), idx + 1
	case "cd":
		return fmt.Sprintf("%s <@ $%d", col, idx), append(args, value), idx + 1
	default: // "eq" and anything unrecognised
		return fmt.Sprintf("%s = $%d", col, idx), append(args, value), idx + 1
	}
}

func parseInList(value string) []string {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimPrefix(trimmed, "(")
	trimmed = strings.TrimSuffix(trimmed, ")")
	if trimmed == "" {
		return nil
	}

	raw := strings.Split(trimmed, ",")
	items := make([]string, 0, len(raw))
	for _, r := range raw {
		items = append(items, strings.TrimSpace(r))
	}
	return items
}
