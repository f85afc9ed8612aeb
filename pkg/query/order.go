package query

import (
	"strings"
)

// isAllowedOrderColumnChar reports whether r is permitted in an order-by
// column name: letters, digits, underscore, space, dash, and '>' (JSON
// traversal via ->>).
func isAllowedOrderColumnChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == ' ' || r == '-' || r == '>':
		return true
	default:
		return false
	}
}

// OrderTerm is one parsed "col[.{asc|desc}][.{nullsfirst|nullslast}]" entry.
type OrderTerm struct {
	Column    string
	Direction string // "asc" or "desc"
	Nulls     string // "", "nullsfirst", or "nullslast"
}

// ParseOrder parses a comma-separated PostgREST order parameter.
func ParseOrder(orderParam string) []OrderTerm {
	if orderParam == "" {
		return nil
	}

	terms := make([]OrderTerm, 0, 4)
	for _, raw := range strings.Split(orderParam, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		segments := strings.Split(raw, ".")

		term := OrderTerm{Direction: "asc"}
		term.Column = sanitizeOrderColumn(segments[0])

		for _, seg := range segments[1:] {
			switch strings.ToLower(seg) {
			case "asc", "desc":
				term.Direction = strings.ToLower(seg)
			case "nullsfirst", "nullslast":
				term.Nulls = strings.ToLower(seg)
			}
		}
		if term.Column != "" {
			terms = append(terms, term)
		}
	}
	return terms
}

func sanitizeOrderColumn(col string) string {
	var b strings.Builder
	for _, r := range col {
		if isAllowedOrderColumnChar(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BuildOrderClause renders parsed order terms into a SQL ORDER BY clause
// body (without the "ORDER BY" keyword), or "" if there are no terms.
func BuildOrderClause(terms []OrderTerm) string {
	if len(terms) == 0 {
		return ""
	}

	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		clause := QuoteIdentifier(t.Column) + " " + strings.ToUpper(t.Direction)
		switch t.Nulls {
		case "nullsfirst":
			clause += " NULLS FIRST"
		case "nullslast":
			clause += " NULLS LAST"
		}
		parts = append(parts, clause)
	}
	return strings.Join(parts, ", ")
}
