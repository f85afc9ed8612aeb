package query

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSelectClauseDefaultsToStar(t *testing.T) {
	assert.Equal(t, "*", BuildSelectClause(""))
	assert.Equal(t, "*", BuildSelectClause("*"))
}

func TestBuildSelectClauseAliasAndPassthrough(t *testing.T) {
	got := BuildSelectClause("id,name:full_name,meta->>'key'")
	assert.Equal(t, `"id", "name" AS "full_name", meta->>'key'`, got)
}

func TestParseOrderSanitisesColumnAndDefaultsAsc(t *testing.T) {
	terms := ParseOrder("created_at.desc,name")
	require.Len(t, terms, 2)
	assert.Equal(t, OrderTerm{Column: "created_at", Direction: "desc"}, terms[0])
	assert.Equal(t, OrderTerm{Column: "name", Direction: "asc"}, terms[1])
}

func TestParseFiltersUnknownOperatorIsLiteralEquality(t *testing.T) {
	filters := ParseFilters(map[string][]string{"status": {"active"}})
	require.Len(t, filters, 1)
	assert.Equal(t, "eq", filters[0].Operator)
	assert.Equal(t, "active", filters[0].Value)
}

func TestBuildWhereClauseInEmptyListBecomesFalse(t *testing.T) {
	filters := []Filter{{Column: "id", Operator: "in", Value: "()"}}
	where, args, _ := BuildWhereClause(filters, nil, 1)
	assert.Equal(t, "1=0", where)
	assert.Empty(t, args)
}

func TestBuildWhereClauseEqUsesPlaceholder(t *testing.T) {
	filters := []Filter{{Column: "status", Operator: "eq", Value: "active"}}
	where, args, next := BuildWhereClause(filters, nil, 1)
	assert.Equal(t, `"status" = $1`, where)
	assert.Equal(t, []any{"active"}, args)
	assert.Equal(t, 2, next)
}

func TestBuildInsertRejectsEmptyRows(t *testing.T) {
	_, err := BuildInsert("widgets", nil, InsertOptions{})
	require.Error(t, err)
}

func TestBuildInsertMergeDuplicates(t *testing.T) {
	rows := []map[string]any{{"id": 1, "name": "a"}}
	stmt, err := BuildInsert("widgets", rows, InsertOptions{Resolution: "merge-duplicates"})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "ON CONFLICT (\"id\") DO UPDATE SET")
	assert.Contains(t, stmt.SQL, "RETURNING *")
}

func TestBuildUpdateRejectsEmptyFilters(t *testing.T) {
	_, err := BuildUpdate("widgets", map[string]any{"name": "a"}, nil, false)
	require.Error(t, err)
}

func TestBuildDeleteRejectsEmptyFilters(t *testing.T) {
	_, err := BuildDelete("widgets", nil, false)
	require.Error(t, err)
}

func TestParsePaginationRangeHeader(t *testing.T) {
	p, err := ParsePagination("0-9", "", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Offset)
	assert.Equal(t, 10, p.Limit)
	assert.True(t, p.HasLimit)
}

func TestParsePaginationExplicitLimitOverridesRange(t *testing.T) {
	p, err := ParsePagination("0-9", "5", "2", "", "")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Limit)
	assert.Equal(t, 2, p.Offset)
}

func TestContentRangeEmptyResult(t *testing.T) {
	assert.Equal(t, "0-0/0", ContentRange(0, 0, 0))
}

func TestParseOrderStripsDangerousCharacters(t *testing.T) {
	terms := ParseOrder("name;--drop.desc")
	require.Len(t, terms, 1)

	clause := BuildOrderClause(terms)
	assert.NotContains(t, clause, ";")
	assert.Contains(t, clause, "DESC")
}

func TestParsePaginationInvertedRangeRejected(t *testing.T) {
	_, err := ParsePagination("100-50", "", "", "", "")
	require.Error(t, err)
}

func TestParsePaginationSingleRowRange(t *testing.T) {
	p, err := ParsePagination("0-0", "", "", "", "")
	require.NoError(t, err)
	assert.True(t, p.HasLimit)
	assert.Equal(t, 1, p.Limit)
}

// TestBuildWhereClausePlaceholdersMatchArgs pins the core translator
// invariant: every user value lands in the args slice behind a placeholder,
// and the raw value never appears in the SQL text.
func TestBuildWhereClausePlaceholdersMatchArgs(t *testing.T) {
	values := []string{
		"plain",
		"'; DROP TABLE users; --",
		`va"l"ue`,
		"üñíçødé ☃",
		"line\nbreak",
	}

	for _, v := range values {
		filters := []Filter{
			{Column: "a", Operator: "eq", Value: v},
			{Column: "b", Operator: "like", Value: v},
			{Column: "c", Operator: "in", Value: "(" + v + ")"},
		}
		where, args, next := BuildWhereClause(filters, nil, 1)

		assert.Len(t, args, next-1)
		assert.NotContains(t, where, v)
		for i := 1; i < next; i++ {
			assert.Contains(t, where, "$"+strconv.Itoa(i))
		}
	}
}
