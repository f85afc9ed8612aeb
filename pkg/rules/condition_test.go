package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateAllConditionsMustMatch(t *testing.T) {
	row := map[string]any{"status": "shipped", "total": 42.0}

	conditions := []Condition{
		{Field: "status", Op: "eq", Value: "shipped"},
		{Field: "total", Op: "gte", Value: 10},
	}
	assert.True(t, evaluate(conditions, row))

	conditions = append(conditions, Condition{Field: "total", Op: "lt", Value: 10})
	assert.False(t, evaluate(conditions, row))
}

func TestEvaluateMissingFieldNeverMatchesExceptNeq(t *testing.T) {
	row := map[string]any{"status": "shipped"}

	assert.False(t, evaluate([]Condition{{Field: "missing", Op: "eq", Value: "x"}}, row))
	assert.True(t, evaluate([]Condition{{Field: "missing", Op: "neq", Value: "x"}}, row))
}

func TestMatchOneNullChecks(t *testing.T) {
	assert.True(t, matchOne(Condition{Op: "is_null"}, nil))
	assert.False(t, matchOne(Condition{Op: "is_null"}, "present"))
	assert.True(t, matchOne(Condition{Op: "not_null"}, "present"))
	assert.False(t, matchOne(Condition{Op: "not_null"}, nil))
}

func TestCompareEqualStringifiesBothSides(t *testing.T) {
	assert.True(t, compareEqual(42, "42"))
	assert.True(t, compareEqual("active", "active"))
	assert.False(t, compareEqual("active", "inactive"))
}

func TestCompareNumericOrdering(t *testing.T) {
	cmp, ok := compareNumeric(5, "10")
	assert.True(t, ok)
	assert.Less(t, cmp, 0)

	cmp, ok = compareNumeric("10", 10.0)
	assert.True(t, ok)
	assert.Equal(t, 0, cmp)

	_, ok = compareNumeric("not-a-number", 1)
	assert.False(t, ok)
}

func TestDefaultOpIsEq(t *testing.T) {
	assert.True(t, matchOne(Condition{Field: "f", Value: "x"}, "x"))
	assert.False(t, matchOne(Condition{Field: "f", Value: "x"}, "y"))
}
