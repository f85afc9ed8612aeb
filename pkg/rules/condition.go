package rules

import (
	"fmt"
	"strconv"
)

// evaluate reports whether every condition matches row. An unknown field
// (absent from row) is compared as nil: against a non-nil condition value it
// matches only under "neq", and it always matches "is_null", mirroring SQL's
// "missing value compares unequal" intuition without introducing NULL
// three-valued logic for an in-memory check.
func evaluate(conditions []Condition, row map[string]any) bool {
	for _, c := range conditions {
		if !matchOne(c, row[c.Field]) {
			return false
		}
	}
	return true
}

func matchOne(c Condition, actual any) bool {
	switch c.Op {
	case "eq", "":
		return compareEqual(actual, c.Value)
	case "neq":
		return !compareEqual(actual, c.Value)
	case "gt":
		cmp, ok := compareNumeric(actual, c.Value)
		return ok && cmp > 0
	case "gte":
		cmp, ok := compareNumeric(actual, c.Value)
		return ok && cmp >= 0
	case "lt":
		cmp, ok := compareNumeric(actual, c.Value)
		return ok && cmp < 0
	case "lte":
		cmp, ok := compareNumeric(actual, c.Value)
		return ok && cmp <= 0
	case "is_null":
		return actual == nil
	case "not_null":
		return actual != nil
	default:
		return false
	}
}

// compareEqual compares two JSON-decoded scalars by string representation,
// so a numeric 42 and a string "42" arriving from different decode paths
// still match.
func compareEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compareNumeric(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
