package filter

import (
	"strings"
	"time"
)

// Compare orders two canonical values (string, int64, float64, bool,
// time.Time). The second result is false when the values are not comparable.
func Compare(a, b any) (int, bool) {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case int64:
		switch bv := b.(type) {
		case int64:
			return compareOrdered(av, bv), true
		case float64:
			return compareOrdered(float64(av), bv), true
		}
	case float64:
		switch bv := b.(type) {
		case float64:
			return compareOrdered(av, bv), true
		case int64:
			return compareOrdered(av, float64(bv)), true
		}
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	}
	return 0, false
}

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareForOrder sorts absent values after present ones in ascending order
// and before them in descending order.
func compareForOrder(a, b any, desc bool) int {
	var c int
	switch {
	case a == nil && b == nil:
		c = 0
	case a == nil:
		c = 1
	case b == nil:
		c = -1
	default:
		c, _ = Compare(a, b)
	}
	if desc {
		return -c
	}
	return c
}
