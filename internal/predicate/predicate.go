// Package predicate implements the value-level comparison rules shared
// by the DML and query layers' condition evaluation, the one place it
// lives since both callers need the exact same numeric-or-string
// fallback semantics and it would otherwise have to be copy-pasted.
package predicate

import (
	"strconv"
	"strings"

	"relsql/internal/dbtypes"
)

const epsilon = 1e-9

// Normalize strips a single matching pair of surrounding quotes.
func Normalize(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func asNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Compare evaluates one non-subquery condition against a field's string
// value, following Match/MatchConditions' fallback order: try numeric
// comparison first when both sides parse as numbers, else compare the raw
// (quote-stripped) strings.
func Compare(cond dbtypes.Condition, value string) bool {
	val := Normalize(value)

	switch cond.Op {
	case dbtypes.OpIn:
		for _, v := range cond.Values {
			nv := Normalize(v)
			if valNum, ok1 := asNumber(val); ok1 {
				if vNum, ok2 := asNumber(nv); ok2 {
					if abs(valNum-vNum) < epsilon {
						return true
					}
					continue
				}
			}
			if val == nv {
				return true
			}
		}
		return false

	case dbtypes.OpEq:
		condVal := Normalize(cond.Value)
		if valNum, ok1 := asNumber(val); ok1 {
			if cNum, ok2 := asNumber(condVal); ok2 {
				return abs(valNum-cNum) < epsilon
			}
		}
		return val == condVal

	case dbtypes.OpNeq:
		condVal := Normalize(cond.Value)
		if valNum, ok1 := asNumber(val); ok1 {
			if cNum, ok2 := asNumber(condVal); ok2 {
				return abs(valNum-cNum) >= epsilon
			}
		}
		return val != condVal

	case dbtypes.OpContains:
		return strings.Contains(val, Normalize(cond.Value))

	case dbtypes.OpLike:
		return likeMatch(val, Normalize(cond.Value))

	case dbtypes.OpNotLike:
		return !likeMatch(val, Normalize(cond.Value))

	case dbtypes.OpBetween:
		lo, hi := Normalize(cond.Low), Normalize(cond.High)
		if v, ok1 := asNumber(val); ok1 {
			if l, ok2 := asNumber(lo); ok2 {
				if h, ok3 := asNumber(hi); ok3 {
					return v >= l && v <= h
				}
			}
		}
		return val >= lo && val <= hi

	case dbtypes.OpGt, dbtypes.OpGte, dbtypes.OpLt, dbtypes.OpLte:
		condVal := Normalize(cond.Value)
		lv, lok := asNumber(val)
		rv, rok := asNumber(condVal)
		if lok && rok {
			switch cond.Op {
			case dbtypes.OpGt:
				return lv > rv
			case dbtypes.OpGte:
				return lv >= rv
			case dbtypes.OpLt:
				return lv < rv
			default:
				return lv <= rv
			}
		}
		switch cond.Op {
		case dbtypes.OpGt:
			return val > condVal
		case dbtypes.OpGte:
			return val >= condVal
		case dbtypes.OpLt:
			return val < condVal
		default:
			return val <= condVal
		}
	}
	return false
}

// Less reports whether a orders before b, numerically if both parse as
// numbers, otherwise lexicographically. Used for MIN/MAX accumulation
// and ORDER BY.
func Less(a, b string) bool {
	an, aok := asNumber(a)
	bn, bok := asNumber(b)
	if aok && bok {
		return an < bn
	}
	return a < b
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// likeMatch implements SQL LIKE with % (any run) and _ (single char)
// wildcards, case-sensitive.
func likeMatch(value, pattern string) bool {
	return likeMatchRunes([]rune(value), []rune(pattern))
}

func likeMatchRunes(value, pattern []rune) bool {
	if len(pattern) == 0 {
		return len(value) == 0
	}
	switch pattern[0] {
	case '%':
		for i := 0; i <= len(value); i++ {
			if likeMatchRunes(value[i:], pattern[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(value) == 0 {
			return false
		}
		return likeMatchRunes(value[1:], pattern[1:])
	default:
		if len(value) == 0 || value[0] != pattern[0] {
			return false
		}
		return likeMatchRunes(value[1:], pattern[1:])
	}
}
