package deps

import "strings"

// bound is one endpoint of a version interval.
type bound struct {
	version   Version
	inclusive bool
}

// interval is a contiguous version range with optional endpoints and a set
// of excluded sub-ranges (from != clauses). It is the normal form used for
// constraint intersection: two constraint sets are incompatible exactly when
// the intersection of their intervals is empty.
type interval struct {
	lo, hi     *bound
	exclusions []exclusion
}

// exclusion is a half-open excluded range [lo, hi); exact != pins use a
// degenerate range where hi equals lo inclusively.
type exclusion struct {
	lo, hi    Version
	hiOpen    bool
	pointOnly bool
}

func anyInterval() interval { return interval{} }

// clauseInterval maps one clause to its interval form.
func clauseInterval(cl Clause) interval {
	v := cl.Version
	switch cl.Op {
	case OpEq:
		if cl.Wildcard {
			return interval{
				lo: &bound{version: Version{Release: v.Release, Post: -1, Dev: -1}, inclusive: true},
				hi: &bound{version: nextPrefix(v.Release), inclusive: false},
			}
		}
		return interval{lo: &bound{v, true}, hi: &bound{v, true}}
	case OpNe:
		if cl.Wildcard {
			return interval{exclusions: []exclusion{{
				lo:     Version{Release: v.Release, Post: -1, Dev: -1},
				hi:     nextPrefix(v.Release),
				hiOpen: true,
			}}}
		}
		return interval{exclusions: []exclusion{{lo: v, hi: v, pointOnly: true}}}
	case OpGte:
		return interval{lo: &bound{v, true}}
	case OpGt:
		return interval{lo: &bound{v, false}}
	case OpLte:
		return interval{hi: &bound{v, true}}
	case OpLt:
		return interval{hi: &bound{v, false}}
	case OpCompatible:
		prefix := v.Release[:len(v.Release)-1]
		return interval{
			lo: &bound{v, true},
			hi: &bound{nextPrefix(prefix), false},
		}
	default:
		return anyInterval()
	}
}

// constraintInterval folds all clauses of a constraint into one interval.
func constraintInterval(c Constraint) interval {
	out := anyInterval()
	for _, cl := range c.Clauses {
		out = out.intersect(clauseInterval(cl))
	}
	return out
}

// intersect merges two intervals: tightest lower bound, tightest upper
// bound, union of exclusions.
func (iv interval) intersect(other interval) interval {
	out := interval{lo: iv.lo, hi: iv.hi}
	if other.lo != nil && (out.lo == nil || tighterLo(other.lo, out.lo)) {
		out.lo = other.lo
	}
	if other.hi != nil && (out.hi == nil || tighterHi(other.hi, out.hi)) {
		out.hi = other.hi
	}
	out.exclusions = append(append([]exclusion{}, iv.exclusions...), other.exclusions...)
	return out
}

func tighterLo(a, b *bound) bool {
	c := a.version.Compare(b.version)
	if c != 0 {
		return c > 0
	}
	return !a.inclusive && b.inclusive
}

func tighterHi(a, b *bound) bool {
	c := a.version.Compare(b.version)
	if c != 0 {
		return c < 0
	}
	return !a.inclusive && b.inclusive
}

// empty reports whether no version can satisfy the interval.
func (iv interval) empty() bool {
	if iv.lo != nil && iv.hi != nil {
		c := iv.lo.version.Compare(iv.hi.version)
		if c > 0 {
			return true
		}
		if c == 0 && !(iv.lo.inclusive && iv.hi.inclusive) {
			return true
		}
	}
	for _, ex := range iv.exclusions {
		if iv.coveredBy(ex) {
			return true
		}
	}
	return false
}

// isPoint reports whether the interval admits exactly one version, and
// returns it.
func (iv interval) isPoint() (Version, bool) {
	if iv.lo != nil && iv.hi != nil && iv.lo.inclusive && iv.hi.inclusive &&
		iv.lo.version.Compare(iv.hi.version) == 0 {
		return iv.lo.version, true
	}
	return Version{}, false
}

// coveredBy reports whether an exclusion swallows the whole interval.
func (iv interval) coveredBy(ex exclusion) bool {
	if point, ok := iv.isPoint(); ok {
		if ex.pointOnly {
			return point.Compare(ex.lo) == 0
		}
		return point.Compare(ex.lo) >= 0 && point.Compare(ex.hi) < 0
	}
	if ex.pointOnly {
		return false
	}
	// A bounded interval is dead when it sits fully inside the excluded range.
	if iv.lo == nil || iv.hi == nil {
		return false
	}
	loIn := iv.lo.version.Compare(ex.lo) >= 0
	hiIn := iv.hi.version.Compare(ex.hi) < 0 ||
		(iv.hi.version.Compare(ex.hi) == 0 && !iv.hi.inclusive)
	return loIn && hiIn
}

// canonical renders the interval as a minimal constraint string:
// "==1.2" for a point, ">=1.0,<2.0" for a range, "*" when unconstrained.
func (iv interval) canonical() string {
	if point, ok := iv.isPoint(); ok {
		return "==" + point.String()
	}
	var parts []string
	if iv.lo != nil {
		op := ">="
		if !iv.lo.inclusive {
			op = ">"
		}
		parts = append(parts, op+iv.lo.version.String())
	}
	if iv.hi != nil {
		op := "<="
		if !iv.hi.inclusive {
			op = "<"
		}
		parts = append(parts, op+iv.hi.version.String())
	}
	for _, ex := range iv.exclusions {
		if ex.pointOnly {
			parts = append(parts, "!="+ex.lo.String())
		}
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, ",")
}

// Intersect computes the normal-form intersection of several constraints and
// reports whether it is satisfiable.
func Intersect(constraints ...Constraint) (merged string, satisfiable bool) {
	iv := anyInterval()
	for _, c := range constraints {
		iv = iv.intersect(constraintInterval(c))
	}
	if iv.empty() {
		return "", false
	}
	return iv.canonical(), true
}
