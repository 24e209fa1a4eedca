package deps

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConstraint indicates a constraint string that does not parse.
var ErrInvalidConstraint = errors.New("invalid constraint")

// Op is a version comparison operator.
type Op string

const (
	OpEq         Op = "=="
	OpNe         Op = "!="
	OpGte        Op = ">="
	OpGt         Op = ">"
	OpLte        Op = "<="
	OpLt         Op = "<"
	OpCompatible Op = "~=" // compatible release
)

// operator parse order matters: longest first so ">=" is not read as ">".
var operators = []Op{OpCompatible, OpEq, OpNe, OpGte, OpLte, OpGt, OpLt}

// Clause is a single operator/version pair. Wildcard clauses ("==1.5.*",
// "!=1.5.*") match on release prefix.
type Clause struct {
	Op       Op
	Version  Version
	Wildcard bool
}

// Constraint is a comma-joined conjunction of clauses. An empty clause set
// (from "" or "*") matches every version.
type Constraint struct {
	Clauses []Clause
	raw     string
}

// Parse parses a constraint such as ">=1.0,<2.0,!=1.5.*". The empty string
// and "*" parse to the unconstrained ("any") constraint.
func Parse(s string) (Constraint, error) {
	raw := strings.TrimSpace(s)
	c := Constraint{raw: raw}
	if raw == "" || raw == "*" {
		return c, nil
	}

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return c, fmt.Errorf("%w: empty clause in %q", ErrInvalidConstraint, s)
		}
		clause, err := parseClause(part)
		if err != nil {
			return c, err
		}
		c.Clauses = append(c.Clauses, clause)
	}
	return c, nil
}

func parseClause(part string) (Clause, error) {
	var op Op
	for _, candidate := range operators {
		if strings.HasPrefix(part, string(candidate)) {
			op = candidate
			break
		}
	}
	if op == "" {
		return Clause{}, fmt.Errorf("%w: %q has no operator", ErrInvalidConstraint, part)
	}

	versionPart := strings.TrimSpace(part[len(op):])
	if versionPart == "" {
		return Clause{}, fmt.Errorf("%w: %q has no version", ErrInvalidConstraint, part)
	}
	// A second operator directly after the first (e.g. ">>=1") is malformed.
	for _, candidate := range operators {
		if strings.HasPrefix(versionPart, string(candidate)) {
			return Clause{}, fmt.Errorf("%w: %q", ErrInvalidConstraint, part)
		}
	}

	wildcard := false
	if strings.HasSuffix(versionPart, ".*") {
		if op != OpEq && op != OpNe {
			return Clause{}, fmt.Errorf("%w: wildcard only valid with == or !=: %q", ErrInvalidConstraint, part)
		}
		wildcard = true
		versionPart = strings.TrimSuffix(versionPart, ".*")
	}

	v, err := ParseVersion(versionPart)
	if err != nil {
		return Clause{}, fmt.Errorf("%w: %q: %v", ErrInvalidConstraint, part, err)
	}
	if op == OpCompatible && len(v.Release) < 2 {
		return Clause{}, fmt.Errorf("%w: ~= requires at least two release segments: %q", ErrInvalidConstraint, part)
	}

	return Clause{Op: op, Version: v, Wildcard: wildcard}, nil
}

// IsAny reports whether the constraint matches every version.
func (c Constraint) IsAny() bool { return len(c.Clauses) == 0 }

// Allows reports whether v satisfies every clause of the constraint.
func (c Constraint) Allows(v Version) bool {
	for _, clause := range c.Clauses {
		if !clause.allows(v) {
			return false
		}
	}
	return true
}

func (cl Clause) allows(v Version) bool {
	switch cl.Op {
	case OpEq:
		if cl.Wildcard {
			return hasReleasePrefix(v, cl.Version.Release)
		}
		return v.Compare(cl.Version) == 0
	case OpNe:
		if cl.Wildcard {
			return !hasReleasePrefix(v, cl.Version.Release)
		}
		return v.Compare(cl.Version) != 0
	case OpGte:
		return v.Compare(cl.Version) >= 0
	case OpGt:
		return v.Compare(cl.Version) > 0
	case OpLte:
		return v.Compare(cl.Version) <= 0
	case OpLt:
		return v.Compare(cl.Version) < 0
	case OpCompatible:
		prefix := cl.Version.Release[:len(cl.Version.Release)-1]
		return v.Compare(cl.Version) >= 0 && hasReleasePrefix(v, prefix)
	default:
		return false
	}
}

// String returns the constraint as originally written ("*" for any).
func (c Constraint) String() string {
	if c.raw == "" {
		return "*"
	}
	return c.raw
}

func (cl Clause) String() string {
	if cl.Wildcard {
		return string(cl.Op) + cl.Version.String() + ".*"
	}
	return string(cl.Op) + cl.Version.String()
}
