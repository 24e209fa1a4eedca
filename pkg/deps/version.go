// Package deps implements PEP 440-style version constraint parsing,
// intersection analysis and cross-agent dependency conflict detection.
package deps

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidVersion indicates a version string that does not parse.
var ErrInvalidVersion = errors.New("invalid version")

// release phases, ordered. A dev release of X precedes any pre-release of X,
// which precedes the final release, which precedes any post release.
const (
	phaseDev = iota
	phasePre
	phaseFinal
	phasePost
)

// Version is a parsed PEP 440-style version: release segments plus optional
// pre (aN/bN/rcN), post (.postN) and dev (.devN) markers.
type Version struct {
	Release []int
	PreTag  string // "a", "b", "rc" or ""
	PreNum  int
	Post    int // -1 when absent
	Dev     int // -1 when absent
}

var preTags = map[string]string{
	"a": "a", "alpha": "a",
	"b": "b", "beta": "b",
	"rc": "rc", "c": "rc", "pre": "rc", "preview": "rc",
}

var preTagRank = map[string]int{"a": 0, "b": 1, "rc": 2}

// ParseVersion parses a version string such as "1.0", "2.1.3rc1",
// "1.0.0.post1" or "1.2.dev3".
func ParseVersion(s string) (Version, error) {
	v := Version{Post: -1, Dev: -1}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return v, fmt.Errorf("%w: empty string", ErrInvalidVersion)
	}

	// Optional "v" prefix, as in "v1.2".
	s = strings.TrimPrefix(s, "v")

	// Release segments: leading digits and dots.
	i := 0
	for i < len(s) && (isDigit(s[i]) || s[i] == '.') {
		i++
	}
	releasePart, rest := s[:i], s[i:]
	releasePart = strings.TrimSuffix(releasePart, ".")
	if releasePart == "" {
		return v, fmt.Errorf("%w: %q has no release segment", ErrInvalidVersion, s)
	}
	for _, seg := range strings.Split(releasePart, ".") {
		if seg == "" {
			return v, fmt.Errorf("%w: %q has an empty release segment", ErrInvalidVersion, s)
		}
		n, err := strconv.Atoi(seg)
		if err != nil {
			return v, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		v.Release = append(v.Release, n)
	}

	// Optional pre/post/dev markers, separated by "." or "-" or nothing.
	for rest != "" {
		rest = strings.TrimLeft(rest, ".-_")
		if rest == "" {
			break
		}
		j := 0
		for j < len(rest) && !isDigit(rest[j]) {
			j++
		}
		tag := rest[:j]
		rest = rest[j:]
		k := 0
		for k < len(rest) && isDigit(rest[k]) {
			k++
		}
		num := 0
		if k > 0 {
			num, _ = strconv.Atoi(rest[:k])
		}
		rest = rest[k:]

		switch {
		case tag == "post" || tag == "r" || tag == "rev":
			v.Post = num
		case tag == "dev":
			v.Dev = num
		default:
			canonical, ok := preTags[tag]
			if !ok {
				return v, fmt.Errorf("%w: %q has unknown segment %q", ErrInvalidVersion, s, tag)
			}
			v.PreTag = canonical
			v.PreNum = num
		}
	}

	return v, nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func (v Version) phase() int {
	switch {
	case v.PreTag != "":
		return phasePre
	case v.Post >= 0:
		return phasePost
	case v.Dev >= 0:
		return phaseDev
	default:
		return phaseFinal
	}
}

// Compare returns -1, 0 or 1 ordering v against o per PEP 440 release
// segment comparison with pre/post/dev ordering.
func (v Version) Compare(o Version) int {
	if c := compareRelease(v.Release, o.Release); c != 0 {
		return c
	}
	if c := cmpInt(v.phase(), o.phase()); c != 0 {
		return c
	}
	switch v.phase() {
	case phasePre:
		if c := cmpInt(preTagRank[v.PreTag], preTagRank[o.PreTag]); c != 0 {
			return c
		}
		if c := cmpInt(v.PreNum, o.PreNum); c != 0 {
			return c
		}
	case phasePost:
		if c := cmpInt(v.Post, o.Post); c != 0 {
			return c
		}
	case phaseDev:
		if c := cmpInt(v.Dev, o.Dev); c != 0 {
			return c
		}
	}
	// Dev markers order below otherwise-equal versions.
	return cmpInt(devRank(v), devRank(o))
}

func devRank(v Version) int {
	if v.phase() != phaseDev && v.Dev >= 0 {
		return 0
	}
	return 1
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareRelease compares release segments numerically, zero-padding the
// shorter side ("1.0" == "1.0.0").
func compareRelease(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var ai, bi int
		if i < len(a) {
			ai = a[i]
		}
		if i < len(b) {
			bi = b[i]
		}
		if c := cmpInt(ai, bi); c != 0 {
			return c
		}
	}
	return 0
}

// String renders the canonical form of the version.
func (v Version) String() string {
	var b strings.Builder
	for i, seg := range v.Release {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(seg))
	}
	if v.PreTag != "" {
		fmt.Fprintf(&b, "%s%d", v.PreTag, v.PreNum)
	}
	if v.Post >= 0 {
		fmt.Fprintf(&b, ".post%d", v.Post)
	}
	if v.Dev >= 0 {
		fmt.Fprintf(&b, ".dev%d", v.Dev)
	}
	return b.String()
}

// nextPrefix returns the smallest version above the range covered by the
// given release prefix: nextPrefix([1,5]) is 1.6, used as the exclusive
// upper bound of "==1.5.*" and "~=1.5.2" style clauses.
func nextPrefix(release []int) Version {
	next := make([]int, len(release))
	copy(next, release)
	next[len(next)-1]++
	return Version{Release: next, Post: -1, Dev: -1}
}

// hasReleasePrefix reports whether v's release starts with the given prefix,
// zero-padding v when shorter.
func hasReleasePrefix(v Version, prefix []int) bool {
	for i, p := range prefix {
		var seg int
		if i < len(v.Release) {
			seg = v.Release[i]
		}
		if seg != p {
			return false
		}
	}
	return true
}
