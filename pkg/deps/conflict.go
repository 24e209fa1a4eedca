package deps

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/psmp-io/psmp/pkg/models"
)

// Declaration is one dependency declaration attributed to the artifact that
// carried it. DeclaredAt orders declarations for "most recent wins"
// tie-breaks.
type Declaration struct {
	Spec       models.DependencySpec
	ArtifactID string
	DeclaredAt time.Time
}

// groupKey scopes conflict detection: declarations only clash within the
// same (scope, library) group; cross-scope clashes degrade to warnings.
type groupKey struct {
	Scope   models.DependencyScope
	Library string
}

// DetectConflicts inspects all live declarations of a project and returns
// the conflicts it finds, critical first, then by library name.
//
// Within one (scope, library) group, an empty constraint intersection is a
// critical conflict. A non-empty intersection where one declaration pins an
// exact version that tightens another declaration's open range is a warning.
// Groups spanning scopes (runtime vs dev) only ever produce warnings.
func DetectConflicts(decls []Declaration) ([]models.DependencyConflict, error) {
	groups := make(map[groupKey][]Declaration)
	byLibrary := make(map[string][]Declaration)
	for _, d := range decls {
		key := groupKey{Scope: d.Spec.Scope, Library: d.Spec.Name}
		groups[key] = append(groups[key], d)
		byLibrary[d.Spec.Name] = append(byLibrary[d.Spec.Name], d)
	}

	var conflicts []models.DependencyConflict

	for key, group := range groups {
		if len(group) < 2 {
			continue
		}
		conflict, err := examineGroup(key.Scope, key.Library, group, false)
		if err != nil {
			return nil, err
		}
		if conflict != nil {
			conflicts = append(conflicts, *conflict)
		}
	}

	// Cross-scope pass: only for libraries whose same-scope groups are clean
	// but whose combined constraints are unsatisfiable.
	for library, all := range byLibrary {
		scopes := map[models.DependencyScope]bool{}
		for _, d := range all {
			scopes[d.Spec.Scope] = true
		}
		if len(scopes) < 2 {
			continue
		}
		if hasConflictFor(conflicts, library) {
			continue
		}
		conflict, err := examineGroup(primaryScope(all), library, all, true)
		if err != nil {
			return nil, err
		}
		if conflict != nil {
			conflicts = append(conflicts, *conflict)
		}
	}

	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Severity != conflicts[j].Severity {
			return conflicts[i].Severity == models.SeverityCritical
		}
		return conflicts[i].Library < conflicts[j].Library
	})
	return conflicts, nil
}

func examineGroup(scope models.DependencyScope, library string, group []Declaration, crossScope bool) (*models.DependencyConflict, error) {
	constraints := make([]Constraint, 0, len(group))
	for _, d := range group {
		c, err := Parse(d.Spec.VersionConstraint)
		if err != nil {
			return nil, fmt.Errorf("declaration %q for %s: %w", d.Spec.VersionConstraint, library, err)
		}
		constraints = append(constraints, c)
	}

	_, satisfiable := Intersect(constraints...)

	severity := models.ConflictSeverity("")
	switch {
	case !satisfiable && crossScope:
		severity = models.SeverityWarning
	case !satisfiable:
		severity = models.SeverityCritical
	case !crossScope && pinTightensRange(constraints):
		severity = models.SeverityWarning
	default:
		return nil, nil
	}

	conflict := &models.DependencyConflict{
		Library:      library,
		Scope:        scope,
		Severity:     severity,
		Requirements: requirements(group),
	}
	if severity == models.SeverityCritical {
		conflict.SuggestedResolutions = criticalSuggestions(library, group)
	} else {
		conflict.SuggestedResolutions = warningSuggestions(library, crossScope)
	}
	return conflict, nil
}

// pinTightensRange reports whether one constraint pins an exact version
// while another constrains the same library only through a lower bound that
// the pin then narrows.
func pinTightensRange(constraints []Constraint) bool {
	var pin *Version
	for _, c := range constraints {
		for _, cl := range c.Clauses {
			if cl.Op == OpEq && !cl.Wildcard {
				v := cl.Version
				pin = &v
			}
		}
	}
	if pin == nil {
		return false
	}
	for _, c := range constraints {
		open := false
		for _, cl := range c.Clauses {
			switch cl.Op {
			case OpGte, OpGt:
				if cl.Version.Compare(*pin) < 0 {
					open = true
				}
			case OpEq, OpCompatible, OpLt, OpLte:
				open = false
			}
		}
		if open {
			return true
		}
	}
	return false
}

func requirements(group []Declaration) []models.ConflictRequirement {
	reqs := make([]models.ConflictRequirement, 0, len(group))
	for _, d := range group {
		reqs = append(reqs, models.ConflictRequirement{
			Agent:   d.Spec.DeclaredByAgent,
			Needs:   d.Spec.VersionConstraint,
			Purpose: d.Spec.Purpose,
		})
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Agent < reqs[j].Agent })
	return reqs
}

func criticalSuggestions(library string, group []Declaration) []string {
	latest := mostRecent(group)
	minimums := collectMinimums(group)

	suggestions := []string{}
	if len(minimums) > 0 {
		suggestions = append(suggestions, fmt.Sprintf(
			"relax %s to the union range of declared minimums (>=%s)", library, minimums[0]))
	}
	suggestions = append(suggestions,
		fmt.Sprintf("standardize on %q, the constraint declared by the most recent artifact (%s)",
			latest.Spec.VersionConstraint, latest.Spec.DeclaredByAgent),
		fmt.Sprintf("isolate %s in a separate environment per agent", library),
		fmt.Sprintf("introduce a compatibility shim around %s", library),
	)
	return suggestions
}

func warningSuggestions(library string, crossScope bool) []string {
	if crossScope {
		return []string{fmt.Sprintf(
			"align the runtime and dev constraints for %s or accept divergent scope environments", library)}
	}
	return []string{fmt.Sprintf(
		"replace the exact pin on %s with a compatible-release constraint (~=)", library)}
}

// mostRecent returns the declaration carried by the newest artifact.
func mostRecent(group []Declaration) Declaration {
	latest := group[0]
	for _, d := range group[1:] {
		if d.DeclaredAt.After(latest.DeclaredAt) {
			latest = d
		}
	}
	return latest
}

// collectMinimums gathers the lowest declared lower-bound versions,
// ascending.
func collectMinimums(group []Declaration) []string {
	var versions []Version
	for _, d := range group {
		c, err := Parse(d.Spec.VersionConstraint)
		if err != nil {
			continue
		}
		for _, cl := range c.Clauses {
			if cl.Op == OpGte || cl.Op == OpGt || cl.Op == OpCompatible || (cl.Op == OpEq && !cl.Wildcard) {
				versions = append(versions, cl.Version)
			}
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Compare(versions[j]) < 0 })
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		out = append(out, v.String())
	}
	return out
}

func hasConflictFor(conflicts []models.DependencyConflict, library string) bool {
	for _, c := range conflicts {
		if c.Library == library {
			return true
		}
	}
	return false
}

func primaryScope(group []Declaration) models.DependencyScope {
	for _, d := range group {
		if d.Spec.Scope == models.ScopeRuntime {
			return models.ScopeRuntime
		}
	}
	return group[0].Spec.Scope
}

// MergedConstraint computes the manifest constraint for one (scope, library)
// group: the canonical intersection when satisfiable, otherwise the most
// recent declaration's constraint (the project remains blocked in that case).
func MergedConstraint(group []Declaration) (string, bool, error) {
	constraints := make([]Constraint, 0, len(group))
	for _, d := range group {
		c, err := Parse(d.Spec.VersionConstraint)
		if err != nil {
			return "", false, err
		}
		constraints = append(constraints, c)
	}
	merged, ok := Intersect(constraints...)
	if !ok {
		return mostRecent(group).Spec.VersionConstraint, false, nil
	}
	if merged == "*" {
		return "", true, nil
	}
	return merged, true, nil
}

// NormalizeConstraint validates and trims a constraint string, returning the
// parse error for invalid input.
func NormalizeConstraint(s string) (string, error) {
	c, err := Parse(s)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(c.String()), nil
}
