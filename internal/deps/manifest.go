package deps

import (
	"sort"
	"strings"

	"github.com/k8ika0s/crossbuild/internal/artifact"
	"github.com/k8ika0s/crossbuild/internal/target"
)

// Requirement is one declared dependency.
type Requirement struct {
	Constraint string   `json:"constraint,omitempty" yaml:"version,omitempty"`
	Features   []string `json:"features,omitempty" yaml:"features,omitempty"`
	// Platforms restricts the requirement to matching triplets.
	Platforms []string `json:"platforms,omitempty" yaml:"platforms,omitempty"`
}

// Declaration maps package names to requirements.
type Declaration map[string]Requirement

// Digest identifies the declaration content independent of map order.
func (d Declaration) Digest() string {
	norm := make(map[string]Requirement, len(d))
	for name, req := range d {
		req.Features = sortedUnique(req.Features)
		req.Platforms = sortedUnique(req.Platforms)
		norm[strings.ToLower(name)] = req
	}
	return artifact.DigestValue(norm)
}

// FoldDuplicate finds two keys of m that differ only in case, in sorted
// order. Package names are case-insensitive.
func FoldDuplicate[V any](m map[string]V) (string, string, bool) {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	seen := make(map[string]string, len(names))
	for _, n := range names {
		k := strings.ToLower(n)
		if prev, ok := seen[k]; ok {
			return prev, n, true
		}
		seen[k] = n
	}
	return "", "", false
}

// applicable returns the requirements that apply to t, by sorted name.
func (d Declaration) applicable(t target.Triplet) ([]string, map[string]Requirement) {
	names := make([]string, 0, len(d))
	reqs := make(map[string]Requirement, len(d))
	for name, req := range d {
		if len(req.Platforms) > 0 && !matchesAny(t, req.Platforms) {
			continue
		}
		n := strings.ToLower(name)
		names = append(names, n)
		reqs[n] = req
	}
	sort.Strings(names)
	return names, reqs
}

func matchesAny(t target.Triplet, qualifiers []string) bool {
	for _, q := range qualifiers {
		if t.Matches(q) {
			return true
		}
	}
	return false
}

// Resolved is the version picked for a package.
type Resolved struct {
	Version    string   `json:"version"`
	Constraint string   `json:"constraint"`
	Features   []string `json:"features,omitempty"`
	// RequiredBy is empty for declared packages.
	RequiredBy string `json:"required_by,omitempty"`
}

// Manifest is the resolved dependency set for one triplet.
type Manifest struct {
	Triplet  string              `json:"triplet"`
	Packages map[string]Resolved `json:"packages"`
}

// Digest identifies the resolved set.
func (m Manifest) Digest() string { return artifact.DigestValue(m) }

// Names lists resolved packages in sorted order.
func (m Manifest) Names() []string {
	names := make([]string, 0, len(m.Packages))
	for n := range m.Packages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Features lists name[feature] entries for every resolved feature, the
// form vcpkg accepts for manifest features.
func (m Manifest) Features() []string {
	var out []string
	for _, n := range m.Names() {
		for _, f := range m.Packages[n].Features {
			out = append(out, n+"["+f+"]")
		}
	}
	return out
}

// Clone returns a deep copy so callers cannot mutate cached state.
func (m Manifest) Clone() Manifest {
	out := Manifest{Triplet: m.Triplet, Packages: make(map[string]Resolved, len(m.Packages))}
	for n, r := range m.Packages {
		r.Features = append([]string(nil), r.Features...)
		out.Packages[n] = r
	}
	return out
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
