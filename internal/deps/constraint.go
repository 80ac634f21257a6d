package deps

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

type bound struct {
	op      string
	version string // canonical semver with leading v
}

// Constraint is a conjunction of version bounds such as ">=1.2, <2".
type Constraint struct {
	raw    string
	bounds []bound
}

// ParseConstraint parses comma separated bounds. Supported operators are
// =, >=, >, <=, <, ^ and ~; a bare version means =; empty and * match all.
func ParseConstraint(s string) (Constraint, error) {
	c := Constraint{raw: strings.TrimSpace(s)}
	if c.raw == "" || c.raw == "*" {
		return c, nil
	}
	for _, part := range strings.Split(c.raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" || part == "*" {
			continue
		}
		op := "="
		for _, candidate := range []string{">=", "<=", ">", "<", "=", "^", "~"} {
			if rest, ok := strings.CutPrefix(part, candidate); ok {
				op, part = candidate, strings.TrimSpace(rest)
				break
			}
		}
		v := canonical(part)
		if v == "" {
			return Constraint{}, fmt.Errorf("invalid version %q in constraint %q", part, s)
		}
		switch op {
		case "^":
			c.bounds = append(c.bounds, bound{">=", v}, bound{"<", nextCaret(v)})
		case "~":
			c.bounds = append(c.bounds, bound{">=", v}, bound{"<", nextMinor(v)})
		default:
			c.bounds = append(c.bounds, bound{op, v})
		}
	}
	return c, nil
}

// Allows reports whether version satisfies every bound.
func (c Constraint) Allows(version string) bool {
	v := canonical(version)
	if v == "" {
		return false
	}
	for _, b := range c.bounds {
		cmp := semver.Compare(v, b.version)
		ok := false
		switch b.op {
		case "=":
			ok = cmp == 0
		case ">=":
			ok = cmp >= 0
		case ">":
			ok = cmp > 0
		case "<=":
			ok = cmp <= 0
		case "<":
			ok = cmp < 0
		}
		if !ok {
			return false
		}
	}
	return true
}

func (c Constraint) String() string {
	if c.raw == "" {
		return "*"
	}
	return c.raw
}

// canonical turns 1.2 or v1.2.3 into a canonical semver string, or "" when
// the input is not a version. A vcpkg port revision suffix (#n) is ignored.
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.IndexByte(v, '#'); i >= 0 {
		v = v[:i]
	}
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}

func nextCaret(v string) string {
	major, minor, patch := parts(v)
	switch {
	case major > 0:
		return fmt.Sprintf("v%d.0.0", major+1)
	case minor > 0:
		return fmt.Sprintf("v0.%d.0", minor+1)
	default:
		return fmt.Sprintf("v0.0.%d", patch+1)
	}
}

func nextMinor(v string) string {
	major, minor, _ := parts(v)
	return fmt.Sprintf("v%d.%d.0", major, minor+1)
}

func parts(v string) (int, int, int) {
	core := strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	fields := strings.SplitN(core, ".", 3)
	nums := [3]int{}
	for i, f := range fields {
		nums[i], _ = strconv.Atoi(f)
	}
	return nums[0], nums[1], nums[2]
}
