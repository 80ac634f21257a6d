package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/k8ika0s/crossbuild/internal/artifact"
	"github.com/k8ika0s/crossbuild/internal/target"
)

// Declaration is the already-parsed toolchain section of a build file.
type Declaration struct {
	// BaseDir anchors relative toolchain paths.
	BaseDir string
	// Preconditions are environment variables that must name existing
	// directories, such as VCPKG_ROOT or ANDROID_NDK_HOME.
	Preconditions []string
	// Base is the platform toolchain file handed to the build directly.
	Base string
	// Chainload maps a platform to the toolchain file the base sources.
	Chainload map[string]string
	// Overrides are sourced after the chainload file for every triplet.
	Overrides []string
	// PlatformOverrides are sourced after Overrides for one platform.
	PlatformOverrides map[string][]string
}

// Environment is a snapshot of the host variables a resolver may read.
type Environment map[string]string

// FromOS captures the named variables from the process environment.
func FromOS(names ...string) Environment {
	env := make(Environment, len(names))
	for _, n := range names {
		if v, ok := os.LookupEnv(n); ok {
			env[n] = v
		}
	}
	return env
}

// Resolver composes toolchain chains from a declaration and an environment
// snapshot. It never reads the process environment and never runs anything.
type Resolver struct {
	decl Declaration
	env  Environment
}

// NewResolver checks every precondition up front so that a missing SDK root
// fails the run before any cell is configured.
func NewResolver(decl Declaration, env Environment) (*Resolver, error) {
	if strings.TrimSpace(decl.Base) == "" {
		return nil, &ToolchainResolutionError{Reason: "no base toolchain declared"}
	}
	for _, name := range decl.Preconditions {
		val := env[name]
		if val == "" {
			return nil, &PreconditionMissingError{Name: name, Source: "preconditions"}
		}
		if _, err := os.Stat(val); err != nil {
			return nil, &PreconditionMissingError{Name: name, Path: val, Source: "preconditions"}
		}
	}
	for _, ref := range decl.references() {
		for _, name := range referencedVars(ref) {
			if env[name] == "" {
				return nil, &PreconditionMissingError{Name: name, Source: ref}
			}
		}
	}
	return &Resolver{decl: decl, env: env}, nil
}

// Resolve builds the chain for a triplet in declaration order: base,
// the platform's chainload file, global overrides, platform overrides.
func (r *Resolver) Resolve(t target.Triplet) (Chain, error) {
	type ref struct {
		role Role
		raw  string
	}
	refs := []ref{{RoleBase, r.decl.Base}}
	if cl := r.decl.Chainload[t.Platform]; cl != "" {
		refs = append(refs, ref{RoleChainload, cl})
	}
	for _, o := range r.decl.Overrides {
		refs = append(refs, ref{RoleOverride, o})
	}
	for _, o := range r.decl.PlatformOverrides[t.Platform] {
		refs = append(refs, ref{RoleOverride, o})
	}

	chain := Chain{Entries: make([]Entry, 0, len(refs))}
	seen := make(map[string]struct{}, len(refs))
	for _, rf := range refs {
		path := r.expand(rf.raw)
		info, err := os.Stat(path)
		if err != nil {
			return Chain{}, &ToolchainResolutionError{Triplet: t.String(), Path: path, Reason: "missing toolchain file"}
		}
		if !info.Mode().IsRegular() {
			return Chain{}, &ToolchainResolutionError{Triplet: t.String(), Path: path, Reason: "toolchain is not a regular file"}
		}
		identity := path
		if real, err := filepath.EvalSymlinks(path); err == nil {
			identity = real
		}
		if _, dup := seen[identity]; dup {
			return Chain{}, &ToolchainResolutionError{Triplet: t.String(), Path: path, Reason: "toolchain chain cycle"}
		}
		seen[identity] = struct{}{}
		id, err := artifact.DigestFile(path)
		if err != nil {
			return Chain{}, &ToolchainResolutionError{Triplet: t.String(), Path: path, Reason: fmt.Sprintf("unreadable toolchain file (%v)", err)}
		}
		chain.Entries = append(chain.Entries, Entry{Role: rf.role, Path: path, Digest: id.Digest})
	}
	return chain, nil
}

func (r *Resolver) expand(raw string) string {
	p := os.Expand(raw, func(name string) string { return r.env[name] })
	if !filepath.IsAbs(p) && r.decl.BaseDir != "" {
		p = filepath.Join(r.decl.BaseDir, p)
	}
	return filepath.Clean(p)
}

// Variables names every environment variable the declaration reads, so a
// caller can snapshot exactly those with FromOS.
func (d Declaration) Variables() []string {
	seen := map[string]bool{}
	var names []string
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, n := range d.Preconditions {
		add(n)
	}
	for _, ref := range d.references() {
		for _, n := range referencedVars(ref) {
			add(n)
		}
	}
	return names
}

// references lists every toolchain path in a stable order.
func (d Declaration) references() []string {
	refs := []string{d.Base}
	for _, p := range sortedKeys(d.Chainload) {
		refs = append(refs, d.Chainload[p])
	}
	refs = append(refs, d.Overrides...)
	platforms := make([]string, 0, len(d.PlatformOverrides))
	for p := range d.PlatformOverrides {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)
	for _, p := range platforms {
		refs = append(refs, d.PlatformOverrides[p]...)
	}
	return refs
}

func referencedVars(s string) []string {
	var names []string
	os.Expand(s, func(name string) string {
		names = append(names, name)
		return ""
	})
	return names
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
