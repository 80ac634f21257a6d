package toolchain

import (
	"github.com/k8ika0s/crossbuild/internal/artifact"
)

// Role is the position a toolchain file takes in a chain.
type Role string

const (
	RoleBase      Role = "base"
	RoleChainload Role = "chainload"
	RoleOverride  Role = "override"
)

// Entry is one resolved toolchain file.
type Entry struct {
	Role   Role   `json:"role"`
	Path   string `json:"path"`
	Digest string `json:"digest"`
}

// Chain is an ordered toolchain composition. The first entry is the base
// file; every later entry is sourced after, and may override, the ones
// before it.
type Chain struct {
	Entries []Entry `json:"entries"`
}

// Base returns the entry the build is pointed at directly.
func (c Chain) Base() Entry {
	if len(c.Entries) == 0 {
		return Entry{}
	}
	return c.Entries[0]
}

// Layers returns the entries sourced through the base, in order.
func (c Chain) Layers() []Entry {
	if len(c.Entries) < 2 {
		return nil
	}
	return append([]Entry(nil), c.Entries[1:]...)
}

// Paths lists resolved file paths in chain order.
func (c Chain) Paths() []string {
	out := make([]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		out = append(out, e.Path)
	}
	return out
}

// Digest identifies the chain by role, order and file content. Absolute
// host paths are left out so that relocating an SDK does not change it.
func (c Chain) Digest() string {
	type part struct {
		Role   Role   `json:"role"`
		Digest string `json:"digest"`
	}
	parts := make([]part, 0, len(c.Entries))
	for _, e := range c.Entries {
		parts = append(parts, part{Role: e.Role, Digest: e.Digest})
	}
	return artifact.DigestValue(parts)
}
