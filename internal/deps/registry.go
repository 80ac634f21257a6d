package deps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/k8ika0s/crossbuild/internal/artifact"
	"github.com/k8ika0s/crossbuild/internal/target"
)

// PackageVersion is one published version of a package in a registry.
type PackageVersion struct {
	Version      string            `json:"version" yaml:"version"`
	Features     []string          `json:"features,omitempty" yaml:"features,omitempty"`
	Supports     []string          `json:"supports,omitempty" yaml:"supports,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// SupportsTriplet reports whether every support qualifier matches t.
func (v PackageVersion) SupportsTriplet(t target.Triplet) bool {
	for _, q := range v.Supports {
		if !t.Matches(q) {
			return false
		}
	}
	return true
}

// HasFeatures reports whether v offers every named feature.
func (v PackageVersion) HasFeatures(features []string) bool {
	for _, f := range features {
		found := false
		for _, have := range v.Features {
			if strings.EqualFold(have, f) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Registry answers which versions of a package exist.
type Registry interface {
	Versions(ctx context.Context, name string) ([]PackageVersion, error)
	// Revision identifies the registry state; it is part of the cache key.
	Revision() string
}

// MemoryRegistry is a fixed registry, loaded from config or built in tests.
type MemoryRegistry struct {
	packages map[string][]PackageVersion
	revision string
}

// NewMemoryRegistry copies packages and derives a revision from content.
func NewMemoryRegistry(packages map[string][]PackageVersion) *MemoryRegistry {
	names := make([]string, 0, len(packages))
	for name := range packages {
		names = append(names, name)
	}
	// names differing in case merge in a fixed order
	sort.Strings(names)
	cp := make(map[string][]PackageVersion, len(packages))
	for _, name := range names {
		key := strings.ToLower(name)
		cp[key] = append(cp[key], packages[name]...)
	}
	return &MemoryRegistry{packages: cp, revision: artifact.DigestValue(cp)}
}

func (m *MemoryRegistry) Versions(ctx context.Context, name string) ([]PackageVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	versions, ok := m.packages[strings.ToLower(name)]
	if !ok {
		return nil, ErrUnknownPackage
	}
	return append([]PackageVersion(nil), versions...), nil
}

func (m *MemoryRegistry) Revision() string { return m.revision }

// LoadRegistry reads a YAML document of the form
//
//	packages:
//	  fmt:
//	    - version: 10.2.1
//	      features: [std]
func LoadRegistry(path string) (*MemoryRegistry, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var doc struct {
		Packages map[string][]PackageVersion `yaml:"packages"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	return NewMemoryRegistry(doc.Packages), nil
}
