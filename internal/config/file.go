package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/k8ika0s/crossbuild/internal/deps"
	"github.com/k8ika0s/crossbuild/internal/paths"
	"github.com/k8ika0s/crossbuild/internal/target"
	"github.com/k8ika0s/crossbuild/internal/toolchain"
)

// ErrInvalidFile is wrapped by every build file validation failure.
var ErrInvalidFile = errors.New("invalid build file")

// File is the declared build configuration.
type File struct {
	// Path is where the file was loaded from.
	Path string `yaml:"-"`

	SourceDir      string           `yaml:"source_dir"`
	SourceExcludes []string         `yaml:"source_excludes"`
	StagingRoot    string           `yaml:"staging_root"`
	PackageDir     string           `yaml:"package_dir"`
	PresetFormat   string           `yaml:"preset_format"`
	MinSDK         int              `yaml:"min_sdk"`
	AllowPartial   bool             `yaml:"allow_partial"`
	Variants       []target.Variant `yaml:"variants"`
	Triplets       []TripletSpec    `yaml:"triplets"`
	Toolchain      ToolchainSpec    `yaml:"toolchain"`
	Dependencies   deps.Declaration `yaml:"dependencies"`
	Registry       RegistrySpec     `yaml:"registry"`
}

// TripletSpec accepts either a canonical name (arm64-android,
// x64-linux-dynamic) or a mapping with arch, platform and linkage.
type TripletSpec struct {
	target.Triplet
}

func (t *TripletSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		tr, err := target.ParseTriplet(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		t.Triplet = tr
		return nil
	}
	var raw struct {
		Arch     string `yaml:"arch"`
		Platform string `yaml:"platform"`
		Linkage  string `yaml:"linkage"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	tr, err := target.NewTriplet(raw.Arch, raw.Platform, target.Linkage(raw.Linkage))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	t.Triplet = tr
	return nil
}

// ToolchainSpec is the toolchain section of a build file.
type ToolchainSpec struct {
	Preconditions     []string            `yaml:"preconditions"`
	Base              string              `yaml:"base"`
	Chainload         map[string]string   `yaml:"chainload"`
	Overrides         []string            `yaml:"overrides"`
	PlatformOverrides map[string][]string `yaml:"platform_overrides"`
}

// RegistrySpec names a registry file or lists packages inline.
type RegistrySpec struct {
	File     string                           `yaml:"file"`
	Packages map[string][]deps.PackageVersion `yaml:"packages"`
}

// LoadFile reads and validates a build file. Unknown keys are rejected and
// relative paths are resolved against the file's directory.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFile, path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	f.Path = abs
	f.resolve(filepath.Dir(abs))
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) resolve(dir string) {
	anchor := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	if f.SourceDir == "" {
		f.SourceDir = dir
	}
	f.SourceDir = anchor(f.SourceDir)
	if f.StagingRoot == "" {
		f.StagingRoot = paths.StagingRoot(f.SourceDir)
	}
	f.StagingRoot = anchor(f.StagingRoot)
	if f.PackageDir == "" {
		f.PackageDir = paths.PackageDir(f.SourceDir)
	}
	f.PackageDir = anchor(f.PackageDir)
	f.Registry.File = anchor(f.Registry.File)
	if len(f.Variants) == 0 {
		f.Variants = []target.Variant{target.Debug(), target.Release()}
	}
}

// Validate checks what can be checked without touching the environment.
func (f *File) Validate() error {
	if len(f.Triplets) == 0 {
		return fmt.Errorf("%w: no triplets declared", ErrInvalidFile)
	}
	if f.Toolchain.Base == "" {
		return fmt.Errorf("%w: toolchain.base is required", ErrInvalidFile)
	}
	if f.MinSDK < 0 {
		return fmt.Errorf("%w: min_sdk %d", ErrInvalidFile, f.MinSDK)
	}
	if f.Registry.File != "" && len(f.Registry.Packages) > 0 {
		return fmt.Errorf("%w: registry takes either file or packages", ErrInvalidFile)
	}
	if a, b, ok := deps.FoldDuplicate(f.Dependencies); ok {
		return fmt.Errorf("%w: dependencies %q and %q name the same package", ErrInvalidFile, a, b)
	}
	if a, b, ok := deps.FoldDuplicate(f.Registry.Packages); ok {
		return fmt.Errorf("%w: registry packages %q and %q name the same package", ErrInvalidFile, a, b)
	}
	if a, b, ok := deps.FoldDuplicate(f.Toolchain.Chainload); ok {
		return fmt.Errorf("%w: toolchain.chainload platforms %q and %q collide", ErrInvalidFile, a, b)
	}
	if a, b, ok := deps.FoldDuplicate(f.Toolchain.PlatformOverrides); ok {
		return fmt.Errorf("%w: toolchain.platform_overrides platforms %q and %q collide", ErrInvalidFile, a, b)
	}
	return nil
}

// TargetTriplets returns the declared triplets in order.
func (f *File) TargetTriplets() []target.Triplet {
	out := make([]target.Triplet, len(f.Triplets))
	for i, t := range f.Triplets {
		out[i] = t.Triplet
	}
	return out
}

// ToolchainDeclaration converts the toolchain section. Relative toolchain
// files are anchored at the build file's directory.
func (f *File) ToolchainDeclaration() toolchain.Declaration {
	return toolchain.Declaration{
		BaseDir:           filepath.Dir(f.Path),
		Preconditions:     f.Toolchain.Preconditions,
		Base:              f.Toolchain.Base,
		Chainload:         lowerKeys(f.Toolchain.Chainload),
		Overrides:         f.Toolchain.Overrides,
		PlatformOverrides: lowerKeys(f.Toolchain.PlatformOverrides),
	}
}

// lowerKeys matches the lowercase platform of a parsed triplet.
func lowerKeys[V any](m map[string]V) map[string]V {
	if m == nil {
		return nil
	}
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

// LoadRegistry returns the declared package registry.
func (f *File) LoadRegistry() (deps.Registry, error) {
	if f.Registry.File != "" {
		reg, err := deps.LoadRegistry(f.Registry.File)
		if err != nil {
			return nil, err
		}
		return reg, nil
	}
	return deps.NewMemoryRegistry(f.Registry.Packages), nil
}
