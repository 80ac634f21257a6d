package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/k8ika0s/crossbuild/internal/cas"
	"github.com/k8ika0s/crossbuild/internal/deps"
	"github.com/k8ika0s/crossbuild/internal/events"
	"github.com/k8ika0s/crossbuild/internal/history"
	"github.com/k8ika0s/crossbuild/internal/packager"
	"github.com/k8ika0s/crossbuild/internal/target"
)

func writeBuildFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "crossbuild.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleFile = `
source_dir: src
staging_root: build
package_dir: dist
min_sdk: 24
variants:
  - name: debug
  - name: release
    minify: true
triplets:
  - arm64-android
  - arch: x64
    platform: linux
    linkage: dynamic
toolchain:
  preconditions: [VCPKG_ROOT, ANDROID_NDK_HOME]
  base: $VCPKG_ROOT/scripts/buildsystems/vcpkg.cmake
  chainload:
    android: $ANDROID_NDK_HOME/build/cmake/android.toolchain.cmake
  overrides: [cmake/flags.cmake]
dependencies:
  fmt:
    version: ^10.0.0
    features: [std]
registry:
  packages:
    fmt:
      - version: 10.2.1
        features: [std]
`

func TestLoadFile(t *testing.T) {
	path := writeBuildFile(t, sampleFile)
	dir := filepath.Dir(path)
	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if f.SourceDir != filepath.Join(dir, "src") || f.StagingRoot != filepath.Join(dir, "build") || f.PackageDir != filepath.Join(dir, "dist") {
		t.Fatalf("paths not anchored: %+v", f)
	}
	want := []target.Triplet{
		{Arch: "arm64", Platform: "android", Linkage: target.Static},
		{Arch: "x64", Platform: "linux", Linkage: target.Shared},
	}
	if diff := cmp.Diff(want, f.TargetTriplets()); diff != "" {
		t.Fatalf("triplets (-want +got):\n%s", diff)
	}
	if len(f.Variants) != 2 || !f.Variants[1].Minify {
		t.Fatalf("unexpected variants %+v", f.Variants)
	}
	decl := f.ToolchainDeclaration()
	if decl.BaseDir != dir || decl.Chainload["android"] == "" || len(decl.Preconditions) != 2 {
		t.Fatalf("unexpected toolchain declaration %+v", decl)
	}
	if f.Dependencies["fmt"].Constraint != "^10.0.0" {
		t.Fatalf("unexpected dependencies %+v", f.Dependencies)
	}
	reg, err := f.LoadRegistry()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.(*deps.MemoryRegistry); !ok {
		t.Fatalf("expected inline registry, got %T", reg)
	}
}

func TestToolchainPlatformKeysIgnoreCase(t *testing.T) {
	path := writeBuildFile(t, "triplets: [arm64-android]\ntoolchain:\n  base: a.cmake\n  chainload:\n    Android: ndk.cmake\n  platform_overrides:\n    ANDROID: [flags.cmake]\n")
	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	decl := f.ToolchainDeclaration()
	if decl.Chainload["android"] != "ndk.cmake" || len(decl.PlatformOverrides["android"]) != 1 {
		t.Fatalf("platform keys not normalized: %+v", decl)
	}
}

func TestLoadFileDefaults(t *testing.T) {
	path := writeBuildFile(t, "triplets: [x64-linux]\ntoolchain:\n  base: toolchain.cmake\n")
	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if f.SourceDir != filepath.Dir(path) {
		t.Fatalf("source dir should default to the file's directory, got %s", f.SourceDir)
	}
	if f.StagingRoot == "" || f.PackageDir == "" {
		t.Fatalf("expected default staging and package dirs: %+v", f)
	}
	names := []string{f.Variants[0].Name, f.Variants[1].Name}
	if diff := cmp.Diff([]string{"debug", "release"}, names); diff != "" {
		t.Fatalf("default variants (-want +got):\n%s", diff)
	}
}

func TestLoadFileRejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":     "triplets: [x64-linux]\ntoolchain:\n  base: a.cmake\nflavour: spicy\n",
		"no triplets":     "toolchain:\n  base: a.cmake\n",
		"no base":         "triplets: [x64-linux]\n",
		"bad triplet":     "triplets: [arm64]\ntoolchain:\n  base: a.cmake\n",
		"negative sdk":    "min_sdk: -1\ntriplets: [x64-linux]\ntoolchain:\n  base: a.cmake\n",
		"double registry": "triplets: [x64-linux]\ntoolchain:\n  base: a.cmake\nregistry:\n  file: r.yaml\n  packages:\n    fmt: []\n",
		"case dependency": "triplets: [x64-linux]\ntoolchain:\n  base: a.cmake\ndependencies:\n  Zlib: {version: ^1.2.0}\n  zlib: {version: ^1.3.0}\n",
		"case registry":   "triplets: [x64-linux]\ntoolchain:\n  base: a.cmake\nregistry:\n  packages:\n    FMT: []\n    fmt: []\n",
		"case chainload":  "triplets: [x64-linux]\ntoolchain:\n  base: a.cmake\n  chainload:\n    Android: a.cmake\n    android: b.cmake\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeBuildFile(t, content))
			if !errors.Is(err, ErrInvalidFile) {
				t.Fatalf("expected ErrInvalidFile, got %v", err)
			}
		})
	}
}

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"CROSSBUILD_JOBS", "CROSSBUILD_HTTP_ADDR", "CROSSBUILD_CACHE_BACKEND", "CROSSBUILD_EVENTS_BACKEND", "CAS_PUSH_ENABLED"} {
		t.Setenv(k, "")
	}
	s := FromEnv()
	if s.Jobs <= 0 || s.HTTPAddr != ":9000" || s.CacheBackend != "memory" || s.EventsBackend != "none" {
		t.Fatalf("unexpected defaults %+v", s)
	}
	if s.CASPushEnabled {
		t.Fatalf("cas push should default off")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CROSSBUILD_JOBS", "3")
	t.Setenv("CROSSBUILD_BUILD_TIMEOUT_SEC", "90")
	t.Setenv("CROSSBUILD_CMAKE_ARGS", "-G Ninja")
	t.Setenv("CAS_PUSH_ENABLED", "yes")
	t.Setenv("CROSSBUILD_GRACE_SEC", "not-a-number")
	s := FromEnv()
	if s.Jobs != 3 || s.BuildTimeout != 90*time.Second || !s.CASPushEnabled {
		t.Fatalf("overrides not applied: %+v", s)
	}
	if s.GracePeriod != 30*time.Second {
		t.Fatalf("invalid int should fall back, got %s", s.GracePeriod)
	}
	if strings.Join(s.CMakeArgs, " ") != "-G Ninja" {
		t.Fatalf("unexpected cmake args %v", s.CMakeArgs)
	}
}

func TestBackendsDefaultToLocal(t *testing.T) {
	s := Settings{CacheBackend: "memory", EventsBackend: "none"}
	if c, err := s.DependencyCache(); err != nil {
		t.Fatal(err)
	} else if _, ok := c.(*deps.MemoryCache); !ok {
		t.Fatalf("expected memory cache, got %T", c)
	}
	if sink, err := s.EventSink(); err != nil {
		t.Fatal(err)
	} else if _, ok := sink.(events.NullSink); !ok {
		t.Fatalf("expected null sink, got %T", sink)
	}
	if _, ok := s.CASStore().(cas.NullStore); !ok {
		t.Fatalf("expected null cas store")
	}
	if s.Reporter() != nil {
		t.Fatalf("reporter should be nil without a control plane url")
	}
	if h, err := s.History(t.Context()); err != nil {
		t.Fatal(err)
	} else if _, ok := h.(history.NullStore); !ok {
		t.Fatalf("expected null history, got %T", h)
	}
	if p, err := s.Publisher(t.Context()); err != nil || p != nil {
		t.Fatalf("expected no publisher, got %v %v", p, err)
	}
	if _, ok := s.Stripper().(packager.ToolchainStripper); !ok {
		t.Fatalf("default settings should strip with the toolchain's llvm-strip, got %T", s.Stripper())
	}
}

func TestDependencyCacheRedisNeedsURL(t *testing.T) {
	if _, err := (Settings{CacheBackend: "redis"}).DependencyCache(); err == nil {
		t.Fatalf("expected error without REDIS_URL")
	}
	c, err := Settings{CacheBackend: "redis", RedisURL: "redis://127.0.0.1:6379"}.DependencyCache()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*deps.RedisCache); !ok {
		t.Fatalf("expected redis cache, got %T", c)
	}
	if _, err := (Settings{CacheBackend: "etcd"}).DependencyCache(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestPublisherWithCAS(t *testing.T) {
	s := Settings{CASRegistryURL: "http://zot:5000", CASPushEnabled: true, PublishParallel: 2}
	p, err := s.Publisher(t.Context())
	if err != nil || p == nil {
		t.Fatalf("expected publisher, got %v %v", p, err)
	}
	if _, ok := p.Blobs.(cas.ZotStore); !ok {
		t.Fatalf("expected zot store, got %T", p.Blobs)
	}
	if p.Objects != nil {
		t.Fatalf("object store should be unset")
	}
}
