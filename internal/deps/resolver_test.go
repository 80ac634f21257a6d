package deps

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/k8ika0s/crossbuild/internal/target"
)

var (
	arm64Android = target.Triplet{Arch: "arm64", Platform: "android", Linkage: target.Static}
	x64Linux     = target.Triplet{Arch: "x64", Platform: "linux", Linkage: target.Static}
	x64Windows   = target.Triplet{Arch: "x64", Platform: "windows", Linkage: target.Static}
)

func testRegistry() *MemoryRegistry {
	return NewMemoryRegistry(map[string][]PackageVersion{
		"fmt": {
			{Version: "9.1.0"},
			{Version: "10.2.1", Features: []string{"std"}},
			{Version: "11.0.0-rc1"},
		},
		"glm": {{Version: "1.0.1"}},
		"assimp": {
			{Version: "5.3.1", Features: []string{"zlib"}, Dependencies: map[string]string{"zlib": ">=1.2", "fmt": ">=10"}},
		},
		"zlib": {{Version: "1.3.1"}, {Version: "1.2.13"}},
		"sdl2": {{Version: "2.30.0", Supports: []string{"!windows"}}},
	})
}

func TestResolvePicksHighestAllowed(t *testing.T) {
	r := NewResolver(testRegistry(), nil)
	m, err := r.Resolve(context.Background(), Declaration{
		"fmt":    {Constraint: "^10", Features: []string{"std"}},
		"assimp": {Constraint: ">=5"},
		"sdl2":   {Platforms: []string{"android", "linux"}},
	}, arm64Android)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := map[string]string{"fmt": "10.2.1", "assimp": "5.3.1", "zlib": "1.3.1", "sdl2": "2.30.0"}
	if len(m.Packages) != len(want) {
		t.Fatalf("unexpected packages: %v", m.Names())
	}
	for name, version := range want {
		if m.Packages[name].Version != version {
			t.Fatalf("%s resolved to %s want %s", name, m.Packages[name].Version, version)
		}
	}
	if m.Packages["zlib"].RequiredBy != "assimp" {
		t.Fatalf("zlib should be recorded as a transitive dependency: %+v", m.Packages["zlib"])
	}
	if diff := cmp.Diff([]string{"fmt[std]"}, m.Features()); diff != "" {
		t.Fatalf("features mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	decl := Declaration{"fmt": {Constraint: ">=9"}, "assimp": {}, "glm": {}}
	first, err := NewResolver(testRegistry(), nil).Resolve(context.Background(), decl, x64Linux)
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewResolver(testRegistry(), nil).Resolve(context.Background(), decl, x64Linux)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("resolution not deterministic (-first +second):\n%s", diff)
	}
	if first.Digest() != second.Digest() {
		t.Fatalf("digests differ")
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name    string
		decl    Declaration
		trip    target.Triplet
		reason  string
		pkgName string
	}{
		{"unknown", Declaration{"nope": {}}, x64Linux, ReasonUnknownPackage, "nope"},
		{"unsatisfiable", Declaration{"fmt": {Constraint: ">=12"}}, x64Linux, ReasonUnsatisfiable, "fmt"},
		{"unsupported", Declaration{"sdl2": {}}, x64Windows, ReasonUnsupportedTriplet, "sdl2"},
		{"feature", Declaration{"glm": {Features: []string{"simd"}}}, x64Linux, ReasonMissingFeature, "glm"},
		{"conflict", Declaration{"assimp": {}, "zlib": {Constraint: "<1.2"}}, x64Linux, ReasonUnsatisfiable, "zlib"},
		{"bad constraint", Declaration{"fmt": {Constraint: ">=banana"}}, x64Linux, ReasonInvalidConstraint, "fmt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(testRegistry(), nil).Resolve(context.Background(), tt.decl, tt.trip)
			var de *DependencyResolutionError
			if !errors.As(err, &de) {
				t.Fatalf("expected DependencyResolutionError, got %v", err)
			}
			if de.Reason != tt.reason || de.Package != tt.pkgName {
				t.Fatalf("got %s/%s want %s/%s", de.Package, de.Reason, tt.pkgName, tt.reason)
			}
			if !errors.Is(err, ErrDependencyResolution) {
				t.Fatalf("error should wrap ErrDependencyResolution")
			}
		})
	}
}

func TestPlatformFilterDropsRequirement(t *testing.T) {
	m, err := NewResolver(testRegistry(), nil).Resolve(context.Background(), Declaration{
		"sdl2": {Platforms: []string{"android"}},
		"glm":  {},
	}, x64Windows)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := m.Packages["sdl2"]; ok {
		t.Fatalf("sdl2 should be filtered out on windows")
	}
}

// countingRegistry counts lookups and can hold them until released.
type countingRegistry struct {
	*MemoryRegistry
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (c *countingRegistry) Versions(ctx context.Context, name string) ([]PackageVersion, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.release != nil {
		<-c.release
	}
	return c.MemoryRegistry.Versions(ctx, name)
}

func TestConcurrentSameTripletComputesOnce(t *testing.T) {
	reg := &countingRegistry{MemoryRegistry: testRegistry(), release: make(chan struct{})}
	r := NewResolver(reg, nil)
	decl := Declaration{"glm": {}}

	const callers = 8
	results := make([]Manifest, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(context.Background(), decl, arm64Android)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(reg.release)
	wg.Wait()

	if got := r.Computations(); got != 1 {
		t.Fatalf("expected exactly one computation, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if diff := cmp.Diff(results[0], results[i]); diff != "" {
			t.Fatalf("caller %d saw a different manifest:\n%s", i, diff)
		}
	}
}

// barrierRegistry only lets lookups through once two are in flight, so it
// deadlocks (and times out) if different triplets were serialized.
type barrierRegistry struct {
	*MemoryRegistry
	mu      sync.Mutex
	waiting int
	open    chan struct{}
}

func (b *barrierRegistry) Versions(ctx context.Context, name string) ([]PackageVersion, error) {
	b.mu.Lock()
	b.waiting++
	if b.waiting == 2 {
		close(b.open)
	}
	b.mu.Unlock()
	select {
	case <-b.open:
	case <-time.After(2 * time.Second):
		return nil, errors.New("triplets were serialized")
	}
	return b.MemoryRegistry.Versions(ctx, name)
}

func TestDifferentTripletsResolveInParallel(t *testing.T) {
	reg := &barrierRegistry{MemoryRegistry: testRegistry(), open: make(chan struct{})}
	r := NewResolver(reg, nil)
	decl := Declaration{"glm": {}}
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, trip := range []target.Triplet{arm64Android, x64Linux} {
		wg.Add(1)
		go func(i int, trip target.Triplet) {
			defer wg.Done()
			_, errs[i] = r.Resolve(context.Background(), decl, trip)
		}(i, trip)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	if r.Computations() != 2 {
		t.Fatalf("expected one computation per triplet, got %d", r.Computations())
	}
}

func TestMemoizedPerTriplet(t *testing.T) {
	reg := &countingRegistry{MemoryRegistry: testRegistry()}
	r := NewResolver(reg, nil)
	decl := Declaration{"glm": {}}
	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), decl, arm64Android); err != nil {
			t.Fatal(err)
		}
	}
	if reg.calls != 1 {
		t.Fatalf("expected registry to be consulted once, got %d", reg.calls)
	}
	if _, err := r.Resolve(context.Background(), Declaration{"glm": {Constraint: "1.0.1"}}, arm64Android); err != nil {
		t.Fatal(err)
	}
	if r.Computations() != 2 {
		t.Fatalf("changed declaration should recompute, got %d computations", r.Computations())
	}
}

func TestReturnedManifestIsPrivate(t *testing.T) {
	r := NewResolver(testRegistry(), nil)
	decl := Declaration{"fmt": {Constraint: "^10", Features: []string{"std"}}}
	m, err := r.Resolve(context.Background(), decl, x64Linux)
	if err != nil {
		t.Fatal(err)
	}
	m.Packages["fmt"] = Resolved{Version: "0.0.0"}
	again, err := r.Resolve(context.Background(), decl, x64Linux)
	if err != nil {
		t.Fatal(err)
	}
	if again.Packages["fmt"].Version != "10.2.1" {
		t.Fatalf("cached manifest was mutated through a returned copy")
	}
}

func TestRedisCacheSharesManifests(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	cache := NewRedisCache("redis://"+mr.Addr(), "test:deps:", time.Hour)
	defer cache.Close()
	decl := Declaration{"fmt": {Constraint: "^10", Features: []string{"std"}}, "assimp": {}}

	first := NewResolver(testRegistry(), cache)
	m1, err := first.Resolve(context.Background(), decl, arm64Android)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("expected one cached key, got %v", mr.Keys())
	}

	second := NewResolver(testRegistry(), cache)
	m2, err := second.Resolve(context.Background(), decl, arm64Android)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if second.Computations() != 0 {
		t.Fatalf("second resolver should have read the shared cache")
	}
	if diff := cmp.Diff(m1, m2); diff != "" {
		t.Fatalf("cached manifest differs (-fresh +cached):\n%s", diff)
	}
}

func TestRedisCacheUnconfigured(t *testing.T) {
	cache := NewRedisCache("", "", 0)
	if _, _, err := cache.Get(context.Background(), "k"); err == nil {
		t.Fatalf("expected error from unconfigured cache")
	}
	// Resolution still works when the cache is unavailable.
	r := NewResolver(testRegistry(), cache)
	if _, err := r.Resolve(context.Background(), Declaration{"glm": {}}, x64Linux); err != nil {
		t.Fatalf("resolve without cache: %v", err)
	}
}

func TestFoldDuplicate(t *testing.T) {
	a, b, ok := FoldDuplicate(Declaration{"zlib": {}, "Zlib": {}, "fmt": {}})
	if !ok || a != "Zlib" || b != "zlib" {
		t.Fatalf("expected Zlib/zlib, got %q %q %v", a, b, ok)
	}
	if _, _, ok := FoldDuplicate(Declaration{"zlib": {}, "fmt": {}}); ok {
		t.Fatalf("distinct names reported as duplicates")
	}
}

func TestRegistryMergesCaseVariantsInOrder(t *testing.T) {
	packages := map[string][]PackageVersion{
		"zlib": {{Version: "1.3.0"}},
		"ZLIB": {{Version: "1.2.13"}},
	}
	want := NewMemoryRegistry(packages).Revision()
	for range 20 {
		if got := NewMemoryRegistry(packages).Revision(); got != want {
			t.Fatalf("registry revision depends on map order: %s vs %s", got, want)
		}
	}
	versions, err := NewMemoryRegistry(packages).Versions(context.Background(), "Zlib")
	if err != nil || len(versions) != 2 || versions[0].Version != "1.2.13" {
		t.Fatalf("unexpected merged versions %+v %v", versions, err)
	}
}
