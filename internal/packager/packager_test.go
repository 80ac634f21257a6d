package packager

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/k8ika0s/crossbuild/internal/invoker"
	"github.com/k8ika0s/crossbuild/internal/matrix"
	"github.com/k8ika0s/crossbuild/internal/target"
)

var arm64 = target.Triplet{Arch: "arm64", Platform: "android", Linkage: target.Static}

// built fakes a finished cell with libengine.so and its symbol file.
func built(t *testing.T, v target.Variant, tr target.Triplet) invoker.Result {
	t.Helper()
	cell := matrix.Cell{Variant: v, Triplet: tr, Staging: filepath.Join(t.TempDir(), v.Name, tr.String())}
	dir := invoker.OutputDir(cell)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	lib := filepath.Join(dir, "libengine.so")
	if err := os.WriteFile(lib, []byte("ELF+DWARF "+v.Name), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(lib+".debug", []byte("DWARF"), 0o644); err != nil {
		t.Fatal(err)
	}
	return invoker.Result{
		Cell:   cell,
		Status: invoker.StatusSucceeded,
		Artifacts: []invoker.Artifact{{
			Variant: v.Name, Triplet: tr.String(), ABI: tr.ABI(), Library: lib, Symbols: lib + ".debug",
		}},
	}
}

type recordingStripper struct {
	mu    sync.Mutex
	paths []string
}

func (s *recordingStripper) Strip(_ context.Context, path string) error {
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
	return os.WriteFile(path, []byte("ELF"), 0o755)
}

func TestPackageAppliesSymbolPolicyPerVariant(t *testing.T) {
	out := t.TempDir()
	debug := built(t, target.Debug(), arm64)
	release := built(t, target.Release(), arm64)
	strip := &recordingStripper{}

	pkg, err := Package(context.Background(), []invoker.Result{debug, release}, Options{OutputDir: out, Stripper: strip})
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	d, ok := pkg.Lookup("debug", "arm64-android")
	if !ok || len(d.Files) != 1 || d.Files[0].Symbols == "" {
		t.Fatalf("debug entry should carry symbols: %+v", d)
	}
	r, ok := pkg.Lookup("release", "arm64-android")
	if !ok || len(r.Files) != 1 || r.Files[0].Symbols != "" {
		t.Fatalf("release entry should be stripped: %+v", r)
	}
	if len(strip.paths) != 1 {
		t.Fatalf("expected one strip, got %v", strip.paths)
	}
	data, err := os.ReadFile(pkg.Abs(r.Files[0].Library))
	if err != nil || string(data) != "ELF" {
		t.Fatalf("release library not stripped: %q %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(out, "release", "arm64-android", "libengine.so.debug")); !os.IsNotExist(err) {
		t.Fatalf("release package must not contain symbols")
	}
	if _, err := os.Stat(pkg.Abs(d.Files[0].Symbols)); err != nil {
		t.Fatalf("debug symbols not packaged: %v", err)
	}
	// copies, not moves
	if _, err := os.Stat(release.Artifacts[0].Library); err != nil {
		t.Fatalf("staging output was consumed: %v", err)
	}
	if staged, _ := os.ReadFile(release.Artifacts[0].Library); string(staged) != "ELF+DWARF release" {
		t.Fatalf("strip touched the staging copy: %q", staged)
	}

	index, err := ReadIndex(out)
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	if diff := cmp.Diff(pkg, index); diff != "" {
		t.Fatalf("index mismatch (-want +got):\n%s", diff)
	}
}

func TestPackageRefusesIncompleteRun(t *testing.T) {
	x86 := target.Triplet{Arch: "x86", Platform: "android", Linkage: target.Static}
	ok := built(t, target.Release(), arm64)
	failed := invoker.Result{Cell: matrix.Cell{Variant: target.Release(), Triplet: x86}, Status: invoker.StatusFailed}

	out := t.TempDir()
	_, err := Package(context.Background(), []invoker.Result{ok, failed}, Options{OutputDir: out})
	var ie *IncompletePackageError
	if !errors.As(err, &ie) || !errors.Is(err, ErrIncompletePackage) {
		t.Fatalf("expected IncompletePackageError, got %v", err)
	}
	if diff := cmp.Diff([]string{"x86-android"}, ie.Triplets()); diff != "" {
		t.Fatalf("missing triplets (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(out, IndexName)); !os.IsNotExist(err) {
		t.Fatalf("refused package must not write an index")
	}

	pkg, err := Package(context.Background(), []invoker.Result{ok, failed}, Options{OutputDir: out, AllowPartial: true, Stripper: NoopStripper{}})
	if err != nil {
		t.Fatalf("partial package: %v", err)
	}
	if _, found := pkg.Lookup("release", "x86-android"); found {
		t.Fatalf("failed triplet should be omitted")
	}
	if _, found := pkg.Lookup("release", "arm64-android"); !found {
		t.Fatalf("healthy triplet missing")
	}
	if len(pkg.Omitted) != 1 || pkg.Omitted[0].Status != "failed" {
		t.Fatalf("omission not recorded: %+v", pkg.Omitted)
	}
}

func TestPackageMissingLibraryIsPackagingError(t *testing.T) {
	res := built(t, target.Debug(), arm64)
	if err := os.Remove(res.Artifacts[0].Library); err != nil {
		t.Fatal(err)
	}
	_, err := Package(context.Background(), []invoker.Result{res}, Options{OutputDir: t.TempDir()})
	var pe *PackagingError
	if !errors.As(err, &pe) || pe.Path != res.Artifacts[0].Library {
		t.Fatalf("expected PackagingError naming the library, got %v", err)
	}

	empty := built(t, target.Debug(), arm64)
	empty.Artifacts = nil
	if _, err := Package(context.Background(), []invoker.Result{empty}, Options{OutputDir: t.TempDir()}); !errors.Is(err, ErrPackaging) {
		t.Fatalf("success without libraries should be a packaging error, got %v", err)
	}
}

func TestArchiveIsDeterministic(t *testing.T) {
	out := t.TempDir()
	pkg, err := Package(context.Background(), []invoker.Result{built(t, target.Debug(), arm64)}, Options{OutputDir: out})
	if err != nil {
		t.Fatal(err)
	}
	var a, b bytes.Buffer
	if err := Archive(pkg, &a); err != nil {
		t.Fatal(err)
	}
	if err := Archive(pkg, &b); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatalf("archives differ")
	}
	id, err := WriteArchive(pkg, filepath.Join(t.TempDir(), "crossbuild.tar"))
	if err != nil {
		t.Fatal(err)
	}
	if id.Digest == "" || id.Type != "package" {
		t.Fatalf("unexpected archive id %+v", id)
	}
}

func TestStripperFor(t *testing.T) {
	if _, ok := StripperFor("").(ToolchainStripper); !ok {
		t.Fatalf("empty command should look up the toolchain stripper")
	}
	if _, ok := StripperFor("none").(NoopStripper); !ok {
		t.Fatalf("none should select the no-op stripper")
	}
	if s, ok := StripperFor("/opt/llvm/bin/llvm-strip").(LLVMStripper); !ok || s.Bin != "/opt/llvm/bin/llvm-strip" {
		t.Fatalf("unexpected stripper %#v", StripperFor("/opt/llvm/bin/llvm-strip"))
	}
}

// fakeNDK lays out an NDK whose llvm-strip replaces the library with "stripped".
func fakeNDK(t *testing.T) string {
	t.Helper()
	ndk := t.TempDir()
	bin := filepath.Join(ndk, "toolchains", "llvm", "prebuilt", "linux-x86_64", "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	script := "#!/bin/sh\nprintf stripped > \"$2\"\n"
	if err := os.WriteFile(filepath.Join(bin, "llvm-strip"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return ndk
}

func TestDefaultStripperUsesNDK(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	release := built(t, target.Release(), arm64)
	stripper := WithNDK(StripperFor(""), fakeNDK(t))

	pkg, err := Package(context.Background(), []invoker.Result{release}, Options{OutputDir: t.TempDir(), Stripper: stripper})
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	r, _ := pkg.Lookup("release", "arm64-android")
	data, err := os.ReadFile(pkg.Abs(r.Files[0].Library))
	if err != nil || string(data) != "stripped" {
		t.Fatalf("release library not stripped: %q %v", data, err)
	}
}

func TestDefaultStripperRefusesUnstrippedRelease(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	release := built(t, target.Release(), arm64)

	_, err := Package(context.Background(), []invoker.Result{release}, Options{OutputDir: t.TempDir(), Stripper: StripperFor("")})
	var perr *PackagingError
	if !errors.As(err, &perr) || perr.Variant != "release" {
		t.Fatalf("expected PackagingError for release, got %v", err)
	}

	// debug keeps symbols and never needs a stripper
	debug := built(t, target.Debug(), arm64)
	if _, err := Package(context.Background(), []invoker.Result{debug}, Options{OutputDir: t.TempDir()}); err != nil {
		t.Fatalf("debug package: %v", err)
	}
}

func TestWithNDKKeepsExplicitStrippers(t *testing.T) {
	if s := WithNDK(nil, "/ndk").(ToolchainStripper); s.NDKRoot != "/ndk" {
		t.Fatalf("nil stripper should become an NDK lookup, got %#v", s)
	}
	if s := WithNDK(ToolchainStripper{NDKRoot: "/other"}, "/ndk").(ToolchainStripper); s.NDKRoot != "/other" {
		t.Fatalf("configured NDK root overwritten: %#v", s)
	}
	if _, ok := WithNDK(NoopStripper{}, "/ndk").(NoopStripper); !ok {
		t.Fatalf("explicit opt-out replaced")
	}
}
