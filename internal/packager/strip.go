package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoStripper means a strip-policy variant was packaged with no llvm-strip
// available.
var ErrNoStripper = errors.New("no llvm-strip found")

// Stripper removes debug information from a shared library in place.
type Stripper interface {
	Strip(ctx context.Context, path string) error
}

// NoopStripper leaves files untouched, for builds that already strip.
type NoopStripper struct{}

func (NoopStripper) Strip(context.Context, string) error { return nil }

// LLVMStripper runs llvm-strip --strip-unneeded.
type LLVMStripper struct {
	Bin string
}

func (s LLVMStripper) Strip(ctx context.Context, path string) error {
	bin := s.Bin
	if bin == "" {
		bin = "llvm-strip"
	}
	out, err := exec.CommandContext(ctx, bin, "--strip-unneeded", path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", bin, path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ToolchainStripper finds llvm-strip in the NDK install first, then on
// PATH. It fails with ErrNoStripper rather than ship an unstripped library.
type ToolchainStripper struct {
	NDKRoot string
}

func (s ToolchainStripper) Strip(ctx context.Context, path string) error {
	bin := s.Locate()
	if bin == "" {
		return ErrNoStripper
	}
	return LLVMStripper{Bin: bin}.Strip(ctx, path)
}

// Locate returns the llvm-strip this stripper would run, or "".
func (s ToolchainStripper) Locate() string {
	if s.NDKRoot != "" {
		matches, _ := filepath.Glob(filepath.Join(s.NDKRoot, "toolchains", "llvm", "prebuilt", "*", "bin", "llvm-strip"))
		sort.Strings(matches)
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
				return m
			}
		}
	}
	if bin, err := exec.LookPath("llvm-strip"); err == nil {
		return bin
	}
	return ""
}

// StripperFor maps a configured command to a Stripper. Empty selects the
// toolchain lookup; "none" opts out of stripping.
func StripperFor(cmd string) Stripper {
	switch strings.TrimSpace(cmd) {
	case "":
		return ToolchainStripper{}
	case "none":
		return NoopStripper{}
	default:
		return LLVMStripper{Bin: cmd}
	}
}

// WithNDK points a toolchain lookup at an NDK install. Other strippers are
// returned unchanged.
func WithNDK(s Stripper, ndkRoot string) Stripper {
	switch ts := s.(type) {
	case nil:
		return ToolchainStripper{NDKRoot: ndkRoot}
	case ToolchainStripper:
		if ts.NDKRoot == "" {
			ts.NDKRoot = ndkRoot
		}
		return ts
	default:
		return s
	}
}
