package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/k8ika0s/crossbuild/internal/deps"
	"github.com/k8ika0s/crossbuild/internal/target"
	"github.com/k8ika0s/crossbuild/internal/toolchain"
)

// Invocation describes one external native build.
type Invocation struct {
	SourceDir  string
	StagingDir string
	// OutputDir is where the build must place shared libraries.
	OutputDir string
	Preset    string
	Variant   target.Variant
	Triplet   target.Triplet
	Chain     toolchain.Chain
	Manifest  deps.Manifest
	MinSDK    int
	// Env is the precondition snapshot exported to the build.
	Env map[string]string
}

// Outcome is what the external build reported.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Diagnostics joins both output streams.
func (o Outcome) Diagnostics() string {
	switch {
	case o.Stderr == "":
		return o.Stdout
	case o.Stdout == "":
		return o.Stderr
	}
	return o.Stdout + "\n" + o.Stderr
}

// Runner executes external builds. A non-zero exit is reported through
// Outcome.ExitCode, not as an error; errors mean the build could not run.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Outcome, error)
}

// Flagged is a Runner whose own settings feed every build.
type Flagged interface {
	BuildArgs() []string
}

// ArgsOf returns the extra arguments r passes to every build, if any.
func ArgsOf(r Runner) []string {
	if f, ok := r.(Flagged); ok {
		return f.BuildArgs()
	}
	return nil
}

// CMakeRunner configures and builds a cell with CMake presets.
type CMakeRunner struct {
	Bin       string
	ExtraArgs []string
	// GracePeriod is how long a cancelled build may take to exit after
	// SIGTERM before it is killed.
	GracePeriod time.Duration
}

func (c *CMakeRunner) BuildArgs() []string { return c.ExtraArgs }

// Run configures, then builds, in the staging directory.
func (c *CMakeRunner) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	start := time.Now()
	if err := os.MkdirAll(inv.StagingDir, 0o755); err != nil {
		return Outcome{}, err
	}
	chainload, err := WriteChainload(inv)
	if err != nil {
		return Outcome{}, fmt.Errorf("write chainload toolchain: %w", err)
	}

	var out Outcome
	for _, args := range [][]string{c.configureArgs(inv, chainload), c.buildArgs(inv)} {
		step, err := c.exec(ctx, inv, args)
		out.Stdout += step.Stdout
		out.Stderr += step.Stderr
		out.ExitCode = step.ExitCode
		if err != nil || step.ExitCode != 0 {
			out.Duration = time.Since(start)
			return out, err
		}
	}
	out.Duration = time.Since(start)
	return out, nil
}

func (c *CMakeRunner) bin() string {
	if c.Bin != "" {
		return c.Bin
	}
	return "cmake"
}

// configureArgs assembles the cmake configure invocation.
func (c *CMakeRunner) configureArgs(inv Invocation, chainload string) []string {
	args := []string{
		"-S", inv.SourceDir,
		"-B", inv.StagingDir,
		"--preset=" + inv.Preset,
		"-DCMAKE_TOOLCHAIN_FILE=" + inv.Chain.Base().Path,
		"-DCMAKE_BUILD_TYPE=" + inv.Variant.BuildType(),
		"-DCMAKE_LIBRARY_OUTPUT_DIRECTORY=" + inv.OutputDir,
		"-DVCPKG_TARGET_TRIPLET=" + inv.Triplet.String(),
	}
	if chainload != "" {
		args = append(args, "-DVCPKG_CHAINLOAD_TOOLCHAIN_FILE="+chainload)
	}
	if inv.Triplet.Platform == target.Android {
		args = append(args, "-DANDROID_ABI="+inv.Triplet.ABI())
		if inv.MinSDK > 0 {
			args = append(args, fmt.Sprintf("-DANDROID_PLATFORM=android-%d", inv.MinSDK))
		}
		if inv.Triplet.Linkage == target.Shared {
			args = append(args, "-DANDROID_STL=c++_shared")
		} else {
			args = append(args, "-DANDROID_STL=c++_static")
		}
	}
	if features := inv.Manifest.Features(); len(features) > 0 {
		args = append(args, "-DVCPKG_MANIFEST_FEATURES="+strings.Join(features, ";"))
	}
	if inv.Variant.Minify {
		args = append(args, "-DCROSSBUILD_MINIFY=ON")
	}
	if inv.Variant.Shrink {
		args = append(args, "-DCROSSBUILD_SHRINK=ON")
	}
	return append(args, c.ExtraArgs...)
}

func (c *CMakeRunner) buildArgs(inv Invocation) []string {
	return []string{"--build", inv.StagingDir, "--config", inv.Variant.BuildType()}
}

func (c *CMakeRunner) exec(ctx context.Context, inv Invocation, args []string) (Outcome, error) {
	cmd := exec.CommandContext(ctx, c.bin(), args...)
	cmd.Dir = inv.StagingDir
	cmd.Env = buildEnv(os.Environ(), inv.Env)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = c.GracePeriod
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 30 * time.Second
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	out := Outcome{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, nil
	}
	if err != nil {
		out.ExitCode = -1
		return out, fmt.Errorf("cmake %s: %w", args[0], err)
	}
	return out, nil
}

// WriteChainload writes a wrapper toolchain that includes every layer of the
// chain in order, so the base file chainloads all of them. It returns "" for
// a chain that is only a base file.
func WriteChainload(inv Invocation) (string, error) {
	layers := inv.Chain.Layers()
	if len(layers) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("# generated by crossbuild; sourced through the base toolchain\n")
	for _, l := range layers {
		fmt.Fprintf(&b, "include(%q) # %s\n", filepath.ToSlash(l.Path), l.Role)
	}
	path := filepath.Join(inv.StagingDir, ".crossbuild", "chainload.cmake")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// buildEnv overlays vars on the inherited environment.
func buildEnv(base []string, vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := base
	for _, k := range keys {
		env = filterEnv(env, k)
	}
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}

func filterEnv(env []string, key string) []string {
	prefix := key + "="
	out := make([]string, 0, len(env))
	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

type timeoutRunner struct {
	next    Runner
	timeout time.Duration
}

// WithTimeout bounds every build run by next. Timeouts are a caller choice;
// the orchestrator itself never imposes one.
func WithTimeout(next Runner, d time.Duration) Runner {
	if d <= 0 {
		return next
	}
	return timeoutRunner{next: next, timeout: d}
}

func (t timeoutRunner) BuildArgs() []string { return ArgsOf(t.next) }

func (t timeoutRunner) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Run(ctx, inv)
}

// FakeRunner is used in tests. Produce, when set, decides the outcome and
// may write artifacts into the invocation's output directory.
type FakeRunner struct {
	mu      sync.Mutex
	Calls   []Invocation
	Outcome Outcome
	Err     error
	Produce func(inv Invocation) (Outcome, error)
	Args    []string
}

func (f *FakeRunner) BuildArgs() []string { return f.Args }

func (f *FakeRunner) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, inv)
	produce, outcome, err := f.Produce, f.Outcome, f.Err
	f.mu.Unlock()
	if produce != nil {
		return produce(inv)
	}
	return outcome, err
}

// CallCount is safe to use while builds are running.
func (f *FakeRunner) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}
