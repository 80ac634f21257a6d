// Package invoker runs the external build for one configured cell and skips
// it when nothing that feeds the build has changed since the last success.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/k8ika0s/crossbuild/internal/artifact"
	"github.com/k8ika0s/crossbuild/internal/logging"
	"github.com/k8ika0s/crossbuild/internal/matrix"
	"github.com/k8ika0s/crossbuild/internal/runner"
	"github.com/k8ika0s/crossbuild/internal/target"
)

// Status is the outcome of one cell in a run.
type Status string

const (
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusSkipped      Status = "skipped-unchanged"
	StatusUnconfigured Status = "unconfigured"
	StatusNotStarted   Status = "not-started"
)

// Packageable reports whether the cell has usable artifacts.
func (s Status) Packageable() bool {
	return s == StatusSucceeded || s == StatusSkipped
}

// Artifact is one shared library and its optional debug-symbol file.
type Artifact struct {
	Variant string `json:"variant"`
	Triplet string `json:"triplet"`
	ABI     string `json:"abi"`
	Library string `json:"library"`
	Symbols string `json:"symbols,omitempty"`
	Digest  string `json:"digest"`
}

// Result is created once per cell per run.
type Result struct {
	Cell        matrix.Cell
	Status      Status
	Artifacts   []Artifact
	Diagnostics string
	ExitCode    int
	Fingerprint string
	Err         error
	Duration    time.Duration
}

// Summary is the most useful single line explaining a failure.
func (r Result) Summary() string {
	if s := SummarizeLog(r.Diagnostics); s != "" {
		return s
	}
	if r.Err != nil {
		return trimSummary(r.Err.Error())
	}
	if r.Status == StatusFailed {
		return fmt.Sprintf("exit status %d", r.ExitCode)
	}
	return ""
}

// Unconfigured reports a cell whose toolchain or dependencies did not resolve.
func Unconfigured(cell matrix.Cell) Result {
	return Result{Cell: cell, Status: StatusUnconfigured, Err: cell.Err}
}

// NotStarted reports a cell that was never scheduled.
func NotStarted(cell matrix.Cell, err error) Result {
	return Result{Cell: cell, Status: StatusNotStarted, Err: err}
}

// Invoker builds cells through a Runner.
type Invoker struct {
	Runner    runner.Runner
	SourceDir string
	// SourceDigest is the HashSourceTree result, computed once per run.
	SourceDigest string
	MinSDK       int
	// Env is the precondition snapshot handed to every build.
	Env map[string]string
	Now func() time.Time
}

func (iv *Invoker) now() time.Time {
	if iv.Now != nil {
		return iv.Now()
	}
	return time.Now().UTC()
}

// Fingerprint hashes every input that decides the output of a cell.
func (iv *Invoker) Fingerprint(cell matrix.Cell) string {
	flags := struct {
		Variant target.Variant `json:"variant"`
		MinSDK  int            `json:"min_sdk,omitempty"`
		Args    []string       `json:"args,omitempty"`
	}{cell.Variant, iv.MinSDK, runner.ArgsOf(iv.Runner)}
	return artifact.CellKey{
		Variant:        cell.Variant.Name,
		Triplet:        cell.Triplet.String(),
		Preset:         cell.Preset,
		ChainDigest:    cell.Chain.Digest(),
		ManifestDigest: cell.Manifest.Digest(),
		SourceDigest:   iv.SourceDigest,
		BuildFlags:     artifact.DigestValue(flags),
	}.Digest()
}

// OutputDir is where a cell's build places its libraries.
func OutputDir(cell matrix.Cell) string {
	return filepath.Join(cell.Staging, "out", cell.Triplet.ABI())
}

// Invoke never returns an error: every failure is carried on the Result.
func (iv *Invoker) Invoke(ctx context.Context, cell matrix.Cell) Result {
	if !cell.Configured() {
		return Unconfigured(cell)
	}
	if err := ctx.Err(); err != nil {
		return NotStarted(cell, err)
	}
	log := logging.FromContext(ctx).With("cell", cell.ID())
	start := time.Now()
	fp := iv.Fingerprint(cell)

	rec, ok, err := ReadRecord(cell.Staging)
	if err != nil {
		log.Warn("fingerprint record unreadable", "err", err)
	}
	if ok && rec.Fingerprint == fp && rec.present() {
		log.Info("cell unchanged", "fingerprint", fp)
		return Result{
			Cell:        cell,
			Status:      StatusSkipped,
			Artifacts:   rec.Artifacts,
			Fingerprint: fp,
			Duration:    time.Since(start),
		}
	}

	// The record goes before the build so an interrupted build is never
	// mistaken for the previous success.
	if err := RemoveRecord(cell.Staging); err != nil {
		return iv.failed(cell, fp, start, runner.Outcome{}, fmt.Errorf("clear fingerprint record: %w", err))
	}
	outDir := OutputDir(cell)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return iv.failed(cell, fp, start, runner.Outcome{}, err)
	}

	log.Info("building cell", "preset", cell.Preset, "staging", cell.Staging)
	out, err := iv.Runner.Run(ctx, runner.Invocation{
		SourceDir:  iv.SourceDir,
		StagingDir: cell.Staging,
		OutputDir:  outDir,
		Preset:     cell.Preset,
		Variant:    cell.Variant,
		Triplet:    cell.Triplet,
		Chain:      cell.Chain,
		Manifest:   cell.Manifest,
		MinSDK:     iv.MinSDK,
		Env:        iv.Env,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("cell build interrupted")
		}
		return iv.failed(cell, fp, start, out, err)
	}
	if out.ExitCode != 0 {
		log.Warn("cell build failed", "exit_code", out.ExitCode)
		return iv.failed(cell, fp, start, out, nil)
	}

	artifacts, err := Discover(cell)
	if err != nil {
		return iv.failed(cell, fp, start, out, fmt.Errorf("discover artifacts: %w", err))
	}
	if err := WriteRecord(cell.Staging, Record{Fingerprint: fp, Artifacts: artifacts, RecordedAt: iv.now()}); err != nil {
		log.Warn("fingerprint not recorded; next run rebuilds", "err", err)
	}
	log.Info("cell built", "artifacts", len(artifacts), "duration", time.Since(start))
	return Result{
		Cell:        cell,
		Status:      StatusSucceeded,
		Artifacts:   artifacts,
		Diagnostics: out.Diagnostics(),
		Fingerprint: fp,
		Duration:    time.Since(start),
	}
}

func (iv *Invoker) failed(cell matrix.Cell, fp string, start time.Time, out runner.Outcome, err error) Result {
	return Result{
		Cell:        cell,
		Status:      StatusFailed,
		Diagnostics: out.Diagnostics(),
		ExitCode:    out.ExitCode,
		Fingerprint: fp,
		Err:         err,
		Duration:    time.Since(start),
	}
}

// Discover finds the shared libraries a cell's build left in its output
// directory. A library's symbols are the sibling file <lib>.debug.
func Discover(cell matrix.Cell) ([]Artifact, error) {
	dir := OutputDir(cell)
	ext := cell.Triplet.LibraryExt()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Artifact
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		lib := filepath.Join(dir, e.Name())
		id, err := artifact.DigestFile(lib)
		if err != nil {
			return nil, err
		}
		a := Artifact{
			Variant: cell.Variant.Name,
			Triplet: cell.Triplet.String(),
			ABI:     cell.Triplet.ABI(),
			Library: lib,
			Digest:  id.Digest,
		}
		if isFile(lib + ".debug") {
			a.Symbols = lib + ".debug"
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Library < out[j].Library })
	return out, nil
}
