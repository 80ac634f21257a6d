// Package orchestrator drives one run: resolve toolchains and dependencies,
// build every configured cell, report, then package and publish.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/k8ika0s/crossbuild/internal/config"
	"github.com/k8ika0s/crossbuild/internal/deps"
	"github.com/k8ika0s/crossbuild/internal/events"
	"github.com/k8ika0s/crossbuild/internal/history"
	"github.com/k8ika0s/crossbuild/internal/invoker"
	"github.com/k8ika0s/crossbuild/internal/logging"
	"github.com/k8ika0s/crossbuild/internal/matrix"
	"github.com/k8ika0s/crossbuild/internal/packager"
	"github.com/k8ika0s/crossbuild/internal/publish"
	"github.com/k8ika0s/crossbuild/internal/reporter"
	"github.com/k8ika0s/crossbuild/internal/runner"
	"github.com/k8ika0s/crossbuild/internal/toolchain"
)

// ArchiveName is the tar written next to the package index on request.
const ArchiveName = "package.tar"

// Options tune a single run.
type Options struct {
	// Jobs bounds concurrent cell builds; zero means one per cell.
	Jobs         int
	AllowPartial bool
	NoPackage    bool
	Archive      bool
}

// Orchestrator holds the collaborators of a run. Only File and Runner are
// required.
type Orchestrator struct {
	File      *config.File
	Runner    runner.Runner
	Cache     deps.Cache
	Events    events.Sink
	Stripper  packager.Stripper
	Publisher *publish.Publisher
	Reporter  *reporter.Client
	History   history.Store
	// Env replaces the process environment snapshot when set.
	Env toolchain.Environment
	Now func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

// Configure resolves the matrix without building anything. The returned
// error is fatal: a missing precondition, an unreadable registry or an
// unusable matrix.
func (o *Orchestrator) Configure(ctx context.Context, jobs int) (matrix.Matrix, toolchain.Environment, error) {
	f := o.File
	if f == nil {
		return matrix.Matrix{}, nil, errors.New("orchestrator: no build file")
	}
	decl := f.ToolchainDeclaration()
	env := o.Env
	if env == nil {
		env = toolchain.FromOS(decl.Variables()...)
	}
	tools, err := toolchain.NewResolver(decl, env)
	if err != nil {
		return matrix.Matrix{}, nil, err
	}
	reg, err := f.LoadRegistry()
	if err != nil {
		return matrix.Matrix{}, nil, fmt.Errorf("load registry: %w", err)
	}
	b := &matrix.Builder{
		Toolchains:   tools,
		Dependencies: deps.NewResolver(reg, o.Cache),
		Declared:     f.Dependencies,
		StagingRoot:  f.StagingRoot,
		PresetFormat: f.PresetFormat,
		Parallel:     jobs,
	}
	m, err := b.Build(ctx, f.Variants, f.TargetTriplets())
	if err != nil {
		return matrix.Matrix{}, nil, err
	}
	return m, env, nil
}

// Run executes one orchestration run. A nil report means the run stopped
// before any cell was scheduled. A non-nil error next to a report comes
// from packaging; cell failures only show in the report.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Report, error) {
	started := o.now()
	runID := newRunID(started, o.File)
	log := logging.FromContext(ctx).With("run", runID)
	ctx = logging.WithLogger(ctx, log)

	m, env, err := o.Configure(ctx, opts.Jobs)
	if err != nil {
		return nil, err
	}
	f := o.File
	excludes := append([]string{f.StagingRoot, f.PackageDir}, f.SourceExcludes...)
	source, err := invoker.HashSourceTree(f.SourceDir, excludes...)
	if err != nil {
		return nil, fmt.Errorf("hash source tree: %w", err)
	}
	log.Info("matrix configured", "cells", len(m.Cells), "unconfigured", len(m.Failed()), "source", source)

	iv := &invoker.Invoker{
		Runner:       o.Runner,
		SourceDir:    f.SourceDir,
		SourceDigest: source,
		MinSDK:       f.MinSDK,
		Env:          env,
		Now:          o.Now,
	}
	results := o.invokeAll(ctx, runID, iv, m.Cells, opts.Jobs)

	report := newReport(runID, started, results)
	var pkgErr error
	if !opts.NoPackage {
		pkgErr = o.pack(ctx, report, opts, env)
	}
	report.FinishedAt = o.now()
	o.record(ctx, report)
	log.Info("run finished", "outcome", report.Outcome, "counts", report.Counts())
	return report, pkgErr
}

// invokeAll builds cells concurrently. Every cell gets exactly one result,
// in matrix order.
func (o *Orchestrator) invokeAll(ctx context.Context, runID string, iv *invoker.Invoker, cells []matrix.Cell, jobs int) []invoker.Result {
	results := make([]invoker.Result, len(cells))
	var g errgroup.Group
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, cell := range cells {
		if err := ctx.Err(); err != nil {
			results[i] = invoker.NotStarted(cell, err)
			o.emit(ctx, runID, results[i])
			continue
		}
		g.Go(func() error {
			results[i] = iv.Invoke(ctx, cell)
			o.emit(ctx, runID, results[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) emit(ctx context.Context, runID string, r invoker.Result) {
	if o.Events == nil {
		return
	}
	// a cancelled run still reports what it has
	if err := o.Events.Emit(context.WithoutCancel(ctx), events.FromResult(runID, r)); err != nil {
		logging.FromContext(ctx).Warn("emit event failed", "cell", r.Cell.ID(), "err", err)
	}
}

func (o *Orchestrator) pack(ctx context.Context, report *Report, opts Options, env toolchain.Environment) error {
	f := o.File
	log := logging.FromContext(ctx)
	pkg, err := packager.Package(ctx, report.Results, packager.Options{
		OutputDir:    f.PackageDir,
		AllowPartial: opts.AllowPartial || f.AllowPartial,
		Stripper:     packager.WithNDK(o.Stripper, ndkRoot(env)),
	})
	if err != nil {
		return err
	}
	report.Package = &pkg
	if opts.Archive {
		path := filepath.Join(f.PackageDir, ArchiveName)
		id, err := packager.WriteArchive(pkg, path)
		if err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
		report.Archive = path
		log.Info("package archived", "path", path, "digest", id.Digest)
	}
	if o.Publisher != nil {
		published, err := o.Publisher.Publish(ctx, report.RunID, pkg, report.Archive)
		if err != nil {
			log.Warn("publish failed", "err", err)
		}
		report.Published = published
	}
	return nil
}

// record hands the report to history and the control plane. Both are best
// effort.
func (o *Orchestrator) record(ctx context.Context, report *Report) {
	ctx = context.WithoutCancel(ctx)
	log := logging.FromContext(ctx)
	var wg sync.WaitGroup
	if o.History != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.History.Record(ctx, report.historyRun()); err != nil {
				log.Warn("record history failed", "err", err)
			}
		}()
	}
	if o.Reporter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.Reporter.PostReport(ctx, report); err != nil {
				log.Warn("post report failed", "err", err)
				return
			}
			if report.Package != nil {
				if err := o.Reporter.PostPackage(ctx, report.RunID, report.Package); err != nil {
					log.Warn("post package failed", "err", err)
				}
			}
		}()
	}
	wg.Wait()
}

// ndkRoot picks the NDK install from the precondition snapshot.
func ndkRoot(env toolchain.Environment) string {
	for _, name := range []string{"ANDROID_NDK_HOME", "ANDROID_NDK_ROOT"} {
		if v := env[name]; v != "" {
			return v
		}
	}
	return ""
}

func newRunID(started time.Time, f *config.File) string {
	seed := started.Format(time.RFC3339Nano)
	if f != nil {
		seed += f.Path
	}
	return started.Format("20060102-150405") + "-" + digest.FromString(seed).Encoded()[:8]
}

// Cells lists the expanded matrix in order with each cell's resolution
// state, for printing without building.
func Cells(m matrix.Matrix) []CellReport {
	out := make([]CellReport, 0, len(m.Cells))
	for _, c := range m.Cells {
		status := "configured"
		summary := ""
		if !c.Configured() {
			status = string(invoker.StatusUnconfigured)
			summary = c.Err.Error()
		}
		out = append(out, CellReport{
			Cell:    c.ID(),
			Variant: c.Variant.Name,
			Triplet: c.Triplet.String(),
			Preset:  c.Preset,
			Status:  status,
			Summary: summary,
		})
	}
	return out
}
