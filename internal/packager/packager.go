// Package packager stages the libraries of a run for the host application
// packager, applying each variant's debug-symbol policy.
package packager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/k8ika0s/crossbuild/internal/artifact"
	"github.com/k8ika0s/crossbuild/internal/invoker"
	"github.com/k8ika0s/crossbuild/internal/logging"
	"github.com/k8ika0s/crossbuild/internal/target"
)

// IndexName is the package index written at the top of the output dir.
const IndexName = "package.json"

// Options control one packaging pass.
type Options struct {
	OutputDir string
	// AllowPartial omits unusable cells instead of refusing the package.
	AllowPartial bool
	Stripper     Stripper
}

// File is a packaged library. Paths are relative to the package dir.
type File struct {
	Library string `json:"library"`
	Symbols string `json:"symbols,omitempty"`
	Digest  string `json:"digest"`
}

// Entry holds the files of one (variant, triplet).
type Entry struct {
	Variant string `json:"variant"`
	Triplet string `json:"triplet"`
	ABI     string `json:"abi"`
	Files   []File `json:"files"`
}

// Set is the staged artifact set handed to the host packager.
type Set struct {
	Dir     string    `json:"-"`
	Entries []Entry   `json:"entries"`
	Omitted []Missing `json:"omitted,omitempty"`
}

// Lookup finds the entry for a variant and triplet.
func (p Set) Lookup(variant, triplet string) (Entry, bool) {
	for _, e := range p.Entries {
		if e.Variant == variant && e.Triplet == triplet {
			return e, true
		}
	}
	return Entry{}, false
}

// Abs resolves a path from the index against the package dir.
func (p Set) Abs(rel string) string {
	if rel == "" {
		return ""
	}
	return filepath.Join(p.Dir, filepath.FromSlash(rel))
}

// Package copies artifacts of every usable result into OutputDir. Build
// outputs are never moved, so staging stays valid for the next run.
func Package(ctx context.Context, results []invoker.Result, opts Options) (Set, error) {
	if opts.OutputDir == "" {
		return Set{}, errors.New("packager: no output dir")
	}
	if opts.Stripper == nil {
		opts.Stripper = ToolchainStripper{}
	}
	log := logging.FromContext(ctx)

	var usable []invoker.Result
	var missing []Missing
	for _, r := range results {
		if r.Status.Packageable() {
			usable = append(usable, r)
			continue
		}
		missing = append(missing, Missing{
			Variant: r.Cell.Variant.Name,
			Triplet: r.Cell.Triplet.String(),
			Status:  string(r.Status),
		})
	}
	if len(missing) > 0 && !opts.AllowPartial {
		return Set{}, &IncompletePackageError{Missing: missing}
	}

	pkg := Set{Dir: opts.OutputDir, Omitted: missing}
	for _, m := range missing {
		// drop what an earlier package run left for an omitted cell
		if err := os.RemoveAll(filepath.Join(opts.OutputDir, m.Variant, m.Triplet)); err != nil {
			return Set{}, err
		}
		log.Warn("cell omitted from package", "variant", m.Variant, "triplet", m.Triplet, "status", m.Status)
	}
	for _, r := range usable {
		entry, err := packageResult(ctx, r, opts)
		if err != nil {
			return Set{}, err
		}
		pkg.Entries = append(pkg.Entries, entry)
	}
	if err := writeIndex(pkg); err != nil {
		return Set{}, err
	}
	log.Info("package staged", "dir", opts.OutputDir, "entries", len(pkg.Entries), "omitted", len(missing))
	return pkg, nil
}

func packageResult(ctx context.Context, r invoker.Result, opts Options) (Entry, error) {
	v, tr := r.Cell.Variant, r.Cell.Triplet
	entry := Entry{Variant: v.Name, Triplet: tr.String(), ABI: tr.ABI()}
	if len(r.Artifacts) == 0 {
		return Entry{}, &PackagingError{Variant: v.Name, Triplet: tr.String(), Reason: "build succeeded but produced no libraries"}
	}
	relDir := filepath.Join(v.Name, tr.String())
	dir := filepath.Join(opts.OutputDir, relDir)
	if err := os.RemoveAll(dir); err != nil {
		return Entry{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Entry{}, err
	}

	for _, a := range r.Artifacts {
		if !isFile(a.Library) {
			return Entry{}, &PackagingError{Variant: v.Name, Triplet: tr.String(), Path: a.Library, Reason: "library missing"}
		}
		name := filepath.Base(a.Library)
		dst := filepath.Join(dir, name)
		var f File
		switch v.Symbols {
		case target.StripSymbols:
			err := copyAtomic(a.Library, dst, func(tmp string) error { return opts.Stripper.Strip(ctx, tmp) })
			if errors.Is(err, ErrNoStripper) {
				return Entry{}, &PackagingError{Variant: v.Name, Triplet: tr.String(), Path: a.Library, Reason: "strip policy but no llvm-strip found (set CROSSBUILD_STRIP_BIN, or none to ship unstripped)"}
			}
			if err != nil {
				return Entry{}, fmt.Errorf("package %s: %w", a.Library, err)
			}
		default:
			if err := copyAtomic(a.Library, dst, nil); err != nil {
				return Entry{}, fmt.Errorf("package %s: %w", a.Library, err)
			}
			if a.Symbols != "" {
				if !isFile(a.Symbols) {
					return Entry{}, &PackagingError{Variant: v.Name, Triplet: tr.String(), Path: a.Symbols, Reason: "symbol file missing"}
				}
				symName := filepath.Base(a.Symbols)
				if err := copyAtomic(a.Symbols, filepath.Join(dir, symName), nil); err != nil {
					return Entry{}, fmt.Errorf("package %s: %w", a.Symbols, err)
				}
				f.Symbols = filepath.ToSlash(filepath.Join(relDir, symName))
			}
		}
		id, err := artifact.DigestFile(dst)
		if err != nil {
			return Entry{}, err
		}
		f.Library = filepath.ToSlash(filepath.Join(relDir, name))
		f.Digest = id.Digest
		entry.Files = append(entry.Files, f)
	}
	return entry, nil
}

// copyAtomic copies src next to dst, lets transform edit the copy, then
// renames it into place.
func copyAtomic(src, dst string, transform func(tmp string) error) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if info, err := in.Stat(); err == nil {
		_ = os.Chmod(tmp.Name(), info.Mode().Perm())
	}
	if transform != nil {
		if err := transform(tmp.Name()); err != nil {
			return err
		}
	}
	return os.Rename(tmp.Name(), dst)
}

func writeIndex(pkg Set) error {
	if err := os.MkdirAll(pkg.Dir, 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(struct {
		Set
		GeneratedAt string `json:"generated_at"`
	}{pkg, time.Now().UTC().Format(time.RFC3339)}, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(pkg.Dir, IndexName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadIndex loads a package previously written to dir.
func ReadIndex(dir string) (Set, error) {
	data, err := os.ReadFile(filepath.Join(dir, IndexName))
	if err != nil {
		return Set{}, err
	}
	var pkg Set
	if err := json.Unmarshal(data, &pkg); err != nil {
		return Set{}, fmt.Errorf("decode %s: %w", IndexName, err)
	}
	pkg.Dir = dir
	return pkg, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	return err == nil && info.Mode().IsRegular()
}
