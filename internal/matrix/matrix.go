package matrix

import (
	"context"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/k8ika0s/crossbuild/internal/deps"
	"github.com/k8ika0s/crossbuild/internal/logging"
	"github.com/k8ika0s/crossbuild/internal/target"
	"github.com/k8ika0s/crossbuild/internal/toolchain"
)

// DefaultPresetFormat reproduces preset names like release-arm64-android.
const DefaultPresetFormat = "{variant}-{arch}-{platform}"

// Cell is one (variant, triplet) build unit.
type Cell struct {
	Variant  target.Variant
	Triplet  target.Triplet
	Preset   string
	Staging  string
	Chain    toolchain.Chain
	Manifest deps.Manifest
	// Err is set when the cell could not be configured.
	Err error
}

// ID names the cell for reports and logs.
func (c Cell) ID() string { return c.Variant.Name + "/" + c.Triplet.String() }

// Configured reports whether both resolvers succeeded for the cell.
func (c Cell) Configured() bool { return c.Err == nil }

// Matrix is the ordered cell set of one run.
type Matrix struct {
	Cells []Cell
}

// Failed returns the cells that could not be configured.
func (m Matrix) Failed() []Cell {
	var out []Cell
	for _, c := range m.Cells {
		if c.Err != nil {
			out = append(out, c)
		}
	}
	return out
}

// Expand builds the variant-major Cartesian product with staging paths
// root/<variant>/<triplet>. Nothing is resolved yet.
func Expand(variants []target.Variant, triplets []target.Triplet, root, presetFormat string) ([]Cell, error) {
	if len(variants) == 0 {
		return nil, configErr("no build variants declared")
	}
	if len(triplets) == 0 {
		return nil, configErr("no target triplets declared")
	}
	if strings.TrimSpace(root) == "" {
		return nil, configErr("no staging root")
	}
	if presetFormat == "" {
		presetFormat = DefaultPresetFormat
	}
	root = filepath.Clean(root)

	cells := make([]Cell, 0, len(variants)*len(triplets))
	paths := make(map[string]string)
	presets := make(map[string]string)
	for _, rawVariant := range variants {
		v, err := rawVariant.Normalize()
		if err != nil {
			return nil, configErr("%v", err)
		}
		for _, t := range triplets {
			if err := t.Validate(); err != nil {
				return nil, configErr("%v", err)
			}
			cell := Cell{
				Variant: v,
				Triplet: t,
				Preset:  presetName(presetFormat, v, t),
				Staging: filepath.Join(root, v.Name, t.String()),
			}
			pathKey := strings.ToLower(cell.Staging)
			if other, dup := paths[pathKey]; dup {
				return nil, configErr("cells %s and %s share staging directory %s", other, cell.ID(), cell.Staging)
			}
			paths[pathKey] = cell.ID()
			if other, dup := presets[cell.Preset]; dup {
				return nil, configErr("cells %s and %s share preset %s", other, cell.ID(), cell.Preset)
			}
			presets[cell.Preset] = cell.ID()
			cells = append(cells, cell)
		}
	}
	return cells, nil
}

func presetName(format string, v target.Variant, t target.Triplet) string {
	return strings.NewReplacer(
		"{variant}", v.Name,
		"{arch}", t.Arch,
		"{platform}", t.Platform,
		"{linkage}", string(t.Linkage),
		"{triplet}", t.String(),
	).Replace(format)
}

// ToolchainResolver resolves a chain for a triplet.
type ToolchainResolver interface {
	Resolve(t target.Triplet) (toolchain.Chain, error)
}

// DependencyResolver resolves the declared dependencies for a triplet.
type DependencyResolver interface {
	Resolve(ctx context.Context, decl deps.Declaration, t target.Triplet) (deps.Manifest, error)
}

// Builder expands a matrix and configures each cell.
type Builder struct {
	Toolchains   ToolchainResolver
	Dependencies DependencyResolver
	Declared     deps.Declaration
	StagingRoot  string
	PresetFormat string
	// Parallel bounds concurrent cell configuration; zero means unbounded.
	Parallel int
}

// Build returns a configuration error for an unusable matrix. Per-cell
// resolution failures are recorded on the cell and never abort siblings.
func (b *Builder) Build(ctx context.Context, variants []target.Variant, triplets []target.Triplet) (Matrix, error) {
	cells, err := Expand(variants, triplets, b.StagingRoot, b.PresetFormat)
	if err != nil {
		return Matrix{}, err
	}
	log := logging.FromContext(ctx)

	var g errgroup.Group
	if b.Parallel > 0 {
		g.SetLimit(b.Parallel)
	}
	for i := range cells {
		cell := &cells[i]
		g.Go(func() error {
			b.configure(ctx, cell)
			if cell.Err != nil {
				log.Warn("cell configuration failed", "cell", cell.ID(), "err", cell.Err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return Matrix{Cells: cells}, nil
}

func (b *Builder) configure(ctx context.Context, cell *Cell) {
	if err := ctx.Err(); err != nil {
		cell.Err = err
		return
	}
	chain, err := b.Toolchains.Resolve(cell.Triplet)
	if err != nil {
		cell.Err = err
		return
	}
	cell.Chain = chain
	manifest, err := b.Dependencies.Resolve(ctx, b.Declared, cell.Triplet)
	if err != nil {
		cell.Err = err
		return
	}
	cell.Manifest = manifest
}
