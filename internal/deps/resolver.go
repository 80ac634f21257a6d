package deps

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/mod/semver"
	"golang.org/x/sync/singleflight"

	"github.com/k8ika0s/crossbuild/internal/logging"
	"github.com/k8ika0s/crossbuild/internal/target"
)

// Resolver resolves declarations against a registry, memoized per
// (triplet, declaration, registry revision). Concurrent calls for the same
// key share one computation; different keys never wait on each other.
type Resolver struct {
	registry Registry
	cache    Cache
	group    singleflight.Group
	computed atomic.Int64
}

// NewResolver returns a resolver. A nil cache gets a MemoryCache.
func NewResolver(registry Registry, cache Cache) *Resolver {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Resolver{registry: registry, cache: cache}
}

// Computations reports how many resolutions actually ran.
func (r *Resolver) Computations() int64 { return r.computed.Load() }

// Resolve returns the manifest for t. The result is a private copy.
func (r *Resolver) Resolve(ctx context.Context, decl Declaration, t target.Triplet) (Manifest, error) {
	key := t.String() + "|" + decl.Digest() + "|" + r.registry.Revision()
	log := logging.FromContext(ctx)

	if m, ok, err := r.cache.Get(ctx, key); err != nil {
		log.Warn("dependency cache read failed", "triplet", t.String(), "err", err)
	} else if ok {
		return m, nil
	}

	v, err, shared := r.group.Do(key, func() (any, error) {
		// A caller that lost the race may arrive after the entry was stored.
		if m, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			return m, nil
		}
		r.computed.Add(1)
		m, err := r.compute(ctx, decl, t)
		if err != nil {
			return Manifest{}, err
		}
		if err := r.cache.Put(ctx, key, m); err != nil {
			log.Warn("dependency cache write failed", "triplet", t.String(), "err", err)
		}
		return m, nil
	})
	if err != nil {
		return Manifest{}, err
	}
	log.Debug("dependencies resolved", "triplet", t.String(), "shared", shared)
	return v.(Manifest).Clone(), nil
}

type request struct {
	name       string
	constraint string
	features   []string
	from       string
}

func (r *Resolver) compute(ctx context.Context, decl Declaration, t target.Triplet) (Manifest, error) {
	names, reqs := decl.applicable(t)
	queue := make([]request, 0, len(names))
	for _, n := range names {
		queue = append(queue, request{name: n, constraint: reqs[n].Constraint, features: sortedUnique(reqs[n].Features)})
	}

	picked := make(map[string]Resolved)
	chosen := make(map[string]PackageVersion)
	for i := 0; i < len(queue); i++ {
		req := queue[i]
		fail := func(reason, detail string, err error) error {
			return &DependencyResolutionError{Package: req.name, Triplet: t.String(), Reason: reason, Detail: detail, Err: err}
		}
		c, err := ParseConstraint(req.constraint)
		if err != nil {
			return Manifest{}, fail(ReasonInvalidConstraint, "", err)
		}

		if got, ok := picked[req.name]; ok {
			if !c.Allows(got.Version) {
				return Manifest{}, fail(ReasonUnsatisfiable, fmt.Sprintf("%s needs %s but %s was selected", describe(req.from), c, got.Version), nil)
			}
			if !chosen[req.name].HasFeatures(req.features) {
				return Manifest{}, fail(ReasonMissingFeature, strings.Join(req.features, ","), nil)
			}
			got.Features = sortedUnique(append(got.Features, req.features...))
			picked[req.name] = got
			continue
		}

		versions, err := r.registry.Versions(ctx, req.name)
		if errors.Is(err, ErrUnknownPackage) {
			return Manifest{}, fail(ReasonUnknownPackage, describe(req.from), nil)
		}
		if err != nil {
			return Manifest{}, fail(ReasonRegistry, "", err)
		}
		sort.SliceStable(versions, func(a, b int) bool {
			return semver.Compare(canonical(versions[a].Version), canonical(versions[b].Version)) > 0
		})

		var allowed, supported bool
		var pick *PackageVersion
		for j := range versions {
			v := versions[j]
			if !c.Allows(v.Version) {
				continue
			}
			allowed = true
			if !v.SupportsTriplet(t) {
				continue
			}
			supported = true
			if !v.HasFeatures(req.features) {
				continue
			}
			pick = &versions[j]
			break
		}
		switch {
		case !allowed:
			return Manifest{}, fail(ReasonUnsatisfiable, fmt.Sprintf("no version matches %s", c), nil)
		case !supported:
			return Manifest{}, fail(ReasonUnsupportedTriplet, "", nil)
		case pick == nil:
			return Manifest{}, fail(ReasonMissingFeature, strings.Join(req.features, ","), nil)
		}

		picked[req.name] = Resolved{Version: pick.Version, Constraint: c.String(), Features: req.features, RequiredBy: req.from}
		chosen[req.name] = *pick
		depNames := make([]string, 0, len(pick.Dependencies))
		for d := range pick.Dependencies {
			depNames = append(depNames, d)
		}
		sort.Strings(depNames)
		for _, d := range depNames {
			queue = append(queue, request{name: strings.ToLower(d), constraint: pick.Dependencies[d], from: req.name})
		}
	}
	return Manifest{Triplet: t.String(), Packages: picked}, nil
}

func describe(from string) string {
	if from == "" {
		return "manifest"
	}
	return from
}
