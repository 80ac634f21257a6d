// Package publish uploads a staged package to object storage and pushes
// its files to an OCI registry as content-addressed blobs.
package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/k8ika0s/crossbuild/internal/artifact"
	"github.com/k8ika0s/crossbuild/internal/cas"
	"github.com/k8ika0s/crossbuild/internal/logging"
	"github.com/k8ika0s/crossbuild/internal/objectstore"
	"github.com/k8ika0s/crossbuild/internal/packager"
)

// Published describes one uploaded file.
type Published struct {
	Path    string `json:"path"`
	Digest  string `json:"digest"`
	Key     string `json:"key,omitempty"`
	BlobURL string `json:"blob_url,omitempty"`
	Reused  bool   `json:"reused,omitempty"`
}

// Publisher uploads packages. Any nil backend is skipped.
type Publisher struct {
	Objects objectstore.Store
	Blobs   cas.Store
	Pusher  cas.BlobPusher
	// Parallel bounds concurrent uploads.
	Parallel int
}

type item struct {
	rel  string
	abs  string
	kind artifact.Type
}

// Publish uploads every packaged file, the index and, when set, the
// archive. Object keys are <runID>/<path in package>.
func (p *Publisher) Publish(ctx context.Context, runID string, pkg packager.Set, archive string) ([]Published, error) {
	if p == nil || (p.Objects == nil && p.Pusher == nil) {
		return nil, nil
	}
	log := logging.FromContext(ctx)
	items := []item{{rel: packager.IndexName, abs: filepath.Join(pkg.Dir, packager.IndexName), kind: artifact.PackageType}}
	for _, e := range pkg.Entries {
		for _, f := range e.Files {
			items = append(items, item{rel: f.Library, abs: pkg.Abs(f.Library), kind: artifact.LibraryType})
			if f.Symbols != "" {
				items = append(items, item{rel: f.Symbols, abs: pkg.Abs(f.Symbols), kind: artifact.SymbolsType})
			}
		}
	}
	if archive != "" {
		items = append(items, item{rel: filepath.Base(archive), abs: archive, kind: artifact.PackageType})
	}

	out := make([]Published, len(items))
	g, ctx := errgroup.WithContext(ctx)
	limit := p.Parallel
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)
	var mu sync.Mutex
	reused := 0
	for i, it := range items {
		g.Go(func() error {
			pub, err := p.publishOne(ctx, runID, it)
			if err != nil {
				return fmt.Errorf("publish %s: %w", it.rel, err)
			}
			if pub.Reused {
				mu.Lock()
				reused++
				mu.Unlock()
			}
			out[i] = pub
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Info("package published", "run_id", runID, "files", len(out), "reused_blobs", reused)
	return out, nil
}

func (p *Publisher) publishOne(ctx context.Context, runID string, it item) (Published, error) {
	data, err := os.ReadFile(it.abs)
	if err != nil {
		return Published{}, err
	}
	id := artifact.ID{Type: it.kind, Digest: artifact.DigestBytes(data)}
	pub := Published{Path: it.rel, Digest: id.Digest}
	if p.Objects != nil {
		pub.Key = path.Join(runID, it.rel)
		contentType := "application/octet-stream"
		if path.Ext(it.rel) == ".json" {
			contentType = "application/json"
		}
		if err := p.Objects.Put(ctx, pub.Key, data, contentType); err != nil {
			return Published{}, err
		}
	}
	if p.Pusher != nil {
		if p.Blobs != nil {
			ok, err := p.Blobs.Has(ctx, id)
			if err != nil {
				return Published{}, err
			}
			if ok {
				pub.Reused = true
				return pub, nil
			}
		}
		url, err := p.Pusher.Push(ctx, id, data, cas.MediaType(it.kind))
		if err != nil {
			return Published{}, err
		}
		pub.BlobURL = url
	}
	return pub, nil
}
