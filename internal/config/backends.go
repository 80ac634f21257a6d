package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/k8ika0s/crossbuild/internal/cas"
	"github.com/k8ika0s/crossbuild/internal/deps"
	"github.com/k8ika0s/crossbuild/internal/events"
	"github.com/k8ika0s/crossbuild/internal/history"
	"github.com/k8ika0s/crossbuild/internal/objectstore"
	"github.com/k8ika0s/crossbuild/internal/packager"
	"github.com/k8ika0s/crossbuild/internal/publish"
	"github.com/k8ika0s/crossbuild/internal/reporter"
	"github.com/k8ika0s/crossbuild/internal/runner"
)

// Runner builds the external build collaborator.
func (s Settings) Runner() runner.Runner {
	r := &runner.CMakeRunner{Bin: s.CMakeBin, ExtraArgs: s.CMakeArgs, GracePeriod: s.GracePeriod}
	return runner.WithTimeout(r, s.BuildTimeout)
}

// Stripper builds the symbol stripper for strip-policy variants.
func (s Settings) Stripper() packager.Stripper {
	return packager.StripperFor(s.StripBin)
}

// DependencyCache builds the shared manifest cache.
func (s Settings) DependencyCache() (deps.Cache, error) {
	switch s.CacheBackend {
	case "", "memory":
		return deps.NewMemoryCache(), nil
	case "redis":
		if s.RedisURL == "" {
			return nil, fmt.Errorf("cache backend redis needs REDIS_URL")
		}
		return deps.NewRedisCache(s.RedisURL, s.RedisCacheKey, s.CacheTTL), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", s.CacheBackend)
	}
}

// EventSink builds the configured event sink.
func (s Settings) EventSink() (events.Sink, error) {
	return events.New(events.Config{
		Backend:      s.EventsBackend,
		File:         s.EventsFile,
		RedisURL:     s.RedisURL,
		RedisKey:     s.RedisEventsKey,
		KafkaBrokers: s.KafkaBrokers,
		KafkaTopic:   s.KafkaTopic,
	})
}

// CASRegistry addresses the blob registry.
func (s Settings) CASRegistry() cas.Registry {
	return cas.Registry{
		BaseURL:  s.CASRegistryURL,
		Repo:     s.CASRegistryRepo,
		Username: s.CASRegistryUser,
		Password: s.CASRegistryPass,
	}
}

// CASStore builds a CAS store client from config (Zot by default).
func (s Settings) CASStore() cas.Store {
	if s.CASRegistryURL == "" {
		return cas.NullStore{}
	}
	return cas.ZotStore{Registry: s.CASRegistry()}
}

// ObjectStore builds an object storage client if configured.
func (s Settings) ObjectStore(ctx context.Context) (objectstore.Store, error) {
	if s.ObjectStoreEndpoint == "" || s.ObjectStoreBucket == "" {
		return nil, nil
	}
	store, err := objectstore.NewMinIOStore(ctx, objectstore.Options{
		Endpoint:  s.ObjectStoreEndpoint,
		AccessKey: s.ObjectStoreAccess,
		SecretKey: s.ObjectStoreSecret,
		Bucket:    s.ObjectStoreBucket,
		BasePath:  s.ObjectStorePrefix,
		UseSSL:    s.ObjectStoreUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Publisher wires object storage and the blob registry. It returns nil when
// neither is configured.
func (s Settings) Publisher(ctx context.Context) (*publish.Publisher, error) {
	objects, err := s.ObjectStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	p := &publish.Publisher{Parallel: s.PublishParallel}
	p.Objects = objects
	if s.CASPushEnabled && s.CASRegistryURL != "" {
		p.Blobs = s.CASStore()
		p.Pusher = cas.Pusher{Registry: s.CASRegistry()}
	}
	if p.Objects == nil && p.Pusher == nil {
		return nil, nil
	}
	return p, nil
}

// Reporter builds the control plane client.
func (s Settings) Reporter() *reporter.Client {
	if s.ControlPlaneURL == "" {
		return nil
	}
	return &reporter.Client{BaseURL: strings.TrimRight(s.ControlPlaneURL, "/"), Token: s.ControlPlaneToken}
}

// History opens run history in Postgres when a DSN is set.
func (s Settings) History(ctx context.Context) (history.Store, error) {
	if s.PostgresDSN == "" {
		return history.NullStore{}, nil
	}
	store, err := history.OpenPostgres(ctx, s.PostgresDSN)
	if err != nil {
		return nil, err
	}
	return store, nil
}
