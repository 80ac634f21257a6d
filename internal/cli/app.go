package cli

import (
	"context"
	"errors"
	"io"

	"github.com/k8ika0s/crossbuild/internal/config"
	"github.com/k8ika0s/crossbuild/internal/deps"
	"github.com/k8ika0s/crossbuild/internal/events"
	"github.com/k8ika0s/crossbuild/internal/history"
	"github.com/k8ika0s/crossbuild/internal/orchestrator"
	"github.com/k8ika0s/crossbuild/internal/paths"
	"github.com/k8ika0s/crossbuild/internal/publish"
)

// backends are the long-lived clients a run reports through.
type backends struct {
	cache     deps.Cache
	events    events.Sink
	publisher *publish.Publisher
	history   history.Store
	closers   []io.Closer
}

func (b *backends) track(v any) {
	if c, ok := v.(io.Closer); ok {
		b.closers = append(b.closers, c)
	}
}

func (b *backends) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (a *App) open(ctx context.Context) (_ *backends, err error) {
	s := a.Settings
	b := &backends{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()
	if b.cache, err = s.DependencyCache(); err != nil {
		return nil, err
	}
	b.track(b.cache)
	if b.events, err = s.EventSink(); err != nil {
		return nil, err
	}
	b.track(b.events)
	if b.history, err = s.History(ctx); err != nil {
		return nil, err
	}
	b.track(b.history)
	if b.publisher, err = s.Publisher(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (a *App) orchestrator(f *config.File, b *backends) *orchestrator.Orchestrator {
	r := a.Runner
	if r == nil {
		r = a.Settings.Runner()
	}
	return &orchestrator.Orchestrator{
		File:      f,
		Runner:    r,
		Cache:     b.cache,
		Events:    b.events,
		Stripper:  a.Settings.Stripper(),
		Publisher: b.publisher,
		Reporter:  a.Settings.Reporter(),
		History:   b.history,
	}
}

// loadFile reads the named build file, or finds the default one.
func loadFile(path string) (*config.File, error) {
	if path == "" {
		found, err := paths.FindConfig()
		if err != nil {
			return nil, err
		}
		path = found
	}
	return config.LoadFile(path)
}

func (a *App) jobs(flag int) int {
	if flag > 0 {
		return flag
	}
	return a.Settings.Jobs
}
