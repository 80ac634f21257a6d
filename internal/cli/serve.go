package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/k8ika0s/crossbuild/internal/logging"
	"github.com/k8ika0s/crossbuild/internal/orchestrator"
	"github.com/k8ika0s/crossbuild/internal/reporter"
)

// ServeCmd is 'crossbuild serve'.
type ServeCmd struct {
	Config  string        `short:"c" type:"path" help:"Build file (default: ./crossbuild.yaml, then the user config dir)." placeholder:"PATH"`
	Addr    string        `help:"Listen address (default: CROSSBUILD_HTTP_ADDR)." placeholder:"ADDR"`
	Jobs    int           `short:"j" help:"Concurrent cell builds per run."`
	Timeout time.Duration `default:"30m" help:"Upper bound for one triggered run."`
}

// Run serves until the context is cancelled.
func (c *ServeCmd) Run(ctx context.Context, app *App) error {
	if _, err := loadFile(c.Config); err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	b, err := app.open(ctx)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	defer b.Close()

	addr := c.Addr
	if addr == "" {
		addr = app.Settings.HTTPAddr
	}
	s := newServer(ctx, app, b, c)
	srv := &http.Server{
		Addr:              addr,
		Handler:           withGzip(s.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.heartbeatLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	logging.FromContext(ctx).Info("serving", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// server runs at most one build at a time.
type server struct {
	base    context.Context
	app     *App
	backend *backends
	cmd     *ServeCmd
	id      string
	running sync.Mutex
	busy    atomic.Bool
	lastRun atomic.Value
}

func newServer(base context.Context, app *App, b *backends, cmd *ServeCmd) *server {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "crossbuild"
	}
	return &server{base: base, app: app, backend: b, cmd: cmd, id: fmt.Sprintf("%s-%d", host, os.Getpid())}
}

func (s *server) heartbeat() reporter.Heartbeat {
	last, _ := s.lastRun.Load().(string)
	return reporter.Heartbeat{
		ServerID:    s.id,
		Busy:        s.busy.Load(),
		LastRunID:   last,
		IntervalSec: int(s.app.Settings.HeartbeatInterval / time.Second),
	}
}

func (s *server) heartbeatLoop(ctx context.Context) {
	rep := s.app.Settings.Reporter()
	if rep == nil || s.app.Settings.HeartbeatInterval <= 0 {
		return
	}
	log := logging.FromContext(ctx)
	ticker := time.NewTicker(s.app.Settings.HeartbeatInterval)
	defer ticker.Stop()
	for {
		if err := rep.PostHeartbeat(ctx, s.heartbeat()); err != nil && ctx.Err() == nil {
			log.Warn("heartbeat failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if _, err := loadFile(s.cmd.Config); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "detail": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/trigger", s.trigger)
	mux.HandleFunc("/runs", s.runs)
	return mux
}

func (s *server) authorized(r *http.Request) bool {
	want := s.app.Settings.Token
	if want == "" {
		return true
	}
	tok := r.Header.Get(reporter.TokenHeader)
	if tok == "" {
		tok = r.URL.Query().Get("token")
	}
	return tok == want
}

func (s *server) trigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if !s.running.TryLock() {
		writeJSON(w, http.StatusConflict, map[string]string{"detail": "a run is already in progress"})
		return
	}
	defer s.running.Unlock()
	s.busy.Store(true)
	defer s.busy.Store(false)

	f, err := loadFile(s.cmd.Config)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	q := r.URL.Query()
	opts := orchestrator.Options{
		Jobs:         s.app.jobs(s.cmd.Jobs),
		AllowPartial: q.Get("allow_partial") == "true",
		NoPackage:    q.Get("no_package") == "true",
		Archive:      s.app.Settings.ArchivePackage,
	}
	// The run outlives a dropped client but not the server.
	ctx, cancel := context.WithTimeout(s.base, s.timeout())
	defer cancel()
	report, err := s.app.orchestrator(f, s.backend).Run(ctx, opts)
	if report == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	s.lastRun.Store(report.RunID)
	status := http.StatusOK
	if err != nil || report.Failed() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, report)
}

func (s *server) timeout() time.Duration {
	if s.cmd.Timeout > 0 {
		return s.cmd.Timeout
	}
	return 30 * time.Minute
}

func (s *server) runs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	runs, err := s.backend.history.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
