// Package daemon runs dropguard as a long-lived process: it owns the
// instance lock, the persisted state, the event pipeline and the admin API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/jamesainslie/dropguard/pkg/daemon/broadcaster"
	"github.com/jamesainslie/dropguard/pkg/daemon/store"
	"github.com/jamesainslie/dropguard/pkg/daemon/watcher"
	"github.com/jamesainslie/dropguard/pkg/dropguard/classify"
	"github.com/jamesainslie/dropguard/pkg/dropguard/config"
	"github.com/jamesainslie/dropguard/pkg/dropguard/dedup"
	"github.com/jamesainslie/dropguard/pkg/dropguard/logging"
	"github.com/jamesainslie/dropguard/pkg/dropguard/metrics"
	"github.com/jamesainslie/dropguard/pkg/dropguard/pathguard"
	"github.com/jamesainslie/dropguard/pkg/dropguard/quarantine"
	"github.com/jamesainslie/dropguard/pkg/dropguard/router"
	"github.com/jamesainslie/dropguard/pkg/dropguard/stability"
	"github.com/jamesainslie/dropguard/pkg/dropguard/state"
	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

// Daemon is an assembled dropguardd.
type Daemon struct {
	cfg         *config.Config
	source      router.Source
	lock        *InstanceLock
	store       *store.Store
	state       *state.Holder
	router      *router.Router
	broadcaster *broadcaster.Broadcaster
	metrics     *metrics.Metrics
	log         *logging.Logger

	socketPath string
	pidPath    string
	statusPath string
	ready      chan struct{}
}

// Option customises New.
type Option func(*Daemon)

// WithSource replaces the fsnotify watcher.
func WithSource(src router.Source) Option {
	return func(d *Daemon) { d.source = src }
}

// WithStore uses an already opened store instead of opening state.db_path.
// The daemon takes ownership and closes it.
func WithStore(s *store.Store) Option {
	return func(d *Daemon) { d.store = s }
}

// New takes the instance lock, loads persisted state and builds the
// pipeline. Close releases everything New acquired.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Daemon, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:        cfg,
		log:        logging.Get("daemon"),
		socketPath: cfg.SocketPath(),
		pidPath:    cfg.PIDPath(),
		ready:      make(chan struct{}),
	}
	d.statusPath = StatusPath(filepath.Dir(d.pidPath))
	for _, o := range opts {
		o(d)
	}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	d.lock, err = AcquireInstance(LockPath(d.pidPath))
	if err != nil {
		return nil, err
	}
	// Holding the lock means any PID file or socket is left over from a crash.
	if pid := clearStale(d.pidPath, d.socketPath, cfg.State.DBPath); pid > 0 {
		d.log.Warn("cleaned up after stale daemon", "stale_pid", pid)
	}

	if d.store == nil {
		if err := os.MkdirAll(filepath.Dir(cfg.State.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
		if d.store, err = store.Open(cfg.State.DBPath); err != nil {
			return nil, err
		}
	}
	if err := d.loadState(ctx); err != nil {
		return nil, err
	}
	if err := d.build(); err != nil {
		return nil, err
	}

	report, err := d.router.Recover()
	if err != nil {
		d.log.Error("quarantine recovery failed", "error", err)
	} else if report.Relinked > 0 || report.Partials > 0 {
		d.log.Warn("recovered interrupted quarantine moves", "relinked", report.Relinked, "partials", report.Partials)
	}
	return d, nil
}

func (d *Daemon) loadState(ctx context.Context) error {
	from, err := d.store.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrating state: %w", err)
	}
	if from > 0 {
		d.log.Info("migrated state schema", "from", from)
	}

	if legacy := d.cfg.State.LegacyImport; legacy != "" {
		imported, err := d.store.ImportLegacy(ctx, legacy)
		switch {
		case err != nil:
			d.log.Error("legacy state import failed", "path", legacy, "error", err)
		case imported:
			d.log.Info("imported legacy state", "path", legacy)
		}
	}

	rec, err := d.store.Load()
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec.Mode = types.PolicyMode(d.cfg.PolicyMode)
		d.log.Info("no persisted state, starting fresh", "mode", rec.Mode)
	case err != nil:
		rec.Mode = types.PolicyMode(d.cfg.PolicyMode)
		d.log.Error("persisted state unreadable, using defaults", "error", err)
	}

	d.state = state.New(rec, d.store, d.cfg.State.MaxAlerts)
	return nil
}

func (d *Daemon) build() error {
	cfg := d.cfg

	qm, err := quarantine.New(cfg.QuarantineDir)
	if err != nil {
		return err
	}
	guard, err := pathguard.New(cfg.Roots, qm.Dir(), cfg.Ignore)
	if err != nil {
		return err
	}
	rules, err := cfg.ClassifierRules()
	if err != nil {
		return err
	}
	rs, err := classify.Compile(rules)
	if err != nil {
		return err
	}
	maxBytes, err := cfg.MaxBytes()
	if err != nil {
		return err
	}

	if d.source == nil {
		d.source = watcher.New(watcher.WithSkip(func(dir string) bool {
			canon := pathguard.Canonicalize(dir)
			return qm.Contains(canon) || guard.IgnoredPath(canon, guard.Origin(canon))
		}))
	}

	d.broadcaster = broadcaster.New()
	d.metrics = metrics.New()
	d.metrics.AlertsStored(len(d.state.Alerts()))

	d.router, err = router.New(router.Config{
		Source:     d.source,
		Guard:      guard,
		Dedup:      dedup.New(cfg.Dedup.TTL),
		Stability:  stability.New(cfg.Stability.Interval, cfg.Stability.Timeout, cfg.Stability.Required),
		Classifier: rs,
		Quarantine: qm,
		State:      d.state,
		Notifier:   d.broadcaster,
		Metrics:    d.metrics,
		MaxBytes:   maxBytes,
		Workers:    cfg.Pipeline.Workers,
		SettledAge: cfg.Pipeline.SettledAge,
	})
	if err != nil {
		return err
	}
	d.log.Info("pipeline ready",
		"roots", guard.Roots(), "quarantine", qm.Dir(), "rules", rs.Labels(), "mode", d.state.Mode())
	return nil
}

// Router returns the pipeline, for in-process callers.
func (d *Daemon) Router() *router.Router { return d.router }

// Ready is closed once the admin socket accepts connections.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Run serves the admin API, the optional metrics endpoint and the pipeline
// until ctx is cancelled or the Shutdown RPC is called. The pipeline drains
// before the servers stop.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv, err := NewServer(d.socketPath, NewService(d.router, d.broadcaster, cancel))
	if err != nil {
		return fmt.Errorf("listening on %s: %w", d.socketPath, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	routerDone := make(chan struct{})

	g.Go(func() error {
		if err := srv.Serve(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serving admin api: %w", err)
		}
		return nil
	})

	var metricsSrv *http.Server
	if addr := d.cfg.Metrics.Listen; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.metrics.Handler())
		metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			d.log.Info("serving metrics", "addr", addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving metrics: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(routerDone)
		return d.router.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		<-routerDone
		d.broadcaster.Close()
		if metricsSrv != nil {
			shutdownCtx, stop := context.WithTimeout(context.Background(), StopGrace)
			defer stop()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return srv.Close()
	})

	if err := WritePIDFile(d.pidPath); err != nil {
		d.log.Warn("could not write pid file", "path", d.pidPath, "error", err)
	}
	if err := WriteStatusReady(d.statusPath, d.socketPath); err != nil {
		d.log.Warn("could not write status file", "path", d.statusPath, "error", err)
	}
	close(d.ready)
	d.log.Info("daemon started", "pid", os.Getpid(), "socket", d.socketPath)

	err = g.Wait()
	_ = RemovePIDFile(d.pidPath)
	_ = RemoveStatus(d.statusPath)
	if err != nil {
		d.log.Error("daemon stopped with error", "error", err)
		return err
	}
	d.log.Info("daemon stopped")
	return nil
}

// Close flushes state, closes the store and releases the instance lock.
func (d *Daemon) Close() error {
	var errs []error
	if d.state != nil && d.store != nil {
		if err := d.state.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, err)
		}
		d.store = nil
	}
	if d.lock != nil {
		if err := d.lock.Release(); err != nil {
			errs = append(errs, err)
		}
		d.lock = nil
	}
	return errors.Join(errs...)
}

// StatusFilePath returns where the startup status is written.
func (d *Daemon) StatusFilePath() string { return d.statusPath }
