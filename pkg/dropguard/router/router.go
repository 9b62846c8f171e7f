// Package router drives each file event through the detection pipeline and
// serves the admin operations that re-enter it.
//
// A pipeline moves through Seen, Guarded, Stabilizing, Classified, Decided and
// Actioned. Waiting for stability is the only long suspension and the only
// point where cancellation is honoured; once a match is found, recording the
// alert, moving the file and updating the alert run to completion.
package router

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/jamesainslie/dropguard/pkg/dropguard/classify"
	"github.com/jamesainslie/dropguard/pkg/dropguard/dedup"
	"github.com/jamesainslie/dropguard/pkg/dropguard/logging"
	"github.com/jamesainslie/dropguard/pkg/dropguard/metrics"
	"github.com/jamesainslie/dropguard/pkg/dropguard/pathguard"
	"github.com/jamesainslie/dropguard/pkg/dropguard/policy"
	"github.com/jamesainslie/dropguard/pkg/dropguard/quarantine"
	"github.com/jamesainslie/dropguard/pkg/dropguard/stability"
	"github.com/jamesainslie/dropguard/pkg/dropguard/state"
	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

var (
	// ErrOutOfScope rejects paths outside every watched root.
	ErrOutOfScope = errors.New("path is outside the watched roots")
	// ErrAlertNotFound means no alert matches the given reference.
	ErrAlertNotFound = errors.New("alert not found")
)

// Source delivers file events for one root until ctx is cancelled, then
// closes the channel.
type Source interface {
	Subscribe(ctx context.Context, root string) (<-chan types.FileEvent, error)
}

// Notifier receives alert changes. Implementations must not block.
type Notifier interface {
	Notify(types.AlertEvent)
}

// Stabilizer waits for a file to stop changing.
type Stabilizer interface {
	Wait(ctx context.Context, path string) (stability.Result, error)
}

// Stage is how far a pipeline got.
type Stage int

const (
	StageSeen Stage = iota
	StageGuarded
	StageStabilizing
	StageClassified
	StageDecided
	StageActioned
)

func (s Stage) String() string {
	return [...]string{"seen", "guarded", "stabilizing", "classified", "decided", "actioned"}[s]
}

// Result is a pipeline's terminal state.
type Result int

const (
	Rejected Result = iota
	Duplicate
	Gone
	Clean
	Quarantined
	Warned
	Failed
	Aborted
)

func (r Result) String() string {
	return [...]string{"rejected", "duplicate", "gone", "clean", "quarantined", "warned", "failed", "aborted"}[r]
}

// Outcome describes one finished pipeline.
type Outcome struct {
	Stage   Stage
	Result  Result
	Path    string
	Verdict pathguard.Verdict
	Rule    string
	// Alert is set whenever a match was recorded.
	Alert *types.Alert
	Err   error
}

// DefaultWorkers bounds concurrent pipelines.
const DefaultWorkers = 8

// DefaultPersistRetries is how often an alert save is attempted.
const DefaultPersistRetries = 3

// Config wires a Router's collaborators. Notifier and Metrics are optional.
type Config struct {
	Source     Source
	Guard      *pathguard.Guard
	Dedup      *dedup.Deduplicator
	Stability  Stabilizer
	Classifier classify.Classifier
	Quarantine *quarantine.Manager
	State      *state.Holder
	Notifier   Notifier
	Metrics    *metrics.Metrics

	// MaxBytes caps how much of a file is classified.
	MaxBytes int64
	// Workers bounds concurrent pipelines.
	Workers int
	// PersistRetries is how many times an alert save is tried.
	PersistRetries int
	// RetryDelay is the base backoff between persist attempts.
	RetryDelay time.Duration
	// SettledAge lets scans skip the stability wait for files not modified
	// within this long. Zero always waits.
	SettledAge time.Duration
}

// Router owns the pipeline and the admin operations.
type Router struct {
	cfg Config
	log *logging.Logger
	now func() time.Time

	sem chan struct{}
	wg  sync.WaitGroup

	restores restoreLog
}

// New validates cfg and returns a Router.
func New(cfg Config) (*Router, error) {
	switch {
	case cfg.Guard == nil:
		return nil, errors.New("router: guard is required")
	case cfg.Dedup == nil:
		return nil, errors.New("router: deduplicator is required")
	case cfg.Stability == nil:
		return nil, errors.New("router: stability detector is required")
	case cfg.Classifier == nil:
		return nil, errors.New("router: classifier is required")
	case cfg.Quarantine == nil:
		return nil, errors.New("router: quarantine manager is required")
	case cfg.State == nil:
		return nil, errors.New("router: state holder is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.PersistRetries <= 0 {
		cfg.PersistRetries = DefaultPersistRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = classify.DefaultMaxBytes
	}

	return &Router{
		cfg: cfg,
		log: logging.Get("router"),
		now: time.Now,
		sem: make(chan struct{}, cfg.Workers),
	}, nil
}

// Run subscribes to every root and dispatches events until ctx is cancelled.
// It returns after all in-flight pipelines have finished.
func (r *Router) Run(ctx context.Context) error {
	if r.cfg.Source == nil {
		return errors.New("router: no event source configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var dispatchers sync.WaitGroup
	for _, root := range r.cfg.Guard.Roots() {
		events, err := r.cfg.Source.Subscribe(ctx, root)
		if err != nil {
			cancel()
			dispatchers.Wait()
			r.wg.Wait()
			return fmt.Errorf("subscribing to %s: %w", root, err)
		}
		r.log.Info("watching root", "root", root)

		dispatchers.Add(1)
		go func() {
			defer dispatchers.Done()
			r.dispatch(ctx, events)
		}()
	}

	<-ctx.Done()
	dispatchers.Wait()
	r.wg.Wait()
	r.log.Info("router stopped")
	return nil
}

func (r *Router) dispatch(ctx context.Context, events <-chan types.FileEvent) {
	for ev := range events {
		r.cfg.Metrics.Event(ev.Kind.String())

		if ev.Kind == types.Renamed && ev.From != "" {
			r.cfg.Dedup.Mark(pathguard.Canonicalize(ev.From))
		}
		if ev.Path == "" {
			continue
		}
		if !r.spawn(ctx, ev.Path, ev.Root) {
			return
		}
	}
}

// spawn starts a pipeline once a worker slot is free. It reports false when
// ctx ended first.
func (r *Router) spawn(ctx context.Context, path, origin string) bool {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.sem }()
		r.Process(ctx, path, origin)
	}()
	return true
}

// Wait blocks until every pipeline started by Run has finished.
func (r *Router) Wait() {
	r.wg.Wait()
}

// Process runs one pipeline for path synchronously. origin is the root the
// event was reported for; the guard's own answer is used when it is empty.
func (r *Router) Process(ctx context.Context, path, origin string) Outcome {
	return r.process(ctx, path, origin, false)
}

func (r *Router) process(ctx context.Context, path, origin string, existing bool) Outcome {
	r.cfg.Metrics.PipelineStarted()
	defer r.cfg.Metrics.PipelineDone()

	out := r.run(ctx, path, origin, existing)
	r.cfg.Metrics.Outcome(out.Result.String())
	return out
}

func (r *Router) run(ctx context.Context, path, origin string, existing bool) Outcome {
	out := Outcome{Stage: StageSeen, Path: path}

	// One snapshot serves the whole detection.
	snap := r.cfg.State.Snapshot()
	g := r.cfg.Guard.Check(path, snap.Whitelist)
	out.Stage, out.Path, out.Verdict = StageGuarded, g.Path, g.Verdict

	switch g.Verdict {
	case pathguard.Eligible:
	case pathguard.OutOfScope:
		r.log.Error("event outside watched roots rejected", "path", g.Path)
		out.Result, out.Err = Rejected, ErrOutOfScope
		return out
	default:
		r.log.Debug("path skipped", "path", g.Path, "verdict", g.Verdict)
		r.cfg.Dedup.Mark(g.Path)
		out.Result = Rejected
		return out
	}
	if origin == "" || !pathguard.Within(g.Path, origin) {
		origin = g.Root
	}

	if r.cfg.Dedup.Claim(g.Path) == dedup.AlreadyHandled {
		r.log.Debug("duplicate event dropped", "path", g.Path)
		out.Result = Duplicate
		return out
	}

	out.Stage = StageStabilizing
	if !(existing && r.settled(g.Path)) {
		start := r.now()
		res, err := r.cfg.Stability.Wait(ctx, g.Path)
		if err != nil {
			r.cfg.Dedup.Release(g.Path)
			out.Result, out.Err = Aborted, err
			return out
		}
		r.cfg.Metrics.StabilityWait(res.String(), r.now().Sub(start))

		switch res {
		case stability.Gone:
			r.log.Debug("file disappeared before it settled", "path", g.Path)
			r.cfg.Dedup.Release(g.Path)
			out.Result = Gone
			return out
		case stability.Unstable:
			r.log.Warn("file did not settle, classifying anyway", "path", g.Path)
		}
	}

	out.Stage = StageClassified
	rule, sampled, err := classify.ClassifyFile(r.cfg.Classifier, g.Path, r.cfg.MaxBytes)
	if err != nil {
		r.cfg.Dedup.Release(g.Path)
		if errors.Is(err, fs.ErrNotExist) {
			r.log.Debug("file disappeared before classification", "path", g.Path)
			out.Result = Gone
			return out
		}
		r.log.Warn("could not read file", "path", g.Path, "error", err)
		r.cfg.Metrics.Failure("classify")
		out.Result, out.Err = Failed, err
		return out
	}

	out.Stage = StageDecided
	decision := policy.Decide(rule, snap.Mode)
	out.Rule = decision.Rule
	if !decision.Records() {
		r.log.Debug("no sensitive content", "path", g.Path, "bytes", sampled)
		r.cfg.Dedup.Release(g.Path)
		out.Result = Clean
		return out
	}

	// From here on the sequence runs to completion regardless of ctx.
	out.Stage = StageActioned
	r.act(&out, decision, origin, sampled)
	return out
}

func (r *Router) settled(path string) bool {
	if r.cfg.SettledAge <= 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0 && r.now().Sub(info.ModTime()) > r.cfg.SettledAge
}

func (r *Router) act(out *Outcome, decision policy.Decision, origin string, sampled int64) {
	size := sampled
	if info, err := os.Stat(out.Path); err == nil {
		size = info.Size()
	}

	alert, err := r.cfg.State.Append(types.Alert{
		File:         out.Path,
		Rule:         decision.Rule,
		Timestamp:    r.now(),
		Status:       decision.Mode,
		Origin:       origin,
		OriginalPath: out.Path,
		Size:         size,
	})
	if err != nil {
		err = r.retryPersist(err, r.cfg.State.Flush)
	}
	// Nothing is announced until the alert is on disk.
	durable := err == nil
	if !durable {
		r.log.Error("failed to persist alert", "alert", alert.ID, "path", out.Path, "error", err)
		r.cfg.Metrics.Failure("persist")
		out.Err = err
	}
	out.Alert = &alert
	r.cfg.Dedup.Mark(out.Path)
	r.log.Warn("sensitive file detected", "alert", alert.ID, "path", out.Path,
		"rule", decision.Rule, "mode", decision.Mode, "origin", origin)

	if decision.Action != policy.RecordAndQuarantine {
		r.recordDetection(decision)
		if durable {
			r.notify(types.AlertRaised, alert)
		}
		out.Result = Warned
		return
	}

	dest, err := r.cfg.Quarantine.Quarantine(out.Path)
	switch {
	case errors.Is(err, quarantine.ErrSourceGone):
		r.log.Debug("file vanished before quarantine, dropping its alert", "alert", alert.ID, "path", out.Path)
		out.Alert = nil
		out.Err = r.withdraw(alert)
		out.Result = Gone
		return
	case err != nil:
		r.log.Error("failed to quarantine file", "alert", alert.ID, "path", out.Path, "error", err)
		r.cfg.Metrics.Failure("quarantine")
		r.recordDetection(decision)
		if durable {
			r.notify(types.AlertRaised, alert)
		}
		out.Result, out.Err = Failed, err
		return
	}
	r.cfg.Dedup.Mark(dest)
	r.recordDetection(decision)

	updated, err := r.updatePath(alert.ID, dest)
	switch {
	case err == nil:
		// The record now holds the alert and its new location.
		durable = true
		out.Err = nil
	case errors.Is(err, state.ErrNotFound):
		r.log.Debug("alert dismissed while its file was moved", "alert", alert.ID)
		updated = alert
		updated.File = dest
	default:
		r.log.Error("quarantined file but could not persist its new location",
			"alert", alert.ID, "path", out.Path, "quarantine", dest, "error", err)
		r.cfg.Metrics.Failure("persist")
		out.Err = err
	}
	out.Alert = &updated
	out.Result = Quarantined
	r.log.Info("file quarantined", "alert", alert.ID, "path", out.Path, "quarantine", dest)
	if durable {
		r.notify(types.AlertRaised, alert)
		r.notify(types.AlertQuarantined, updated)
	}
}

func (r *Router) recordDetection(decision policy.Decision) {
	r.cfg.Metrics.Detection(decision.Rule, string(decision.Mode))
	r.cfg.Metrics.AlertsStored(len(r.cfg.State.Snapshot().Alerts))
}

// withdraw drops an alert whose file disappeared before it could be acted on.
func (r *Router) withdraw(a types.Alert) error {
	_, err := r.cfg.State.Remove(a.ID)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		if err = r.retryPersist(err, r.cfg.State.Flush); err != nil {
			r.log.Error("failed to persist withdrawn alert", "alert", a.ID, "error", err)
			r.cfg.Metrics.Failure("persist")
			return err
		}
	}
	return nil
}

// updatePath points the alert at its quarantine location, retrying the save.
func (r *Router) updatePath(id, dest string) (types.Alert, error) {
	updated, err := r.cfg.State.UpdatePath(id, dest)
	if err == nil || errors.Is(err, state.ErrNotFound) {
		return updated, err
	}
	// The new location is already in memory; only the save failed.
	return updated, r.retryPersist(err, r.cfg.State.Flush)
}

// retryPersist retries a failed save with linear backoff until it succeeds or
// PersistRetries attempts have been made in total.
func (r *Router) retryPersist(err error, save func() error) error {
	for attempt := 1; err != nil && attempt < r.cfg.PersistRetries; attempt++ {
		r.log.Warn("persisting state failed, retrying", "attempt", attempt, "error", err)
		time.Sleep(time.Duration(attempt) * r.cfg.RetryDelay)
		err = save()
	}
	return err
}

func (r *Router) notify(action types.AlertAction, a types.Alert) {
	if r.cfg.Notifier != nil {
		r.cfg.Notifier.Notify(types.AlertEvent{Action: action, Alert: a})
	}
}
