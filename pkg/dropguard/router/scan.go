package router

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"
	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/dropguard/pkg/dropguard/pathguard"
	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

// ScanProgress reports how far a scan has got.
type ScanProgress struct {
	Root        string
	Scanned     int64
	Detected    int64
	CurrentPath string
}

// ProgressFunc is called periodically during a scan and once at the end.
type ProgressFunc func(ScanProgress)

type scanState struct {
	scanned     atomic.Int64
	detected    atomic.Int64
	currentPath atomic.Value
}

func (s *scanState) progress(root string) ScanProgress {
	cp, _ := s.currentPath.Load().(string)
	return ScanProgress{
		Root:        root,
		Scanned:     s.scanned.Load(),
		Detected:    s.detected.Load(),
		CurrentPath: cp,
	}
}

// ScanAll scans every watched root and records the scan time.
func (r *Router) ScanAll(ctx context.Context, onProgress ProgressFunc) (types.ScanSummary, error) {
	var total types.ScanSummary
	for _, root := range r.cfg.Guard.Roots() {
		sum, err := r.scan(ctx, root, onProgress)
		total.Scanned += sum.Scanned
		total.Detected += sum.Detected
		if err != nil {
			return total, err
		}
	}
	return total, r.finishScan(total)
}

// ScanExisting runs every regular file under root through the pipeline as
// though it had just been created. An empty root scans all roots. Files that
// have not changed recently skip the stability wait.
func (r *Router) ScanExisting(ctx context.Context, root string, onProgress ProgressFunc) (types.ScanSummary, error) {
	if root == "" {
		return r.ScanAll(ctx, onProgress)
	}

	canon := pathguard.Canonicalize(root)
	if !r.cfg.Guard.InScope(canon) {
		r.log.Error("scan outside watched roots rejected", "path", canon)
		return types.ScanSummary{}, fmt.Errorf("%w: %s", ErrOutOfScope, canon)
	}

	sum, err := r.scan(ctx, canon, onProgress)
	if err != nil {
		return sum, err
	}
	return sum, r.finishScan(sum)
}

func (r *Router) finishScan(sum types.ScanSummary) error {
	r.log.Info("scan finished", "scanned", sum.Scanned, "detected", sum.Detected)
	if err := r.cfg.State.SetLastScan(r.now()); err != nil {
		r.log.Error("failed to persist scan time", "error", err)
		return err
	}
	return nil
}

func (r *Router) scan(ctx context.Context, root string, onProgress ProgressFunc) (types.ScanSummary, error) {
	origin := r.cfg.Guard.Origin(root)
	qdir := r.cfg.Quarantine.Dir()
	st := &scanState{}
	st.currentPath.Store("")

	done := make(chan struct{})
	var reporter sync.WaitGroup
	if onProgress != nil {
		onProgress(st.progress(root))
		reporter.Add(1)
		go func() {
			defer reporter.Done()
			ticker := time.NewTicker(100 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					onProgress(st.progress(root))
				case <-done:
					return
				}
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	conf := fastwalk.Config{Follow: false}
	walkErr := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if cerr := gctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			r.log.Debug("skipping unreadable entry", "path", path, "error", err)
			return nil
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			if pathguard.Within(path, qdir) || r.cfg.Guard.IgnoredPath(path, origin) {
				return fastwalk.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		st.scanned.Add(1)
		st.currentPath.Store(path)
		g.Go(func() error {
			out := r.process(gctx, path, origin, true)
			switch out.Result {
			case Quarantined, Warned:
				st.detected.Add(1)
			case Aborted:
				return out.Err
			}
			return nil
		})
		return nil
	})

	groupErr := g.Wait()
	close(done)
	reporter.Wait()
	if onProgress != nil {
		onProgress(st.progress(root))
	}

	sum := types.ScanSummary{Scanned: st.scanned.Load(), Detected: st.detected.Load()}
	if err := errors.Join(walkErr, groupErr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sum, ctxErr
		}
		return sum, fmt.Errorf("scanning %s: %w", root, err)
	}
	return sum, nil
}
