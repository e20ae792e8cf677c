package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tutorme/tutorchat/internal/config"
	"tutorme/tutorchat/internal/logging"
	"tutorme/tutorchat/internal/votes"
)

const reconcileParallelism = 4

// Reconciler is satisfied by *votes.Aggregator.
type Reconciler interface {
	Targets(ctx context.Context) ([]string, error)
	Reconcile(ctx context.Context, target string) (votes.Reconciliation, error)
}

// ReconcileAll recomputes every tutor's counters from its vote rows and
// returns how many were rewritten. It keeps going past per-tutor failures
// and reports the first one.
func ReconcileAll(ctx context.Context, r Reconciler) (int, error) {
	targets, err := r.Targets(ctx)
	if err != nil {
		return 0, err
	}
	var repaired atomic.Int64
	var firstErr error
	var once atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileParallelism)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			rec, err := r.Reconcile(gctx, target)
			if err != nil {
				if once.CompareAndSwap(false, true) {
					firstErr = err
				}
				logging.Component("reconcile").Warn().Err(err).Str("target", target).Msg("reconcile failed")
				return nil
			}
			if rec.Repaired() {
				repaired.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(repaired.Load()), firstErr
}

func StartReconcileJob(ctx context.Context, cfg config.Config, r Reconciler) {
	logger := logging.Component("reconcile")
	if !cfg.ReconcileJobEnabled {
		return
	}
	if r == nil {
		logger.Warn().Msg("reconcile job disabled: no reconciler configured")
		return
	}
	interval := cfg.ReconcileJobInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	timeout := cfg.ReconcileJobTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				repaired, err := ReconcileAll(tickCtx, r)
				cancel()
				if err != nil {
					logger.Error().Err(err).Msg("reconcile job error")
					continue
				}
				if repaired > 0 {
					logger.Info().Int("repaired", repaired).Msg("reconcile job rewrote counters")
				}
			}
		}
	}()
}
