// Package watch runs a check cycle on a fixed interval and keeps counters
// about it. It is the daemon-mode driver: every tick runs the cycle to
// completion before the next one can start, so cycles never overlap.
//
// Typical usage:
//
//	w := watch.New(watch.Options{Interval: 10 * time.Minute})
//	w.Run(ctx, func(ctx context.Context) (bool, error) { return svc.CheckAll(ctx) })
package watch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Cycle performs one round of checks. changed reports whether anything
// changed; err is logged and counted, and the loop keeps going.
type Cycle func(ctx context.Context) (changed bool, err error)

// Options tunes the watcher behaviour.
type Options struct {
	// Interval between the start of two cycles. Default: 1m.
	Interval time.Duration
	// SkipInitial waits one interval before the first cycle instead of
	// running immediately.
	SkipInitial bool
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher drives a Cycle. Stats is safe for concurrent use.
type Watcher struct {
	opts Options

	cycles  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	totalNs atomic.Int64
	lastRun atomic.Int64 // epoch ms
}

// Stats are point-in-time counters.
type Stats struct {
	Cycles          int64         `json:"cycles"`
	ChangesDetected int64         `json:"changes_detected"`
	Errors          int64         `json:"errors"`
	AvgCycleTime    time.Duration `json:"avg_cycle_time"`
	LastRunAt       int64         `json:"last_run_at"`
	Interval        time.Duration `json:"interval"`
}

// New creates a Watcher. Call Run to start the loop.
func New(opts Options) *Watcher {
	opts.defaults()
	return &Watcher{opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Cycles:          w.cycles.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		LastRunAt:       w.lastRun.Load(),
		Interval:        w.opts.Interval,
	}
	if s.Cycles > 0 {
		s.AvgCycleTime = time.Duration(w.totalNs.Load() / s.Cycles)
	}
	return s
}

// Run blocks until ctx is cancelled, running cycle every Interval.
func (w *Watcher) Run(ctx context.Context, cycle Cycle) {
	log := w.opts.Logger
	log.Info("watch: started", "interval", w.opts.Interval)

	if !w.opts.SkipInitial {
		w.fire(ctx, log, cycle)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			return
		case <-ticker.C:
			w.fire(ctx, log, cycle)
		}
	}
}

func (w *Watcher) fire(ctx context.Context, log *slog.Logger, cycle Cycle) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	changed, err := cycle(ctx)
	elapsed := time.Since(start)

	w.cycles.Add(1)
	w.totalNs.Add(int64(elapsed))
	w.lastRun.Store(start.UnixMilli())
	if changed {
		w.changes.Add(1)
	}
	if err != nil {
		w.errors.Add(1)
		log.Warn("watch: cycle failed", "error", err, "duration", elapsed)
		return
	}
	log.Debug("watch: cycle complete", "changed", changed, "duration", elapsed)
}
