package pollworker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"printfarm/core-go/internal/fleet"
)

// Poller is the part of *fleet.Synchronizer the worker drives.
type Poller interface {
	PollAll(ctx context.Context) fleet.PollReport
}

type Options struct {
	// Interval is the pause between the end of one cycle and the start of
	// the next, so cycles never overlap.
	Interval time.Duration
	// MaxRuntime bounds a single cycle.
	MaxRuntime time.Duration
}

type Worker struct {
	log        zerolog.Logger
	p          Poller
	interval   time.Duration
	maxRuntime time.Duration
}

func New(log zerolog.Logger, p Poller, opts Options) *Worker {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxRuntime := opts.MaxRuntime
	if maxRuntime <= 0 {
		maxRuntime = 30 * time.Second
	}
	return &Worker{
		log:        log,
		p:          p,
		interval:   interval,
		maxRuntime: maxRuntime,
	}
}

// Run polls the fleet once immediately and then every interval until ctx
// is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.p == nil {
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	last := fleet.PollReport{Online: -1}
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		last = w.runOnce(ctx, last)
		timer.Reset(w.interval)
	}
}

func (w *Worker) runOnce(ctx context.Context, prev fleet.PollReport) fleet.PollReport {
	cycleCtx, cancel := context.WithTimeout(ctx, w.maxRuntime)
	defer cancel()

	report := w.p.PollAll(cycleCtx)

	ev := w.log.Debug()
	if report.Online != prev.Online || report.Offline != prev.Offline {
		ev = w.log.Info()
	}
	ev.Int("printers", report.Polled).
		Int("online", report.Online).
		Int("offline", report.Offline).
		Int("skipped", report.Skipped).
		Dur("duration", report.Duration).
		Msg("poll cycle complete")
	return report
}
