package pollworker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"printfarm/core-go/internal/fleet"
)

type fakePoller struct {
	pollFn func(ctx context.Context) fleet.PollReport
}

func (f *fakePoller) PollAll(ctx context.Context) fleet.PollReport {
	return f.pollFn(ctx)
}

func TestRun_PollsImmediatelyAndRepeats(t *testing.T) {
	var cycles atomic.Int32
	p := &fakePoller{pollFn: func(context.Context) fleet.PollReport {
		cycles.Add(1)
		return fleet.PollReport{Polled: 1, Online: 1}
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w := New(zerolog.Nop(), p, Options{Interval: 10 * time.Millisecond})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for cycles.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 3 cycles, got %d", cycles.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop after cancel")
	}
}

func TestRun_CyclesDoNotOverlap(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	var cycles atomic.Int32
	p := &fakePoller{pollFn: func(context.Context) fleet.PollReport {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		inFlight.Add(-1)
		cycles.Add(1)
		return fleet.PollReport{}
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	New(zerolog.Nop(), p, Options{Interval: time.Millisecond}).Run(ctx)

	if cycles.Load() < 2 {
		t.Fatalf("expected multiple cycles, got %d", cycles.Load())
	}
	if maxInFlight.Load() != 1 {
		t.Fatalf("expected cycles to run one at a time, saw %d concurrently", maxInFlight.Load())
	}
}

func TestRunOnce_BoundsCycleRuntime(t *testing.T) {
	p := &fakePoller{pollFn: func(ctx context.Context) fleet.PollReport {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatalf("expected cycle context to carry a deadline")
		}
		if time.Until(deadline) > 50*time.Millisecond {
			t.Fatalf("expected deadline within MaxRuntime, got %s", time.Until(deadline))
		}
		return fleet.PollReport{Polled: 2, Online: 1, Offline: 1}
	}}

	w := New(zerolog.Nop(), p, Options{MaxRuntime: 50 * time.Millisecond})
	got := w.runOnce(context.Background(), fleet.PollReport{Online: -1})
	if got.Polled != 2 || got.Offline != 1 {
		t.Fatalf("unexpected report: %+v", got)
	}
}

func TestRun_NilPollerReturns(t *testing.T) {
	w := New(zerolog.Nop(), nil, Options{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to return without a poller")
	}
}
