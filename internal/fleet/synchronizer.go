// Package fleet keeps the live state of every registered printer. It polls
// printers concurrently, merges normalized telemetry and AFC data into
// per-printer state, and dispatches control commands.
package fleet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"printfarm/core-go/internal/metrics"
	"printfarm/core-go/internal/moonraker"
	"printfarm/core-go/internal/registry"
	"printfarm/core-go/internal/telemetry"
)

var ErrUnknownDevice = errors.New("unknown printer")

const DefaultSettleDelay = 2 * time.Second

type Options struct {
	Notifier Notifier
	Metrics  *metrics.Metrics
	// SettleDelay postpones the follow-up poll after AFC actions, lane
	// updates, emergency stop and firmware restart.
	SettleDelay time.Duration
	Now         func() time.Time
}

type Synchronizer struct {
	log         zerolog.Logger
	gw          moonraker.Gateway
	reg         registry.Store
	notifier    Notifier
	metrics     *metrics.Metrics
	settleDelay time.Duration
	now         func() time.Time

	mu      sync.RWMutex
	devices map[string]*entry
	order   []string

	flight singleflight.Group

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

func New(log zerolog.Logger, gw moonraker.Gateway, reg registry.Store, opts Options) *Synchronizer {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		log:         log,
		gw:          gw,
		reg:         reg,
		notifier:    notifier,
		metrics:     opts.Metrics,
		settleDelay: settle,
		now:         now,
		devices:     make(map[string]*entry),
		bgCtx:       ctx,
		bgCancel:    cancel,
	}
}

// Close stops background polls and waits for them to return.
func (s *Synchronizer) Close() {
	s.bgCancel()
	s.bg.Wait()
}

// Load seeds a default state for every printer in the registry. Printers
// already known are left untouched.
func (s *Synchronizer) Load(ctx context.Context) (int, error) {
	devices, err := s.reg.List(ctx)
	if err != nil {
		return 0, err
	}
	added := 0
	s.mu.Lock()
	for _, d := range devices {
		if _, ok := s.devices[d.ID]; ok {
			continue
		}
		s.devices[d.ID] = newEntry(d)
		s.order = append(s.order, d.ID)
		added++
	}
	s.mu.Unlock()

	s.recordStatusGauge()
	return added, nil
}

// RegisterDevice creates the printer in the registry, seeds its state and
// polls it in the background right away.
func (s *Synchronizer) RegisterDevice(ctx context.Context, in registry.DeviceCreate) (DeviceState, error) {
	d, err := s.reg.Create(ctx, in)
	if err != nil {
		return DeviceState{}, err
	}

	e := newEntry(d)
	s.mu.Lock()
	s.devices[d.ID] = e
	s.order = append(s.order, d.ID)
	s.mu.Unlock()

	st := e.load()
	s.log.Info().Str("printer_id", d.ID).Str("address", d.Address).Msg("printer registered")
	s.emit(Event{Type: EventPrinterRegistered, PrinterID: d.ID, Printer: &st})

	s.goBackground(func(ctx context.Context) {
		s.pollShared(ctx, d.ID, e)
	})
	return st, nil
}

func (s *Synchronizer) UnregisterDevice(ctx context.Context, id string) error {
	if err := s.reg.Delete(ctx, id); err != nil {
		if !errors.Is(err, registry.ErrNotFound) {
			return err
		}
		if _, ok := s.lookup(id); !ok {
			return err
		}
	}

	s.mu.Lock()
	e, ok := s.devices[id]
	if ok {
		delete(s.devices, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if ok {
		e.markRemoved()
	}
	s.log.Info().Str("printer_id", id).Msg("printer removed")
	s.emit(Event{Type: EventPrinterRemoved, PrinterID: id})
	s.recordStatusGauge()
	return nil
}

// Devices returns a snapshot of every printer in registration order.
func (s *Synchronizer) Devices() []DeviceState {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.devices[id])
	}
	s.mu.RUnlock()

	out := make([]DeviceState, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.load())
	}
	return out
}

func (s *Synchronizer) Device(id string) (DeviceState, error) {
	e, ok := s.lookup(id)
	if !ok {
		return DeviceState{}, ErrUnknownDevice
	}
	return e.load(), nil
}

func (s *Synchronizer) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.devices[id]
	return e, ok
}

func (s *Synchronizer) snapshotEntries() map[string]*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*entry, len(s.devices))
	for id, e := range s.devices {
		out[id] = e
	}
	return out
}

func (s *Synchronizer) goBackground(fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(s.bgCtx)
	}()
}

// pollAfter polls id once delay has elapsed, unless the Synchronizer is
// closed first.
func (s *Synchronizer) pollAfter(id string, delay time.Duration) {
	s.goBackground(func(ctx context.Context) {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if e, ok := s.lookup(id); ok {
			s.pollShared(ctx, id, e)
		}
	})
}

func (s *Synchronizer) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = s.now().UTC()
	}
	s.notifier.Notify(ev)
}

func (s *Synchronizer) recordStatusGauge() {
	if s.metrics == nil {
		return
	}
	counts := map[string]int{}
	for _, st := range s.Devices() {
		counts[string(st.Status)]++
	}
	for _, status := range []telemetry.PrintStatus{
		telemetry.StatusIdle, telemetry.StatusPrinting, telemetry.StatusPaused,
		telemetry.StatusError, telemetry.StatusOffline,
	} {
		if _, ok := counts[string(status)]; !ok {
			counts[string(status)] = 0
		}
	}
	s.metrics.SetPrintersByStatus(counts)
}
