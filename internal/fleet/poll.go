package fleet

import (
	"context"
	"sync"
	"time"

	"printfarm/core-go/internal/afc"
	"printfarm/core-go/internal/moonraker"
	"printfarm/core-go/internal/registry"
	"printfarm/core-go/internal/telemetry"
)

type pollOutcome string

const (
	outcomeOK       pollOutcome = "ok"
	outcomeOffline  pollOutcome = "offline"
	outcomeStale    pollOutcome = "stale"
	outcomeCanceled pollOutcome = "canceled"
)

// PollReport summarizes one fleet-wide poll cycle.
type PollReport struct {
	Polled   int           `json:"polled"`
	Online   int           `json:"online"`
	Offline  int           `json:"offline"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration_ns"`
}

// PollAll polls every printer concurrently and waits for all of them. One
// printer's latency or failure never delays another's merge.
func (s *Synchronizer) PollAll(ctx context.Context) PollReport {
	start := time.Now()
	entries := s.snapshotEntries()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		report PollReport
	)
	for id, e := range entries {
		wg.Add(1)
		go func(id string, e *entry) {
			defer wg.Done()
			out := s.pollShared(ctx, id, e)

			mu.Lock()
			defer mu.Unlock()
			report.Polled++
			switch out {
			case outcomeOK:
				report.Online++
			case outcomeOffline:
				report.Offline++
			default:
				report.Skipped++
			}
		}(id, e)
	}
	wg.Wait()

	report.Duration = time.Since(start)
	s.metrics.ObservePollCycle(report.Duration)
	s.recordStatusGauge()
	return report
}

// PollOne polls a single printer now and returns its resulting state. A
// poll already in flight for the printer is joined rather than duplicated.
func (s *Synchronizer) PollOne(ctx context.Context, id string) (DeviceState, error) {
	e, ok := s.lookup(id)
	if !ok {
		return DeviceState{}, ErrUnknownDevice
	}
	if out := s.pollShared(ctx, id, e); out == outcomeCanceled {
		if err := ctx.Err(); err != nil {
			return DeviceState{}, err
		}
	}
	return e.load(), nil
}

// RefreshAFC re-reads only the AFC document of one printer.
func (s *Synchronizer) RefreshAFC(ctx context.Context, id string) (DeviceState, error) {
	e, ok := s.lookup(id)
	if !ok {
		return DeviceState{}, ErrUnknownDevice
	}
	res := s.fetchAFC(ctx, e.load().Device)
	if res.err != nil {
		return DeviceState{}, res.err
	}
	st, ok := e.update(res.merge)
	if !ok {
		return DeviceState{}, ErrUnknownDevice
	}
	s.emit(Event{Type: EventPrinterUpdated, PrinterID: id, Printer: &st})
	return st, nil
}

// pollShared joins or starts the poll of one printer. The poll itself runs
// on the Synchronizer's context so a caller giving up does not abort it for
// the others; each caller only stops waiting.
func (s *Synchronizer) pollShared(ctx context.Context, id string, e *entry) pollOutcome {
	ch := s.flight.DoChan(id, func() (any, error) {
		return s.pollEntry(s.bgCtx, e), nil
	})
	select {
	case res := <-ch:
		return res.Val.(pollOutcome)
	case <-ctx.Done():
		return outcomeCanceled
	}
}

func (s *Synchronizer) pollEntry(ctx context.Context, e *entry) pollOutcome {
	start := time.Now()
	seq := e.begin()
	dev := e.load().Device
	log := s.log.With().Str("printer_id", dev.ID).Logger()

	raw, err := s.gw.Do(ctx, dev.Address, moonraker.StatusQuery())
	var snap telemetry.Snapshot
	if err == nil {
		snap, err = telemetry.Normalize(raw)
	}

	if err != nil {
		if ctx.Err() != nil {
			return outcomeCanceled
		}
		// The AFC endpoint can answer while the status query does not.
		afcRes := s.fetchAFC(ctx, dev)
		now := s.now()
		st, ok := e.apply(seq, func(st *DeviceState) {
			st.Status = telemetry.StatusOffline
			st.LastPolledAt = &now
			st.LastError = err.Error()
			afcRes.merge(st)
		})
		if !ok {
			s.metrics.ObservePrinterPoll(string(outcomeStale), time.Since(start))
			return outcomeStale
		}
		log.Debug().Err(err).Msg("printer offline")
		s.metrics.ObservePrinterPoll(string(outcomeOffline), time.Since(start))
		s.emit(Event{Type: EventPrinterUpdated, PrinterID: dev.ID, Printer: &st})
		return outcomeOffline
	}

	sec := s.fetchSecondary(ctx, dev, snap.CurrentFile, e.cachedThumbnailFile())
	now := s.now()
	st, ok := e.apply(seq, func(st *DeviceState) {
		st.Status = snap.Status
		st.RawState = snap.RawState
		st.Progress = snap.Progress
		st.Temperatures = snap.Temperatures
		st.CurrentFile = snap.CurrentFile
		st.TimeLeft = snap.TimeLeft
		st.ExcludeObject = snap.ExcludeObject
		st.LastPolledAt = &now
		st.LastSuccessAt = &now
		st.LastError = ""

		if sec.filesOK {
			st.Files = sec.files
		}
		if sec.macrosOK {
			st.Macros = sec.macros
		}
		sec.afc.merge(st)

		switch {
		case sec.thumbFetched:
			st.ThumbnailPath = sec.thumb
			e.thumbFor = snap.CurrentFile
		case snap.CurrentFile != e.thumbFor:
			st.ThumbnailPath = ""
			if snap.CurrentFile == "" {
				e.thumbFor = ""
			}
		}

		e.history.Push(TemperatureSample{Time: now, Temperatures: snap.Temperatures})
	})
	if !ok {
		s.metrics.ObservePrinterPoll(string(outcomeStale), time.Since(start))
		return outcomeStale
	}
	s.metrics.ObservePrinterPoll(string(outcomeOK), time.Since(start))
	s.emit(Event{Type: EventPrinterUpdated, PrinterID: dev.ID, Printer: &st})
	return outcomeOK
}

type afcResult struct {
	state *afc.State
	err   error
}

// merge replaces the AFC state only when the document was read. A document
// without lanes clears it; a failed read keeps the previous one.
func (r afcResult) merge(st *DeviceState) {
	if r.err != nil {
		return
	}
	st.AFC = r.state
}

func (s *Synchronizer) fetchAFC(ctx context.Context, dev registry.Device) afcResult {
	raw, err := s.gw.Do(ctx, dev.Address, moonraker.AFCStatus())
	if err != nil {
		s.log.Trace().Err(err).Str("printer_id", dev.ID).Msg("afc query failed")
		return afcResult{err: err}
	}
	st, err := afc.ParseResponse(raw)
	if err != nil {
		s.log.Debug().Err(err).Str("printer_id", dev.ID).Msg("afc document unreadable")
		return afcResult{err: err}
	}
	return afcResult{state: st}
}

type secondary struct {
	files    []telemetry.File
	filesOK  bool
	macros   []string
	macrosOK bool
	afc      afcResult

	thumb        string
	thumbFetched bool
}

// fetchSecondary runs the files, objects, AFC and thumbnail queries
// concurrently. Each may fail on its own without affecting the others.
func (s *Synchronizer) fetchSecondary(ctx context.Context, dev registry.Device, currentFile, cachedThumbFor string) secondary {
	var (
		sec secondary
		wg  sync.WaitGroup
	)
	log := s.log.With().Str("printer_id", dev.ID).Logger()

	wg.Add(3)
	go func() {
		defer wg.Done()
		raw, err := s.gw.Do(ctx, dev.Address, moonraker.FilesList())
		if err == nil {
			sec.files, err = telemetry.ParseFiles(raw)
		}
		if err != nil {
			log.Debug().Err(err).Msg("file list query failed")
			return
		}
		sec.filesOK = true
	}()
	go func() {
		defer wg.Done()
		raw, err := s.gw.Do(ctx, dev.Address, moonraker.ObjectsList())
		if err == nil {
			sec.macros, err = telemetry.ParseMacros(raw)
		}
		if err != nil {
			log.Debug().Err(err).Msg("object list query failed")
			return
		}
		sec.macrosOK = true
	}()
	go func() {
		defer wg.Done()
		sec.afc = s.fetchAFC(ctx, dev)
	}()

	if currentFile != "" && currentFile != cachedThumbFor {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, err := s.gw.Do(ctx, dev.Address, moonraker.FileMetadata(currentFile))
			var p string
			if err == nil {
				p, _, err = telemetry.ParseThumbnail(raw, currentFile)
			}
			if err != nil {
				log.Debug().Err(err).Str("file", currentFile).Msg("file metadata query failed")
				return
			}
			sec.thumb, sec.thumbFetched = p, true
		}()
	}

	wg.Wait()
	return sec
}
