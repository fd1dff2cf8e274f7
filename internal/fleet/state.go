package fleet

import (
	"sync"
	"sync/atomic"
	"time"

	"printfarm/core-go/internal/afc"
	"printfarm/core-go/internal/registry"
	"printfarm/core-go/internal/ring"
	"printfarm/core-go/internal/telemetry"
)

const (
	HistoryCapacity     = 60
	TerminalLogCapacity = 100
)

type TemperatureSample struct {
	Time time.Time `json:"time"`
	telemetry.Temperatures
}

// DeviceState is the published view of one printer. Values returned by the
// Synchronizer are snapshots and never change after being handed out.
type DeviceState struct {
	registry.Device

	Status             telemetry.PrintStatus    `json:"status"`
	RawState           string                   `json:"raw_state,omitempty"`
	Progress           int                      `json:"progress"`
	Temperatures       telemetry.Temperatures   `json:"temperatures"`
	CurrentFile        string                   `json:"current_file,omitempty"`
	ThumbnailPath      string                   `json:"thumbnail_path,omitempty"`
	TimeLeft           *int                     `json:"time_left,omitempty"`
	Files              []telemetry.File         `json:"files"`
	Macros             []string                 `json:"macros"`
	TerminalLog        []string                 `json:"terminal_log"`
	ExcludeObject      *telemetry.ExcludeObject `json:"exclude_object,omitempty"`
	TemperatureHistory []TemperatureSample      `json:"temperature_history"`
	AFC                *afc.State               `json:"afc,omitempty"`

	LastPolledAt  *time.Time `json:"last_polled_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// entry owns one printer's mutable state. Writers hold mu; readers load the
// last published snapshot without locking.
type entry struct {
	mu       sync.Mutex
	state    DeviceState
	history  *ring.Buffer[TemperatureSample]
	terminal *ring.Buffer[string]
	thumbFor string

	// issued is the last sequence number handed out, applied the last one
	// merged. Results carrying an older sequence are dropped.
	issued  uint64
	applied uint64
	removed bool

	snap atomic.Pointer[DeviceState]
}

func newEntry(d registry.Device) *entry {
	e := &entry{
		history:  ring.New[TemperatureSample](HistoryCapacity),
		terminal: ring.New[string](TerminalLogCapacity),
	}
	e.state = DeviceState{
		Device: d,
		Status: telemetry.StatusOffline,
		Files:  []telemetry.File{},
		Macros: []string{},
	}
	e.publishLocked()
	return e
}

func (e *entry) load() DeviceState {
	return *e.snap.Load()
}

func (e *entry) begin() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.issued++
	return e.issued
}

// apply runs fn when seq is not older than the last merged sequence and the
// printer is still registered. ok reports whether fn ran.
func (e *entry) apply(seq uint64, fn func(st *DeviceState)) (DeviceState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || seq < e.applied {
		return DeviceState{}, false
	}
	e.applied = seq
	fn(&e.state)
	return e.publishLocked(), true
}

// update runs fn without the sequence check, for changes that do not race
// with poll results (terminal log, AFC-only refresh).
func (e *entry) update(fn func(st *DeviceState)) (DeviceState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return DeviceState{}, false
	}
	fn(&e.state)
	return e.publishLocked(), true
}

func (e *entry) markRemoved() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true
}

func (e *entry) cachedThumbnailFile() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.thumbFor
}

func (e *entry) publishLocked() DeviceState {
	s := e.state
	s.TemperatureHistory = e.history.Slice()
	s.TerminalLog = e.terminal.Slice()
	e.snap.Store(&s)
	return s
}
