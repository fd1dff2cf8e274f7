// Package telemetry turns raw Moonraker query responses into the canonical
// per-printer status the fleet keeps.
package telemetry

import (
	"encoding/json"
	"math"

	"printfarm/core-go/internal/moonraker"
)

type PrintStatus string

const (
	StatusIdle     PrintStatus = "idle"
	StatusPrinting PrintStatus = "printing"
	StatusPaused   PrintStatus = "paused"
	StatusError    PrintStatus = "error"
	StatusOffline  PrintStatus = "offline"
)

// DeriveStatus maps Klipper's print_stats.state onto PrintStatus. The first
// matching rule wins; anything unrecognised (standby, complete, cancelled, "")
// is idle.
func DeriveStatus(rawState string) PrintStatus {
	switch rawState {
	case "printing":
		return StatusPrinting
	case "paused":
		return StatusPaused
	case "error", "shutdown", "disconnected":
		return StatusError
	default:
		return StatusIdle
	}
}

type Temperatures struct {
	Nozzle       int `json:"nozzle"`
	NozzleTarget int `json:"nozzle_target"`
	Bed          int `json:"bed"`
	BedTarget    int `json:"bed_target"`
}

type ExcludeObject struct {
	Objects         []ExcludeObjectEntry `json:"objects"`
	ExcludedObjects []string             `json:"excluded_objects"`
	CurrentObject   *string              `json:"current_object"`
}

type ExcludeObjectEntry struct {
	Name    string      `json:"name"`
	Center  []float64   `json:"center,omitempty"`
	Polygon [][]float64 `json:"polygon,omitempty"`
}

// Snapshot is the status delta produced by one successful status query.
type Snapshot struct {
	Status        PrintStatus
	RawState      string
	Progress      int
	Temperatures  Temperatures
	CurrentFile   string
	PrintDuration float64
	// TimeLeft is an estimate in seconds; nil when no estimate is possible.
	TimeLeft      *int
	ExcludeObject *ExcludeObject
}

type heater struct {
	Temperature float64 `json:"temperature"`
	Target      float64 `json:"target"`
}

type rawStatus struct {
	Status *struct {
		PrintStats *struct {
			State         string  `json:"state"`
			Filename      string  `json:"filename"`
			PrintDuration float64 `json:"print_duration"`
		} `json:"print_stats"`
		DisplayStatus *struct {
			Progress float64 `json:"progress"`
		} `json:"display_status"`
		Extruder      *heater        `json:"extruder"`
		HeaterBed     *heater        `json:"heater_bed"`
		ExcludeObject *ExcludeObject `json:"exclude_object"`
	} `json:"status"`
}

// Normalize decodes a status-query response. Only result.status is required;
// each printer object inside it may be absent.
func Normalize(raw json.RawMessage) (Snapshot, error) {
	var rs rawStatus
	if err := moonraker.DecodeResult(raw, &rs); err != nil {
		return Snapshot{}, err
	}
	if rs.Status == nil {
		return Snapshot{}, &moonraker.MalformedResponseError{What: "missing result.status"}
	}
	st := rs.Status

	var snap Snapshot
	if ps := st.PrintStats; ps != nil {
		snap.RawState = ps.State
		snap.CurrentFile = ps.Filename
		snap.PrintDuration = ps.PrintDuration
	}
	snap.Status = DeriveStatus(snap.RawState)

	var fraction float64
	if ds := st.DisplayStatus; ds != nil {
		fraction = ds.Progress
	}
	snap.Progress = clamp(roundInt(fraction*100), 0, 100)

	if e := st.Extruder; e != nil {
		snap.Temperatures.Nozzle = nonNegative(roundInt(e.Temperature))
		snap.Temperatures.NozzleTarget = nonNegative(roundInt(e.Target))
	}
	if b := st.HeaterBed; b != nil {
		snap.Temperatures.Bed = nonNegative(roundInt(b.Temperature))
		snap.Temperatures.BedTarget = nonNegative(roundInt(b.Target))
	}

	snap.ExcludeObject = st.ExcludeObject
	snap.TimeLeft = estimateTimeLeft(snap.Status, fraction, snap.PrintDuration)

	return snap, nil
}

func estimateTimeLeft(status PrintStatus, fraction, duration float64) *int {
	if status != StatusPrinting && status != StatusPaused {
		return nil
	}
	if fraction <= 0 || fraction > 1 || duration <= 0 {
		return nil
	}
	left := nonNegative(roundInt(duration/fraction - duration))
	return &left
}

func roundInt(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(math.Round(v))
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
