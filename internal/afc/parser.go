// Package afc locates filament-changer lanes inside the AFC status document.
// The firmware's schema varies by vendor and version, so parsing is a set of
// ordered structural fallbacks over a generic tree rather than a fixed type.
package afc

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"

	"printfarm/core-go/internal/moonraker"
)

type LaneStatus string

const (
	LaneEmpty     LaneStatus = "empty"
	LaneLoaded    LaneStatus = "loaded"
	LaneActive    LaneStatus = "active"
	LaneLoading   LaneStatus = "loading"
	LaneUnloading LaneStatus = "unloading"
	LaneUnknown   LaneStatus = "unknown"
)

// UnknownLaneID is assigned to lanes whose ordinal is not an integer.
const UnknownLaneID = -1

const rollupUnknown = "unknown"

type Lane struct {
	ID       int        `json:"id"`
	Name     string     `json:"name"`
	Status   LaneStatus `json:"status"`
	Material *string    `json:"material,omitempty"`
	Color    *string    `json:"color,omitempty"`
}

type State struct {
	Lanes        []Lane `json:"lanes"`
	ActiveLaneID *int   `json:"active_lane_id"`
	Status       string `json:"status"`
}

var laneOrdinal = regexp.MustCompile(`lane(\d+)`)

// ParseResponse decodes an AFC status response and runs Parse over it. The
// Moonraker "result" envelope and the firmware's "status" (or "status:")
// wrapper are peeled first. A nil state with a nil error means the printer
// reported no lanes; an error means the document could not be read at all.
func ParseResponse(raw []byte) (st *State, err error) {
	doc, err := Decode(jsonc.ToJSON(raw))
	if err != nil {
		return nil, &moonraker.MalformedResponseError{What: "afc status", Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			st, err = nil, &moonraker.MalformedResponseError{What: "afc status", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	return Parse(peelEnvelope(doc)), nil
}

func peelEnvelope(doc Value) Value {
	obj, ok := doc.(*Object)
	if !ok {
		return doc
	}
	if res := obj.Object("result"); res != nil {
		obj = res
	}
	for _, key := range []string{"status", "status:"} {
		if inner := obj.Object(key); inner != nil {
			return inner
		}
	}
	return obj
}

// Parse extracts lanes, the active lane and the rollup status from a
// decoded AFC document. It returns nil when no lane could be found.
func Parse(doc Value) *State {
	root, ok := doc.(*Object)
	if !ok {
		return nil
	}
	if v, ok := root.GetFold("afc"); ok {
		if inner, ok := v.(*Object); ok {
			root = inner
		}
	}

	lanes := extractLanes(laneContainer(root))
	if len(lanes) == 0 {
		return nil
	}
	return &State{
		Lanes:        lanes,
		ActiveLaneID: activeLane(root),
		Status:       rollupStatus(root),
	}
}

func activeLane(root *Object) *int {
	candidates := []Value{}
	if v, ok := root.Object("system").Get("current_load"); ok {
		candidates = append(candidates, v)
	}
	if v, ok := root.Get("current_load"); ok {
		candidates = append(candidates, v)
	}
	for _, c := range candidates {
		if id, ok := LaneOrdinal(c); ok {
			return &id
		}
	}
	return nil
}

// LaneOrdinal extracts N from a value shaped like "lane<N>".
func LaneOrdinal(v Value) (int, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	m := laneOrdinal.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func rollupStatus(root *Object) string {
	buffers := root.Object("system").Object("buffers")
	if buffers.Len() == 0 {
		return rollupUnknown
	}
	first := buffers.Keys()[0]
	if state, ok := stringField(buffers.Object(first), "state"); ok {
		return state
	}
	return rollupUnknown
}

func laneContainer(root *Object) *Object {
	for _, k := range root.Keys() {
		unit := root.Object(k)
		if _, ok := unit.Get("lane1"); ok {
			return unit
		}
	}
	return root
}

func extractLanes(container *Object) []Lane {
	lanes := make([]Lane, 0)
	for _, key := range container.Keys() {
		if !strings.HasPrefix(key, "lane") {
			continue
		}
		entry := container.Object(key)
		ordinal, ok := entry.Get("lane")
		if !ok {
			continue
		}

		status, _ := entry.Get("status")
		lane := Lane{
			ID:     laneID(ordinal),
			Name:   key,
			Status: MapStatus(status),
		}
		if name, ok := stringField(entry, "name"); ok && name != "" {
			lane.Name = name
		}
		if m, ok := stringField(entry, "material"); ok {
			lane.Material = &m
		}
		if c, ok := stringField(entry, "color"); ok {
			lane.Color = &c
		}
		lanes = append(lanes, lane)
	}

	sort.SliceStable(lanes, func(i, j int) bool {
		a, b := lanes[i].ID, lanes[j].ID
		if a == UnknownLaneID || b == UnknownLaneID {
			return b == UnknownLaneID && a != UnknownLaneID
		}
		return a < b
	})
	return lanes
}

func laneID(v Value) int {
	switch t := v.(type) {
	case json.Number:
		if n, err := strconv.ParseInt(t.String(), 10, strconv.IntSize); err == nil {
			return int(n)
		}
		// Integral floats ("3.0", "1e1") only within a range int holds on
		// every platform.
		if f, err := t.Float64(); err == nil && f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 {
			return int(f)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return UnknownLaneID
}

// MapStatus folds a firmware lane status onto LaneStatus. "unloading" is
// checked before "loading" since it contains it.
func MapStatus(v Value) LaneStatus {
	s, ok := v.(string)
	if !ok {
		return LaneUnknown
	}
	switch s {
	case string(LaneLoaded), string(LaneActive), string(LaneEmpty):
		return LaneStatus(s)
	}
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "unloading"):
		return LaneUnloading
	case strings.Contains(lower, "loading"):
		return LaneLoading
	default:
		return LaneUnknown
	}
}

func stringField(o *Object, key string) (string, bool) {
	v, ok := o.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
