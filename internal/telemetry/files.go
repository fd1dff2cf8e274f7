package telemetry

import (
	"encoding/json"
	"path"
	"sort"
	"strings"

	"printfarm/core-go/internal/moonraker"
)

// MacroPrefix marks gcode macros in Klipper's object list.
const MacroPrefix = "gcode_macro "

type File struct {
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Modified float64 `json:"modified"`
}

// ParseFiles decodes the gcode file list, most recently modified first.
func ParseFiles(raw json.RawMessage) ([]File, error) {
	var rows []struct {
		Path     string  `json:"path"`
		Size     float64 `json:"size"`
		Modified float64 `json:"modified"`
	}
	if err := moonraker.DecodeResult(raw, &rows); err != nil {
		return nil, err
	}

	files := make([]File, 0, len(rows))
	for _, r := range rows {
		if strings.TrimSpace(r.Path) == "" {
			continue
		}
		files = append(files, File{Name: r.Path, Size: int64(r.Size), Modified: r.Modified})
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Modified > files[j].Modified
	})
	return files, nil
}

// MacroName strips MacroPrefix once. ok is false for non-macro objects.
func MacroName(object string) (string, bool) {
	name, ok := strings.CutPrefix(object, MacroPrefix)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// ParseMacros decodes the printer object list and keeps the macros.
func ParseMacros(raw json.RawMessage) ([]string, error) {
	var res struct {
		Objects []string `json:"objects"`
	}
	if err := moonraker.DecodeResult(raw, &res); err != nil {
		return nil, err
	}

	macros := make([]string, 0)
	seen := make(map[string]struct{})
	for _, obj := range res.Objects {
		name, ok := MacroName(obj)
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		macros = append(macros, name)
	}
	return macros, nil
}

// ParseThumbnail picks the largest thumbnail from a file-metadata response
// and returns its URL path on the printer. ok is false when the file has no
// thumbnails.
func ParseThumbnail(raw json.RawMessage, filename string) (string, bool, error) {
	var res struct {
		Thumbnails []struct {
			Width        int    `json:"width"`
			Height       int    `json:"height"`
			RelativePath string `json:"relative_path"`
		} `json:"thumbnails"`
	}
	if err := moonraker.DecodeResult(raw, &res); err != nil {
		return "", false, err
	}

	best := -1
	bestArea := -1
	for i, th := range res.Thumbnails {
		if th.RelativePath == "" {
			continue
		}
		if area := th.Width * th.Height; area > bestArea {
			best, bestArea = i, area
		}
	}
	if best < 0 {
		return "", false, nil
	}

	rel := path.Join(path.Dir(filename), res.Thumbnails[best].RelativePath)
	return "/server/files/gcodes/" + strings.TrimPrefix(rel, "/"), true, nil
}
