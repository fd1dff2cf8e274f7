package moonraker

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	PathObjectsQuery  = "/printer/objects/query"
	PathObjectsList   = "/printer/objects/list"
	PathFilesList     = "/server/files/list"
	PathFileMetadata  = "/server/files/metadata"
	PathAFCStatus     = "/printer/afc/status"
	PathGCodeScript   = "/printer/gcode/script"
	PathPrintStart    = "/printer/print/start"
	PathPrintPause    = "/printer/print/pause"
	PathPrintResume   = "/printer/print/resume"
	PathPrintCancel   = "/printer/print/cancel"
	PathExcludeObject = "/printer/exclude_object/exclude"
)

// StatusObjects are the printer objects requested by the status query.
var StatusObjects = []string{
	"print_stats",
	"display_status",
	"heater_bed",
	"extruder",
	"virtual_sdcard",
	"exclude_object",
}

// Request is one outbound call against a printer's API.
type Request struct {
	Method string
	Path   string
	// Objects are emitted as bare query keys ("?extruder&heater_bed"), which
	// is how Moonraker selects whole objects.
	Objects []string
	Query   url.Values
	// Lenient accepts bodies that are JSON only after comments and trailing
	// commas are stripped. The raw body is returned unchanged.
	Lenient bool
}

// Encode renders the query string without the leading '?'.
func (r Request) Encode() string {
	parts := make([]string, 0, 2)
	if len(r.Objects) > 0 {
		keys := make([]string, 0, len(r.Objects))
		for _, o := range r.Objects {
			keys = append(keys, url.QueryEscape(o))
		}
		parts = append(parts, strings.Join(keys, "&"))
	}
	if len(r.Query) > 0 {
		parts = append(parts, r.Query.Encode())
	}
	return strings.Join(parts, "&")
}

func (r Request) String() string {
	if q := r.Encode(); q != "" {
		return r.Method + " " + r.Path + "?" + q
	}
	return r.Method + " " + r.Path
}

func StatusQuery() Request {
	return Request{Method: http.MethodGet, Path: PathObjectsQuery, Objects: StatusObjects}
}

func FilesList() Request {
	return Request{Method: http.MethodGet, Path: PathFilesList, Query: url.Values{"root": {"gcodes"}}}
}

func ObjectsList() Request {
	return Request{Method: http.MethodGet, Path: PathObjectsList}
}

func FileMetadata(filename string) Request {
	return Request{Method: http.MethodGet, Path: PathFileMetadata, Query: url.Values{"filename": {filename}}}
}

func AFCStatus() Request {
	return Request{Method: http.MethodGet, Path: PathAFCStatus, Lenient: true}
}

func GCode(script string) Request {
	return Request{Method: http.MethodPost, Path: PathGCodeScript, Query: url.Values{"script": {script}}}
}

func PrintStart(filename string) Request {
	return Request{Method: http.MethodPost, Path: PathPrintStart, Query: url.Values{"filename": {filename}}}
}

func PrintPause() Request { return Request{Method: http.MethodPost, Path: PathPrintPause} }

func PrintResume() Request { return Request{Method: http.MethodPost, Path: PathPrintResume} }

func PrintCancel() Request { return Request{Method: http.MethodPost, Path: PathPrintCancel} }

func ExcludeObject(name string) Request {
	return Request{Method: http.MethodPost, Path: PathExcludeObject, Query: url.Values{"name": {name}}}
}

// LaneName renders the firmware's lane identifier for an ordinal.
func LaneName(lane int) string {
	return "lane" + strconv.Itoa(lane)
}
