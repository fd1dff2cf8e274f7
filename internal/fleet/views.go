package fleet

import (
	"printfarm/core-go/internal/moonraker"
	"printfarm/core-go/internal/telemetry"
)

// Summary is the at-a-glance count of printers by status.
type Summary struct {
	Total    int `json:"total"`
	Printing int `json:"printing"`
	Paused   int `json:"paused"`
	Idle     int `json:"idle"`
	Error    int `json:"error"`
	Offline  int `json:"offline"`
}

func (s *Synchronizer) Summary() Summary {
	var sum Summary
	for _, st := range s.Devices() {
		sum.Total++
		switch st.Status {
		case telemetry.StatusPrinting:
			sum.Printing++
		case telemetry.StatusPaused:
			sum.Paused++
		case telemetry.StatusError:
			sum.Error++
		case telemetry.StatusOffline:
			sum.Offline++
		default:
			sum.Idle++
		}
	}
	return sum
}

// Widget is the flat per-printer record consumed by home-screen widgets.
type Widget struct {
	PrinterID     string `json:"printer_id"`
	PrinterName   string `json:"printer_name"`
	PrinterStatus string `json:"printer_status"`
	CurrentFile   string `json:"current_file"`
	Progress      int    `json:"progress"`
	NozzleTemp    int    `json:"nozzle_temp"`
	BedTemp       int    `json:"bed_temp"`
	ImageURL      string `json:"image_url,omitempty"`
}

func (s *Synchronizer) Widgets() []Widget {
	devices := s.Devices()
	out := make([]Widget, 0, len(devices))
	for _, st := range devices {
		w := Widget{
			PrinterID:     st.ID,
			PrinterName:   st.Name,
			PrinterStatus: string(st.Status),
			CurrentFile:   st.CurrentFile,
			Progress:      st.Progress,
			NozzleTemp:    st.Temperatures.Nozzle,
			BedTemp:       st.Temperatures.Bed,
		}
		if st.ThumbnailPath != "" {
			w.ImageURL = moonraker.BaseURL(st.Address) + st.ThumbnailPath
		}
		out = append(out, w)
	}
	return out
}
