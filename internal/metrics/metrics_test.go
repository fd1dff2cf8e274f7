package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := rr.Body.String(); !strings.Contains(got, "metrics unavailable") {
		t.Fatalf("expected body to mention metrics unavailable, got %q", got)
	}

	// Recording on a nil registry is a no-op.
	m.ObservePollCycle(time.Second)
	m.ObservePrinterPoll("ok", time.Second)
	m.IncCommand("pause", "ok")
	m.SetPrintersByStatus(map[string]int{"idle": 1})
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	return rr.Body.String()
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/readyz", http.StatusOK, 12*time.Millisecond)
	m.ObservePollCycle(300 * time.Millisecond)
	m.ObservePrinterPoll("offline", 5*time.Second)
	m.IncCommand("emergency_stop", "ok")

	body := scrape(t, m)

	if !strings.Contains(body, "printfarm_http_requests_total{method=\"GET\",path=\"/readyz\",status=\"200\"} 1") {
		t.Fatalf("expected labeled request counter to be incremented; body=%s", body)
	}
	if !strings.Contains(body, "printfarm_poll_cycles_total 1") {
		t.Fatalf("expected poll cycle counter to be incremented; body=%s", body)
	}
	if !strings.Contains(body, "printfarm_poll_cycle_duration_seconds_count 1") {
		t.Fatalf("expected poll cycle histogram to have one observation; body=%s", body)
	}
	if !strings.Contains(body, "printfarm_printer_polls_total{outcome=\"offline\"} 1") {
		t.Fatalf("expected printer poll counter by outcome; body=%s", body)
	}
	if !strings.Contains(body, "printfarm_commands_total{outcome=\"ok\",verb=\"emergency_stop\"} 1") {
		t.Fatalf("expected command counter; body=%s", body)
	}
}

func TestSetPrintersByStatus_resetsMissingStatuses(t *testing.T) {
	m := New()
	m.SetPrintersByStatus(map[string]int{"printing": 2, "offline": 1})
	m.SetPrintersByStatus(map[string]int{"printing": 3})

	body := scrape(t, m)
	if !strings.Contains(body, "printfarm_printers{status=\"printing\"} 3") {
		t.Fatalf("expected printing gauge to be 3; body=%s", body)
	}
	if strings.Contains(body, "printfarm_printers{status=\"offline\"}") {
		t.Fatalf("expected offline gauge to be reset; body=%s", body)
	}
}
