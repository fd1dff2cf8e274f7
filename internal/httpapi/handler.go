package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"printfarm/core-go/internal/fleet"
	"printfarm/core-go/internal/metrics"
	"printfarm/core-go/internal/moonraker"
	"printfarm/core-go/internal/registry"
)

// Fleet is the subset of *fleet.Synchronizer the API serves.
type Fleet interface {
	Devices() []fleet.DeviceState
	Device(id string) (fleet.DeviceState, error)
	RegisterDevice(ctx context.Context, in registry.DeviceCreate) (fleet.DeviceState, error)
	UnregisterDevice(ctx context.Context, id string) error
	PollOne(ctx context.Context, id string) (fleet.DeviceState, error)
	PollAll(ctx context.Context) fleet.PollReport
	SendCommand(ctx context.Context, id string, cmd fleet.Command) (fleet.DeviceState, error)
	RefreshAFC(ctx context.Context, id string) (fleet.DeviceState, error)
	Summary() fleet.Summary
	Widgets() []fleet.Widget
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	// DB is pinged by /readyz. Nil means the in-memory registry is in use.
	DB      Pinger
	Metrics *metrics.Metrics
	// Events serves the websocket notification stream.
	Events http.Handler
}

type Handler struct {
	log     zerolog.Logger
	fleet   Fleet
	db      Pinger
	metrics *metrics.Metrics
	events  http.Handler
}

func NewHandler(log zerolog.Logger, f Fleet, opts Options) *Handler {
	return &Handler{
		log:     log,
		fleet:   f,
		db:      opts.DB,
		metrics: opts.Metrics,
		events:  opts.Events,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			// Long-lived; kept outside the request timeout.
			r.Get("/events", h.handleEvents)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(15 * time.Second))

				r.Route("/printers", func(r chi.Router) {
					r.Get("/", h.handleListPrinters)
					r.Post("/", h.handleCreatePrinter)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", h.handleGetPrinter)
						r.Delete("/", h.handleDeletePrinter)
						r.Post("/poll", h.handlePollPrinter)
						r.Post("/commands", h.handleCommand)
						r.Post("/afc/refresh", h.handleRefreshAFC)
					})
				})

				r.Post("/poll", h.handlePollAll)
				r.Get("/summary", h.handleSummary)
				r.Get("/widgets", h.handleWidgets)
			})
		})
	})

	return r
}

func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), duration)

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.fleet == nil {
		h.writeError(w, http.StatusServiceUnavailable, "fleet_unavailable", "fleet not configured", nil)
		return
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (h *Handler) ensureFleet(w http.ResponseWriter) bool {
	if h.fleet == nil {
		h.writeError(w, http.StatusServiceUnavailable, "fleet_unavailable", "fleet not configured", nil)
		return false
	}
	return true
}

// printerID reads and validates the {id} URL parameter.
func (h *Handler) printerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "printer id is not a valid uuid", map[string]any{"id": id})
		return "", false
	}
	return id, h.ensureFleet(w)
}

// writeFleetError maps fleet, registry and gateway errors onto the error
// envelope.
func (h *Handler) writeFleetError(w http.ResponseWriter, err error, id string) {
	var unknown *fleet.UnknownCommandError
	switch {
	case errors.Is(err, fleet.ErrUnknownDevice), errors.Is(err, registry.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "printer not found", map[string]any{"id": id})
	case errors.Is(err, registry.ErrInvalidID):
		h.writeError(w, http.StatusBadRequest, "invalid_id", "printer id is not a valid uuid", map[string]any{"id": id})
	case errors.Is(err, registry.ErrInvalidAddress):
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
	case errors.Is(err, registry.ErrDuplicateAddress):
		h.writeError(w, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.As(err, &unknown):
		h.writeError(w, http.StatusBadRequest, "unknown_command", err.Error(), map[string]any{"verb": string(unknown.Verb)})
	case errors.Is(err, fleet.ErrInvalidCommand):
		h.writeError(w, http.StatusBadRequest, "invalid_command", err.Error(), nil)
	case moonraker.IsTransport(err), moonraker.IsMalformed(err):
		h.writeError(w, http.StatusBadGateway, "device_unreachable", "printer did not accept the request", map[string]any{"error": err.Error()})
	default:
		h.log.Error().Err(err).Str("printer_id", id).Msg("printer request failed")
		h.writeError(w, http.StatusInternalServerError, "internal", "request failed", nil)
	}
}

func (h *Handler) handleListPrinters(w http.ResponseWriter, r *http.Request) {
	if !h.ensureFleet(w) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.fleet.Devices())
}

func (h *Handler) handleCreatePrinter(w http.ResponseWriter, r *http.Request) {
	var req registry.DeviceCreate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if !h.ensureFleet(w) {
		return
	}

	st, err := h.fleet.RegisterDevice(r.Context(), req)
	if err != nil {
		h.writeFleetError(w, err, "")
		return
	}
	h.writeJSON(w, http.StatusCreated, st)
}

func (h *Handler) handleGetPrinter(w http.ResponseWriter, r *http.Request) {
	id, ok := h.printerID(w, r)
	if !ok {
		return
	}
	st, err := h.fleet.Device(id)
	if err != nil {
		h.writeFleetError(w, err, id)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleDeletePrinter(w http.ResponseWriter, r *http.Request) {
	id, ok := h.printerID(w, r)
	if !ok {
		return
	}
	if err := h.fleet.UnregisterDevice(r.Context(), id); err != nil {
		h.writeFleetError(w, err, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePollPrinter(w http.ResponseWriter, r *http.Request) {
	id, ok := h.printerID(w, r)
	if !ok {
		return
	}
	st, err := h.fleet.PollOne(r.Context(), id)
	if err != nil {
		h.writeFleetError(w, err, id)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := h.printerID(w, r)
	if !ok {
		return
	}
	var cmd fleet.Command
	if err := decodeJSONStrict(r, &cmd); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}

	st, err := h.fleet.SendCommand(r.Context(), id, cmd)
	if err != nil {
		h.writeFleetError(w, err, id)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleRefreshAFC(w http.ResponseWriter, r *http.Request) {
	id, ok := h.printerID(w, r)
	if !ok {
		return
	}
	st, err := h.fleet.RefreshAFC(r.Context(), id)
	if err != nil {
		h.writeFleetError(w, err, id)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handlePollAll(w http.ResponseWriter, r *http.Request) {
	if !h.ensureFleet(w) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.fleet.PollAll(r.Context()))
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !h.ensureFleet(w) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.fleet.Summary())
}

func (h *Handler) handleWidgets(w http.ResponseWriter, r *http.Request) {
	if !h.ensureFleet(w) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.fleet.Widgets())
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.writeError(w, http.StatusServiceUnavailable, "events_unavailable", "event stream not configured", nil)
		return
	}
	h.events.ServeHTTP(w, r)
}
