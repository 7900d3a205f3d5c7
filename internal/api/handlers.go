package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/indi-watchdog/internal/device"
	"github.com/nerrad567/indi-watchdog/internal/restart"
	"github.com/nerrad567/indi-watchdog/internal/watchdog"
)

const maxRestartLimit = 500

// restartResponse is the body of a successful forced restart.
type restartResponse struct {
	Driver    string    `json:"driver"`
	Fired     bool      `json:"fired"`
	Immediate bool      `json:"immediate"`
	Strikes   int       `json:"strikes"`
	At        time.Time `json:"at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.watchdog.Status())
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	status, err := s.registry.Get(name)
	if errors.Is(err, device.ErrUnknownDevice) {
		writeNotFound(w, "device not found")
		return
	}
	if err != nil {
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListRestarts(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "restart history is not enabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRestartLimit {
			writeBadRequest(w, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	events, err := s.history.List(r.Context(), r.URL.Query().Get("driver"), limit)
	if err != nil {
		s.logger.Error("listing restart history", "error", err)
		writeInternalError(w, "failed to list restart history")
		return
	}
	if events == nil {
		events = []restart.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"restarts": events,
		"count":    len(events),
	})
}

// handleForceRestart restarts the named driver (or the driver of the named
// device) immediately, bypassing its strike counter.
func (s *Server) handleForceRestart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	res, err := s.watchdog.ForceRestart(name)
	switch {
	case errors.Is(err, watchdog.ErrUnknownDriver):
		writeNotFound(w, "no monitored device uses this driver")
		return
	case errors.Is(err, restart.ErrChannelUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "indiserver control channel unavailable")
		return
	case err != nil:
		s.logger.Error("forced restart failed", "name", name, "error", err)
		writeInternalError(w, "restart failed")
		return
	}

	s.logger.Info("driver restart forced via API",
		"driver", res.Driver,
		"request_id", r.Context().Value(ctxKeyRequestID),
		"subject", r.Context().Value(ctxKeySubject),
	)
	writeJSON(w, http.StatusAccepted, restartResponse{
		Driver:    res.Driver,
		Fired:     res.Fired,
		Immediate: res.Immediate,
		Strikes:   res.Strikes,
		At:        res.At,
	})
}
