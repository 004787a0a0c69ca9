package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/UnknownOlympus/beacon/internal/location"
	"github.com/UnknownOlympus/beacon/internal/models"
	"github.com/UnknownOlympus/beacon/internal/pipeline"
)

const (
	maxBodyBytes    = 1 << 10
	defaultRunLimit = 20
	maxRunLimit     = 100
)

type locationRequest struct {
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lon"`
	Provider  string   `json:"provider"`
}

type permissionRequest struct {
	Granted *bool `json:"granted"`
}

type reportResponse struct {
	RunID       string             `json:"run_id"`
	Coordinates models.Coordinates `json:"coordinates"`
}

type stateResponse struct {
	State         pipeline.State           `json:"state"`
	Preconditions models.PreconditionState `json:"preconditions"`
	Location      *models.Coordinates      `json:"location"`
}

type errorResponse struct {
	Error  string           `json:"error"`
	Signal *pipeline.Signal `json:"signal,omitempty"`
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	status, body := http.StatusOK, "OK"
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.log.WarnContext(r.Context(), "Health check failed", "error", err)
			status, body = http.StatusServiceUnavailable, "DB ping failed"
		}
	}

	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		h.log.ErrorContext(r.Context(), "failed to write reply", "error", err)
	}
}

func (h *handler) updateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := h.decode(w, r, &req); err != nil {
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		h.writeError(w, r, http.StatusBadRequest, "lat and lon are required")
		return
	}

	provider := location.Provider(req.Provider)
	if provider == "" {
		provider = location.ProviderGPS
	}

	err := h.feed.Update(location.Sample{
		Coordinates: models.Coordinates{Latitude: *req.Latitude, Longitude: *req.Longitude},
		Provider:    provider,
	})
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, location.ErrPermissionDenied):
		h.writeError(w, r, http.StatusForbidden, err.Error())
	default:
		h.writeError(w, r, http.StatusBadRequest, err.Error())
	}
}

func (h *handler) setPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := h.decode(w, r, &req); err != nil {
		return
	}
	if req.Granted == nil {
		h.writeError(w, r, http.StatusBadRequest, "granted is required")
		return
	}

	h.feed.SetPermission(*req.Granted)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) startReport(w http.ResponseWriter, r *http.Request) {
	run, err := h.reporter.Start(h.runCtx)
	if err != nil {
		var precondErr *pipeline.PreconditionError
		switch {
		case errors.As(err, &precondErr):
			signal := precondErr.Signal
			h.writeJSON(w, r, http.StatusPreconditionFailed, errorResponse{Error: err.Error(), Signal: &signal})
		case errors.Is(err, pipeline.ErrRunInProgress):
			h.writeError(w, r, http.StatusConflict, err.Error())
		case errors.Is(err, pipeline.ErrClosed):
			h.writeError(w, r, http.StatusServiceUnavailable, err.Error())
		default:
			h.log.ErrorContext(r.Context(), "Failed to start report run", "error", err)
			h.writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	h.writeJSON(w, r, http.StatusAccepted, reportResponse{RunID: run.ID, Coordinates: run.Coordinates})
}

func (h *handler) state(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{
		State:         h.reporter.State(),
		Preconditions: h.preconditions.State(),
	}
	if coords, ok := h.feed.Latest(); ok {
		resp.Location = &coords
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}

func (h *handler) listSignals(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.signals.Recent())
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "run journal is disabled")
		return
	}

	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.runs.ListRecentRuns(r.Context(), limit)
	if err != nil {
		h.log.ErrorContext(r.Context(), "Failed to list report runs", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	h.writeJSON(w, r, http.StatusOK, runs)
}

// decode reads a JSON body into v and answers 400 on failure.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return err
	}

	return nil
}

func (h *handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.ErrorContext(r.Context(), "encode failed", "path", r.URL.Path, "error", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	h.writeJSON(w, r, status, errorResponse{Error: msg})
}
