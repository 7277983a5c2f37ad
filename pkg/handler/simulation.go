// Package handler provides the HTTP control surface of the simulation
// engine.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/strikenet/strikenet/pkg/geo"
	"github.com/strikenet/strikenet/pkg/postgres"
	"github.com/strikenet/strikenet/pkg/sim"
)

// SimulationHandler handles simulation lifecycle HTTP requests
type SimulationHandler struct {
	// runCtx bounds the lifetime of started runs, not of any request.
	runCtx  context.Context
	mgr     *sim.Manager
	archive *postgres.Pool
	logger  zerolog.Logger
}

// NewSimulationHandler creates a new SimulationHandler. archive may be nil.
func NewSimulationHandler(runCtx context.Context, mgr *sim.Manager, archive *postgres.Pool, logger zerolog.Logger) *SimulationHandler {
	return &SimulationHandler{
		runCtx:  runCtx,
		mgr:     mgr,
		archive: archive,
		logger:  logger.With().Str("handler", "simulations").Logger(),
	}
}

// Routes returns the simulation routes
func (h *SimulationHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.StartSimulation)
	r.Get("/", h.ListSimulations)
	r.Get("/{simulationId}", h.GetSimulation)
	r.Post("/{simulationId}/strike", h.LaunchStrike)
	r.Get("/{simulationId}/status", h.GetStatus)
	r.Post("/{simulationId}/cancel", h.CancelSimulation)

	return r
}

// StartRequest carries optional overrides for a new simulation
type StartRequest struct {
	Seed            *int64   `json:"seed,omitempty"`
	DropRate        *float64 `json:"drop_rate,omitempty"`
	DeadlineSeconds *float64 `json:"deadline_seconds,omitempty"`
}

// StartResponse describes a started simulation
type StartResponse struct {
	SimulationID  string             `json:"simulation_id"`
	BasePos       geo.Vec            `json:"base_pos"`
	SensorUnits   map[string]geo.Vec `json:"sensor_units"`
	Status        string             `json:"status"`
	CorrelationID string             `json:"correlation_id"`
}

// StartSimulation handles POST /api/v1/simulations
func (h *SimulationHandler) StartSimulation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	cfg := sim.DefaultConfig()
	if r.ContentLength != 0 {
		var req StartRequest
		if err := DecodeJSON(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid request body", correlationID)
			return
		}
		if req.Seed != nil {
			cfg.Seed = *req.Seed
		}
		if req.DropRate != nil {
			if *req.DropRate < 0 || *req.DropRate > 1 {
				WriteError(w, http.StatusUnprocessableEntity, "drop_rate must be within [0, 1]", correlationID)
				return
			}
			cfg.DropRate = *req.DropRate
		}
		if req.DeadlineSeconds != nil {
			if *req.DeadlineSeconds <= 0 {
				WriteError(w, http.StatusUnprocessableEntity, "deadline_seconds must be positive", correlationID)
				return
			}
			cfg.Deadline = *req.DeadlineSeconds
		}
	}

	run := h.mgr.Start(h.runCtx, cfg)
	info := run.Info()

	if h.archive != nil {
		if err := h.archive.InsertRun(ctx, run.ID, cfg.Seed, cfg.DropRate, len(cfg.SensorPositions)); err != nil {
			h.logger.Warn().Err(err).Str("simulation_id", run.ID).Msg("failed to archive run start")
		}
	}

	WriteJSON(w, http.StatusCreated, StartResponse{
		SimulationID:  info.ID,
		BasePos:       info.BasePos,
		SensorUnits:   info.Sensors,
		Status:        string(run.Status()),
		CorrelationID: correlationID,
	})
}

// RunListResponse represents archived runs
type RunListResponse struct {
	Runs          []postgres.RunRow `json:"runs"`
	Total         int               `json:"total"`
	StatusCounts  map[string]int64  `json:"status_counts,omitempty"`
	CorrelationID string            `json:"correlation_id"`
}

// ListSimulations handles GET /api/v1/simulations
func (h *SimulationHandler) ListSimulations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	if h.archive == nil {
		WriteError(w, http.StatusServiceUnavailable, "Run archive not configured", correlationID)
		return
	}

	filter := postgres.RunFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  100,
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if since, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			filter.Since = &since
		}
	}

	runs, err := h.archive.ListRuns(ctx, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("failed to list runs")
		WriteError(w, http.StatusInternalServerError, "Failed to list runs", correlationID)
		return
	}

	resp := RunListResponse{
		Runs:          runs,
		Total:         len(runs),
		CorrelationID: correlationID,
	}
	if counts, err := h.archive.CountRunsByStatus(ctx); err != nil {
		h.logger.Warn().Err(err).Str("correlation_id", correlationID).Msg("failed to count runs by status")
	} else {
		resp.StatusCounts = counts
	}

	WriteJSON(w, http.StatusOK, resp)
}

// RunDetailResponse describes one simulation, live or archived
type RunDetailResponse struct {
	SimulationID  string           `json:"simulation_id"`
	Status        string           `json:"status"`
	Tick          int64            `json:"tick"`
	Archive       *postgres.RunRow `json:"archive,omitempty"`
	CorrelationID string           `json:"correlation_id"`
}

// GetSimulation handles GET /api/v1/simulations/{simulationId}. Live runs
// answer from memory; finished runs survive in the archive across restarts.
func (h *SimulationHandler) GetSimulation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	simulationID := chi.URLParam(r, "simulationId")
	if simulationID == "" {
		WriteError(w, http.StatusBadRequest, "Simulation ID is required", correlationID)
		return
	}

	resp := RunDetailResponse{SimulationID: simulationID, CorrelationID: correlationID}

	live := false
	if run, err := h.mgr.Get(simulationID); err == nil {
		snap := run.Snapshot()
		resp.Status = snap.Status
		resp.Tick = snap.Tick
		live = true
	}

	if h.archive != nil {
		row, err := h.archive.GetRun(ctx, simulationID)
		if err != nil {
			h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("failed to load archived run")
			if !live {
				WriteError(w, http.StatusInternalServerError, "Failed to load run", correlationID)
				return
			}
		}
		resp.Archive = row
		if !live && row != nil {
			resp.Status = row.Status
			if row.FinalTick != nil {
				resp.Tick = *row.FinalTick
			}
		}
	}

	if !live && resp.Archive == nil {
		WriteError(w, http.StatusNotFound, "Simulation not found", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, resp)
}

// StrikeResponse describes a launched strike unit
type StrikeResponse struct {
	UnitID        string  `json:"unit_id"`
	Pos           geo.Vec `json:"pos"`
	CorrelationID string  `json:"correlation_id"`
}

// LaunchStrike handles POST /api/v1/simulations/{simulationId}/strike
func (h *SimulationHandler) LaunchStrike(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	run, ok := h.lookupRun(w, r, correlationID)
	if !ok {
		return
	}

	unitID, pos, err := run.Launch()
	switch {
	case errors.Is(err, sim.ErrAlreadyLaunched):
		WriteError(w, http.StatusConflict, "A strike unit is already active", correlationID)
		return
	case errors.Is(err, sim.ErrTerminal):
		WriteError(w, http.StatusConflict, "Simulation already finished", correlationID)
		return
	case err != nil:
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("failed to launch strike unit")
		WriteError(w, http.StatusInternalServerError, "Failed to launch strike unit", correlationID)
		return
	}

	WriteJSON(w, http.StatusCreated, StrikeResponse{
		UnitID:        unitID,
		Pos:           pos,
		CorrelationID: correlationID,
	})
}

// StatusResponse describes a simulation's lifecycle state
type StatusResponse struct {
	SimulationID  string `json:"simulation_id"`
	Status        string `json:"status"`
	Tick          int64  `json:"tick"`
	CorrelationID string `json:"correlation_id"`
}

// GetStatus handles GET /api/v1/simulations/{simulationId}/status
func (h *SimulationHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	run, ok := h.lookupRun(w, r, correlationID)
	if !ok {
		return
	}

	snap := run.Snapshot()
	WriteJSON(w, http.StatusOK, StatusResponse{
		SimulationID:  run.ID,
		Status:        snap.Status,
		Tick:          snap.Tick,
		CorrelationID: correlationID,
	})
}

// CancelSimulation handles POST /api/v1/simulations/{simulationId}/cancel
func (h *SimulationHandler) CancelSimulation(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	run, ok := h.lookupRun(w, r, correlationID)
	if !ok {
		return
	}

	run.Cancel()
	WriteJSON(w, http.StatusOK, StatusResponse{
		SimulationID:  run.ID,
		Status:        string(run.Status()),
		Tick:          run.Snapshot().Tick,
		CorrelationID: correlationID,
	})
}

func (h *SimulationHandler) lookupRun(w http.ResponseWriter, r *http.Request, correlationID string) (*sim.Run, bool) {
	simulationID := chi.URLParam(r, "simulationId")
	if simulationID == "" {
		WriteError(w, http.StatusBadRequest, "Simulation ID is required", correlationID)
		return nil, false
	}

	run, err := h.mgr.Get(simulationID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Simulation not found", correlationID)
		return nil, false
	}
	return run, true
}
