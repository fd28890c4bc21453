package handlers

import (
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clinic_triage/backend/internal/catalog"
	"github.com/clinic_triage/backend/internal/models"
	"github.com/clinic_triage/backend/internal/occupancy"
)

const (
	maxHistoryHours = 7 * 24
	maxSeedHours    = 30 * 24
	maxHorizonHours = 24
)

// @Summary List departments
// @Tags departments
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/departments [get]
func (h *Handler) Departments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"items":               h.Catalog.Departments,
		"critical_department": h.Catalog.CriticalDepartment,
		"overflow":            h.Occupancy.Overflow(),
	})
}

// @Summary Current occupancy
// @Tags occupancy
// @Produce json
// @Success 200 {object} occupancy.Summary
// @Router /api/occupancy/current [get]
func (h *Handler) OccupancyCurrent(c *gin.Context) {
	c.JSON(http.StatusOK, h.Occupancy.Summary())
}

// @Summary Occupancy history for one department
// @Tags occupancy
// @Produce json
// @Param department query string true "Department name"
// @Param hours query int false "Hours back (default 24)"
// @Success 200 {object} occupancy.History
// @Failure 400 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/occupancy/history [get]
func (h *Handler) OccupancyHistory(c *gin.Context) {
	dept := strings.TrimSpace(c.Query("department"))
	if dept == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "department is required", nil)
		return
	}
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if err != nil || hours < 1 || hours > maxHistoryHours {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "hours must be between 1 and 168", nil)
		return
	}

	hist, err := h.Occupancy.History(dept, hours)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownDepartment) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Department not found", dept)
			return
		}
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to build history", err.Error())
		return
	}
	c.JSON(http.StatusOK, hist)
}

// @Summary Occupancy forecast
// @Description Falls back to a flat forecast of the current occupancy when the model cannot run
// @Tags occupancy
// @Produce json
// @Param horizon query int false "Hours ahead"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/occupancy/forecast [get]
func (h *Handler) OccupancyForecast(c *gin.Context) {
	horizon := h.Horizon
	if raw := c.Query("horizon"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHorizonHours {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "horizon must be between 1 and 24", nil)
			return
		}
		horizon = n
	}
	if horizon <= 0 {
		horizon = occupancy.DefaultHorizon
	}
	lookback := h.Lookback
	if lookback <= 0 {
		lookback = occupancy.DefaultLookback
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	current := h.Occupancy.Current()
	resp := gin.H{"current": current, "degraded": false}
	var (
		forecast models.ForecastResult
		err      = occupancy.ErrForecasterUnavailable
	)
	if h.Forecaster != nil {
		forecast, err = h.Forecaster.Forecast(ctx, h.Occupancy.Window(lookback+1), horizon)
	}
	if err != nil {
		h.Logger.Warn().Err(err).Msg("forecast endpoint degraded to current occupancy")
		forecast = occupancy.FlatForecast(h.Catalog, current, horizon)
		resp["degraded"] = true
		resp["reason"] = err.Error()
	}
	resp["forecast"] = forecast
	c.JSON(http.StatusOK, resp)
}

type SnapshotRequest struct {
	Timestamp *time.Time     `json:"timestamp"`
	Occupancy map[string]int `json:"occupancy" validate:"required,min=1,dive,gte=0"`
}

// @Summary Record an observed census
// @Tags occupancy
// @Accept json
// @Produce json
// @Param request body SnapshotRequest true "Census"
// @Success 200 {object} models.OccupancySnapshot
// @Failure 400 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/occupancy [post]
func (h *Handler) RecordOccupancy(c *gin.Context) {
	var req SnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	snap := models.OccupancySnapshot{Occupancy: req.Occupancy}
	if req.Timestamp != nil {
		snap.Timestamp = *req.Timestamp
	}
	out, err := h.Occupancy.Record(c.Request.Context(), snap)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrUnknownDepartment):
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown department", err.Error())
		case errors.Is(err, occupancy.ErrFutureSnapshot):
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Timestamp is in the future", err.Error())
		case errors.Is(err, occupancy.ErrStaleSnapshot):
			writeError(c, http.StatusConflict, "CONFLICT", "Snapshot is older than the latest one", nil)
		default:
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to record snapshot", err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, out)
}

type SeedRequest struct {
	Hours int   `json:"hours" validate:"required,gte=1,lte=720"`
	Seed  int64 `json:"seed"`
}

// @Summary Seed occupancy history
// @Description Simulates hourly history with the occupancy evolution model; only allowed on an empty store
// @Tags occupancy
// @Accept json
// @Produce json
// @Param request body SeedRequest true "Seed options"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/occupancy/seed [post]
func (h *Handler) SeedOccupancy(c *gin.Context) {
	var req SeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	snaps := h.Evolution.Simulate(time.Now(), req.Hours, rand.New(rand.NewSource(seed)))
	n, err := h.Occupancy.Seed(c.Request.Context(), snaps)
	if err != nil {
		if errors.Is(err, occupancy.ErrStoreNotEmpty) {
			writeError(c, http.StatusConflict, "CONFLICT", "Occupancy history already exists", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to seed history", err.Error())
		return
	}
	h.Logger.Info().Int("snapshots", n).Int64("seed", seed).Msg("occupancy history seeded")
	c.JSON(http.StatusOK, gin.H{
		"inserted": n,
		"seed":     seed,
		"from":     snaps[0].Timestamp,
		"to":       snaps[len(snaps)-1].Timestamp,
	})
}
