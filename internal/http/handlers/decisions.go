package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clinic_triage/backend/internal/db"
)

// @Summary List committed decisions
// @Tags decisions
// @Produce json
// @Param department query string false "Chosen department"
// @Param category query int false "Triage category"
// @Param degraded query bool false "Only degraded decisions"
// @Param since query string false "RFC3339 lower bound"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /api/decisions [get]
func (h *Handler) DecisionsList(c *gin.Context) {
	if h.Decisions == nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Decision history requires a database", nil)
		return
	}

	f := db.DecisionFilter{Department: c.Query("department")}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if raw := c.Query("category"); raw != "" {
		cat, err := strconv.Atoi(raw)
		if err != nil || cat < 1 || cat > 5 {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "category must be between 1 and 5", nil)
			return
		}
		f.Category = cat
	}
	f.Degraded, _ = strconv.ParseBool(c.DefaultQuery("degraded", "false"))
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "since must be RFC3339", err.Error())
			return
		}
		f.Since = since
	}

	items, err := h.Decisions.ListDecisions(c.Request.Context(), f)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list decisions", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": f.Limit, "offset": f.Offset})
}

// @Summary Decision details
// @Tags decisions
// @Produce json
// @Param id path string true "Decision ID"
// @Success 200 {object} models.AllocationDecision
// @Failure 404 {object} map[string]any
// @Router /api/decisions/{id} [get]
func (h *Handler) DecisionDetails(c *gin.Context) {
	if h.Decisions == nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Decision history requires a database", nil)
		return
	}
	d, err := h.Decisions.GetDecision(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Decision not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get decision", err.Error())
		return
	}
	c.JSON(http.StatusOK, d)
}
