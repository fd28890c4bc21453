package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinic_triage/backend/internal/features"
	"github.com/clinic_triage/backend/internal/models"
	"github.com/clinic_triage/backend/internal/service"
)

// @Summary Triage and admit a patient
// @Description Classifies the patient, scores departments and admits to the chosen one
// @Tags triage
// @Accept json
// @Produce json
// @Param request body models.PatientVitals true "Patient vitals"
// @Success 200 {object} models.AllocationDecision
// @Failure 400 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /api/triage [post]
func (h *Handler) Triage(c *gin.Context) {
	h.decide(c, true)
}

// @Summary Preview a triage decision
// @Description Same pipeline as /api/triage without admitting the patient
// @Tags triage
// @Accept json
// @Produce json
// @Param request body models.PatientVitals true "Patient vitals"
// @Success 200 {object} models.AllocationDecision
// @Failure 400 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /api/triage/preview [post]
func (h *Handler) TriagePreview(c *gin.Context) {
	h.decide(c, false)
}

func (h *Handler) decide(c *gin.Context, commit bool) {
	var req models.PatientVitals
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	var (
		decision models.AllocationDecision
		err      error
	)
	if commit {
		decision, err = h.Orchestrator.Orchestrate(ctx, req)
	} else {
		decision, err = h.Orchestrator.Preview(ctx, req)
	}
	if err != nil {
		var verr *features.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", verr.Fields)
		case errors.Is(err, service.ErrClassifierUnavailable):
			writeError(c, http.StatusServiceUnavailable, "CLASSIFIER_UNAVAILABLE", "Triage classifier unavailable", err.Error())
		default:
			h.Logger.Error().Err(err).Msg("triage failed")
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Triage failed", err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, decision)
}
