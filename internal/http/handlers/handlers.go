package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/clinic_triage/backend/internal/catalog"
	"github.com/clinic_triage/backend/internal/db"
	"github.com/clinic_triage/backend/internal/models"
	"github.com/clinic_triage/backend/internal/occupancy"
	"github.com/clinic_triage/backend/internal/service"
	"github.com/clinic_triage/backend/internal/simulation"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// DecisionStore is the read side of the decision audit trail.
type DecisionStore interface {
	ListDecisions(ctx context.Context, f db.DecisionFilter) ([]models.AllocationDecision, error)
	GetDecision(ctx context.Context, id string) (models.AllocationDecision, error)
}

type Handler struct {
	Orchestrator *service.Orchestrator
	Occupancy    *occupancy.Store
	Forecaster   service.Forecaster
	Catalog      *catalog.Catalog
	Evolution    simulation.Model
	// Decisions, DB and Cache are nil when the backing service is not configured.
	Decisions DecisionStore
	DB        Pinger
	Cache     Pinger
	Validator *validator.Validate
	Logger    zerolog.Logger

	Lookback       int
	Horizon        int
	RequestTimeout time.Duration
}

// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /healthz [get]
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	resp := gin.H{"status": "ok", "database": "disabled", "cache": "disabled"}
	if h.DB != nil {
		if err := h.DB.Ping(ctx); err != nil {
			writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
			return
		}
		resp["database"] = "ok"
	}
	if h.Cache != nil {
		resp["cache"] = "ok"
		if err := h.Cache.Ping(ctx); err != nil {
			h.Logger.Warn().Err(err).Msg("forecast cache unreachable")
			resp["cache"] = "unavailable"
		}
	}
	if h.Occupancy != nil {
		resp["occupancy_snapshots"] = h.Occupancy.Len()
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary Model and schema versions
// @Tags models
// @Produce json
// @Success 200 {object} service.Info
// @Router /api/models [get]
func (h *Handler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, h.Orchestrator.Info())
}

func (h *Handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.RequestTimeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.RequestTimeout)
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
