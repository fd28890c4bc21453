package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/clinic_triage/backend/internal/config"
	"github.com/clinic_triage/backend/internal/http/handlers"
	"github.com/clinic_triage/backend/internal/http/middleware"

	_ "github.com/clinic_triage/backend/docs"
)

func Router(cfg config.Config, h *handlers.Handler, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.AdminKeyHeader, middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" || cfg.CORSAllowed == "" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.POST("/triage", h.Triage)
		api.POST("/triage/preview", h.TriagePreview)
		api.GET("/departments", h.Departments)
		api.GET("/occupancy/current", h.OccupancyCurrent)
		api.GET("/occupancy/history", h.OccupancyHistory)
		api.GET("/occupancy/forecast", h.OccupancyForecast)
		api.GET("/models", h.Models)
		api.GET("/decisions", h.DecisionsList)
		api.GET("/decisions/:id", h.DecisionDetails)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/occupancy", h.RecordOccupancy)
		admin.POST("/occupancy/seed", h.SeedOccupancy)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
