package main

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/clinic_triage/backend/internal/ai"
	"github.com/clinic_triage/backend/internal/cache"
	"github.com/clinic_triage/backend/internal/catalog"
	"github.com/clinic_triage/backend/internal/config"
	"github.com/clinic_triage/backend/internal/db"
	"github.com/clinic_triage/backend/internal/features"
	httpapi "github.com/clinic_triage/backend/internal/http"
	"github.com/clinic_triage/backend/internal/http/handlers"
	"github.com/clinic_triage/backend/internal/occupancy"
	"github.com/clinic_triage/backend/internal/service"
	"github.com/clinic_triage/backend/internal/simulation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "triage-backend").Logger()

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.CatalogFile).Msg("failed to load catalog")
	}

	ctx := context.Background()
	encoder := features.NewEncoder(cat, features.Options{SchemaVersion: cfg.SchemaVersion, IncludeTime: cfg.FeatureIncludeTime})

	var classifier ai.Classifier
	if cfg.ClassifierURL == "" {
		classifier = ai.MockClassifier{ModelVersion: "mock-v1", SchemaVersion: encoder.SchemaVersion(), Columns: encoder.Columns()}
		logger.Info().Msg("using mock classifier")
	} else {
		classifier = ai.HTTPClassifier{BaseURL: cfg.ClassifierURL, Client: &http.Client{Timeout: cfg.ClassifierTimeout}}
	}
	if sr, ok := classifier.(ai.SchemaReporter); ok {
		sctx, cancel := context.WithTimeout(ctx, cfg.ClassifierTimeout)
		info, err := sr.Schema(sctx)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("classifier schema unavailable, skipping layout check")
		} else if err := encoder.CheckSchema(info.Version, info.Width); err != nil {
			logger.Fatal().Err(err).Msg("classifier and encoder disagree on feature layout")
		}
	}

	evolution := simulation.NewModel(cat, cfg.OccupancyOverflow)
	var sequence ai.SequenceModel
	if cfg.SequenceURL == "" {
		sequence = ai.MockSequenceModel{ModelVersion: "mock-evolution-v1", Evolution: evolution}
		logger.Info().Msg("using mock sequence model")
	} else {
		sequence = ai.NewHTTPSequenceModel(cfg.SequenceURL, cfg.ForecastTimeout, cat.DepartmentNames())
	}

	storeOpts := occupancy.StoreOptions{
		Staleness: cfg.OccupancyStaleness,
		Overflow:  cfg.OccupancyOverflow,
		Logger:    logger,
	}
	var pg *db.Store
	if cfg.DatabaseURL != "" {
		pg, err = db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare schema")
		}
		storeOpts.Persistence = pg
	} else {
		logger.Warn().Msg("DATABASE_URL not set, occupancy and decisions are kept in memory")
	}
	occStore := occupancy.NewStore(cat, storeOpts)
	if err := occStore.Hydrate(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to load occupancy history")
	}

	var forecaster service.Forecaster = &occupancy.Forecaster{
		Model:    sequence,
		Catalog:  cat,
		Lookback: cfg.ForecastLookback,
		Overflow: occStore.Overflow(),
		Envelope: &evolution,
		Logger:   logger,
	}
	var kv *cache.RedisKVStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer client.Close()
		kv = cache.NewRedisKVStore(client)
		if err := kv.Ping(ctx); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, forecasts will bypass the cache")
		}
		forecaster = &cache.CachedForecaster{Next: forecaster, KV: kv, TTL: cfg.ForecastCacheTTL, Logger: logger}
	}

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	orch := &service.Orchestrator{
		Encoder:           encoder,
		Classifier:        classifier,
		Store:             occStore,
		Forecaster:        forecaster,
		Allocator:         service.NewScorer(cat, cfg.Allocation, rand.New(rand.NewSource(seed))),
		Catalog:           cat,
		Logger:            logger,
		ClassifierTimeout: cfg.ClassifierTimeout,
		ForecastTimeout:   cfg.ForecastTimeout,
		Horizon:           cfg.ForecastHorizon,
		Lookback:          cfg.ForecastLookback,
	}

	h := &handlers.Handler{
		Orchestrator:   orch,
		Occupancy:      occStore,
		Forecaster:     forecaster,
		Catalog:        cat,
		Evolution:      evolution,
		Validator:      validator.New(),
		Logger:         logger,
		Lookback:       cfg.ForecastLookback,
		Horizon:        cfg.ForecastHorizon,
		RequestTimeout: cfg.RequestTimeout,
	}
	if pg != nil {
		orch.Recorder = pg
		h.Decisions = pg
		h.DB = pg
	}
	if kv != nil {
		h.Cache = kv
	}

	router := httpapi.Router(cfg, h, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Int64("seed", seed).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
