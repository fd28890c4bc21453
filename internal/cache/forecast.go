package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic_triage/backend/internal/ai"
	"github.com/clinic_triage/backend/internal/models"
	"github.com/clinic_triage/backend/internal/occupancy"
	"github.com/clinic_triage/backend/internal/utils"
)

const forecastKeyPrefix = "triage:forecast:"

// Forecaster matches occupancy.Forecaster.
type Forecaster interface {
	Forecast(ctx context.Context, window []models.OccupancySnapshot, horizon int) (models.ForecastResult, error)
}

// CachedForecaster memoizes forecasts per hourly window. Cache failures are
// logged and fall through to the wrapped forecaster.
type CachedForecaster struct {
	Next   Forecaster
	KV     KVStore
	TTL    time.Duration
	Logger zerolog.Logger
}

func (c *CachedForecaster) Version() string { return ai.VersionOf(c.Next) }

func (c *CachedForecaster) Forecast(ctx context.Context, window []models.OccupancySnapshot, horizon int) (models.ForecastResult, error) {
	key := ForecastKey(window, horizon)

	if raw, err := c.KV.Get(ctx, key); err == nil {
		var res models.ForecastResult
		if err := json.Unmarshal([]byte(raw), &res); err == nil {
			return res, nil
		}
		c.Logger.Warn().Str("key", key).Msg("discarding undecodable cached forecast")
	} else if !errors.Is(err, ErrCacheMiss) {
		c.Logger.Warn().Err(err).Msg("forecast cache read failed")
	}

	res, err := c.Next.Forecast(ctx, window, horizon)
	if err != nil {
		return res, err
	}

	if b, err := json.Marshal(res); err == nil {
		if err := c.KV.Set(ctx, key, string(b), c.TTL); err != nil {
			c.Logger.Warn().Err(err).Msg("forecast cache write failed")
		}
	}
	return res, nil
}

// ForecastKey fingerprints the hourly view of window together with horizon.
// Revisions are part of the key so an admit invalidates the cached entry.
func ForecastKey(window []models.OccupancySnapshot, horizon int) string {
	hourly := occupancy.HourlyBuckets(window)
	parts := make([]string, 0, len(hourly)+1)
	parts = append(parts, fmt.Sprintf("h=%d", horizon))
	for _, snap := range hourly {
		occ, _ := json.Marshal(snap.Occupancy)
		parts = append(parts, fmt.Sprintf("%d:%d:%s", snap.Timestamp.Unix(), snap.Revision, occ))
	}
	return forecastKeyPrefix + utils.Fingerprint(parts...)
}
