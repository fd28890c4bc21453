package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic_triage/backend/internal/models"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisKVStore) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisKVStore(client)
}

type countingForecaster struct {
	calls int
	err   error
}

func (c *countingForecaster) Forecast(ctx context.Context, window []models.OccupancySnapshot, horizon int) (models.ForecastResult, error) {
	c.calls++
	if c.err != nil {
		return models.ForecastResult{}, c.err
	}
	return models.ForecastResult{
		Horizon:      horizon,
		ModelVersion: "m1",
		Departments:  map[string]map[int]int{"SOR": {1: 10, 2: 11}},
	}, nil
}

var ts = time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

func window(sor int, rev int) []models.OccupancySnapshot {
	return []models.OccupancySnapshot{
		{Timestamp: ts.Add(-time.Hour), Occupancy: map[string]int{"SOR": 8}},
		{Timestamp: ts, Revision: rev, Occupancy: map[string]int{"SOR": sor}},
	}
}

func TestRedisKVStoreMiss(t *testing.T) {
	_, kv := setupTestRedis(t)
	_, err := kv.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisKVStoreTTL(t *testing.T) {
	mr, kv := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))

	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	mr.FastForward(2 * time.Minute)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCachedForecasterHitsCache(t *testing.T) {
	_, kv := setupTestRedis(t)
	next := &countingForecaster{}
	cf := &CachedForecaster{Next: next, KV: kv, TTL: time.Minute, Logger: zerolog.Nop()}
	ctx := context.Background()

	a, err := cf.Forecast(ctx, window(9, 0), 2)
	require.NoError(t, err)
	b, err := cf.Forecast(ctx, window(9, 0), 2)
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, a.Departments, b.Departments)
	assert.Equal(t, 11, b.Departments["SOR"][2])
}

func TestCachedForecasterKeyTracksWindow(t *testing.T) {
	_, kv := setupTestRedis(t)
	next := &countingForecaster{}
	cf := &CachedForecaster{Next: next, KV: kv, TTL: time.Minute, Logger: zerolog.Nop()}
	ctx := context.Background()

	_, _ = cf.Forecast(ctx, window(9, 0), 2)
	_, _ = cf.Forecast(ctx, window(9, 1), 2)
	_, _ = cf.Forecast(ctx, window(9, 1), 3)
	assert.Equal(t, 3, next.calls)
}

func TestCachedForecasterDoesNotCacheErrors(t *testing.T) {
	_, kv := setupTestRedis(t)
	next := &countingForecaster{err: errors.New("model down")}
	cf := &CachedForecaster{Next: next, KV: kv, TTL: time.Minute, Logger: zerolog.Nop()}

	_, err := cf.Forecast(context.Background(), window(9, 0), 2)
	assert.Error(t, err)
	_, err = cf.Forecast(context.Background(), window(9, 0), 2)
	assert.Error(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCachedForecasterSurvivesRedisOutage(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	kv := NewRedisKVStore(client)
	mr.Close()

	next := &countingForecaster{}
	cf := &CachedForecaster{Next: next, KV: kv, TTL: time.Minute, Logger: zerolog.Nop()}
	res, err := cf.Forecast(context.Background(), window(9, 0), 2)
	require.NoError(t, err)
	assert.Equal(t, "m1", res.ModelVersion)
}

func TestForecastKeyIsStable(t *testing.T) {
	assert.Equal(t, ForecastKey(window(9, 0), 3), ForecastKey(window(9, 0), 3))
	assert.NotEqual(t, ForecastKey(window(9, 0), 3), ForecastKey(window(10, 0), 3))
}
