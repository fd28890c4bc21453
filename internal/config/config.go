package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/clinic_triage/backend/internal/service"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	RedisAddr      string        `mapstructure:"REDIS_ADDR"`
	RedisPassword  string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int           `mapstructure:"REDIS_DB"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	ClassifierURL  string        `mapstructure:"CLASSIFIER_URL"`
	SequenceURL    string        `mapstructure:"SEQUENCE_MODEL_URL"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	CatalogFile    string        `mapstructure:"CATALOG_FILE"`

	ClassifierTimeout time.Duration `mapstructure:"CLASSIFIER_TIMEOUT"`
	ForecastTimeout   time.Duration `mapstructure:"FORECAST_TIMEOUT"`
	ForecastHorizon   int           `mapstructure:"FORECAST_HORIZON_HOURS"`
	ForecastLookback  int           `mapstructure:"FORECAST_LOOKBACK_HOURS"`
	ForecastCacheTTL  time.Duration `mapstructure:"FORECAST_CACHE_TTL"`

	OccupancyStaleness time.Duration `mapstructure:"OCCUPANCY_STALENESS"`
	OccupancyOverflow  float64       `mapstructure:"OCCUPANCY_OVERFLOW"`

	SchemaVersion      string `mapstructure:"FEATURE_SCHEMA_VERSION"`
	FeatureIncludeTime bool   `mapstructure:"FEATURE_INCLUDE_TIME"`

	// 0 seeds the stability draw from the clock.
	RandomSeed int64 `mapstructure:"RANDOM_SEED"`

	Allocation service.AllocationConfig `mapstructure:",squash"`
}

func Load() (Config, error) {
	return load(".env")
}

func load(envFile string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ADMIN_KEY", "")
	v.SetDefault("CLASSIFIER_URL", "")
	v.SetDefault("SEQUENCE_MODEL_URL", "")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("CATALOG_FILE", "")
	v.SetDefault("CLASSIFIER_TIMEOUT", "2s")
	v.SetDefault("FORECAST_TIMEOUT", "3s")
	v.SetDefault("FORECAST_HORIZON_HOURS", 3)
	v.SetDefault("FORECAST_LOOKBACK_HOURS", 24)
	v.SetDefault("FORECAST_CACHE_TTL", "60s")
	v.SetDefault("OCCUPANCY_STALENESS", "5m")
	v.SetDefault("OCCUPANCY_OVERFLOW", 1.1)
	v.SetDefault("FEATURE_SCHEMA_VERSION", "triage-v2")
	v.SetDefault("FEATURE_INCLUDE_TIME", false)
	v.SetDefault("RANDOM_SEED", 0)

	alloc := service.DefaultAllocationConfig()
	v.SetDefault("ALLOC_STABILITY_PROB", alloc.StabilityProb)
	v.SetDefault("ALLOC_HYSTERESIS", alloc.Hysteresis)
	v.SetDefault("ALLOC_TARGET_FLOOR", alloc.TargetFloor)
	v.SetDefault("ALLOC_BASE_SCORE", alloc.BaseScore)
	v.SetDefault("ALLOC_COMPAT_PENALTY", alloc.CompatPenalty)
	v.SetDefault("ALLOC_OCCUPANCY_WEIGHT", alloc.OccupancyWeight)
	v.SetDefault("ALLOC_OVERCROWD_THRESHOLD", alloc.OvercrowdThreshold)
	v.SetDefault("ALLOC_OVERCROWD_WEIGHT", alloc.OvercrowdWeight)
	v.SetDefault("ALLOC_CRITICAL_THRESHOLD", alloc.CriticalThreshold)
	v.SetDefault("ALLOC_CRITICAL_PENALTY", alloc.CriticalPenalty)
	v.SetDefault("ALLOC_TARGET_BONUS", alloc.TargetBonus)
	v.SetDefault("ALLOC_ALTERNATIVES", alloc.Alternatives)
	v.SetDefault("ALLOC_FORECAST_BLEND", alloc.ForecastBlend)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
