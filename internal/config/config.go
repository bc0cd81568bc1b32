package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hydronet/telemetry/internal/synth"
)

const (
	defaultSamplingInterval = 30 * time.Minute
	defaultHistoryWindow    = 30 * 24 * time.Hour
	defaultBackfillWindow   = 7 * 24 * time.Hour
	defaultPatternRefresh   = 24 * time.Hour
	defaultWeatherCacheTTL  = time.Hour
	defaultRunInterval      = time.Hour
	defaultWorkers          = 4
	defaultBatchSize        = 500
	defaultAPIPort          = 8080
	defaultAPIReadingsLimit = 200
)

// Generator holds runtime configuration for the synthetic-reading
// generator service.
type Generator struct {
	DatabaseURL string

	WeatherAPIKey   string
	WeatherLat      float64
	WeatherLon      float64
	WeatherCacheTTL time.Duration

	SamplingInterval  time.Duration
	HistoryWindow     time.Duration
	BackfillWindow    time.Duration
	PatternRefreshAge time.Duration

	Workers   int
	BatchSize int
	Seed      int64

	RunInterval time.Duration
	RunOnce     bool
	DryRun      bool

	Synth synth.Config
}

// LoadGenerator reads generator configuration from environment variables
// (optionally .env) and validates the synthesizer tuning block.
func LoadGenerator() (Generator, error) {
	_ = godotenv.Load(".env")

	cfg := Generator{
		WeatherCacheTTL:   defaultWeatherCacheTTL,
		SamplingInterval:  defaultSamplingInterval,
		HistoryWindow:     defaultHistoryWindow,
		BackfillWindow:    defaultBackfillWindow,
		PatternRefreshAge: defaultPatternRefresh,
		Workers:           defaultWorkers,
		BatchSize:         defaultBatchSize,
		RunInterval:       defaultRunInterval,
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	cfg.WeatherAPIKey = strings.TrimSpace(os.Getenv("OPENWEATHER_API_KEY"))

	var err error
	if cfg.WeatherLat, err = getenvFloat("WEATHER_LAT", 0); err != nil {
		return cfg, err
	}
	if cfg.WeatherLon, err = getenvFloat("WEATHER_LON", 0); err != nil {
		return cfg, err
	}

	if cfg.WeatherCacheTTL, err = getenvDuration("WEATHER_CACHE_TTL", cfg.WeatherCacheTTL); err != nil {
		return cfg, err
	}
	if cfg.SamplingInterval, err = getenvDuration("SAMPLING_INTERVAL", cfg.SamplingInterval); err != nil {
		return cfg, err
	}
	if cfg.HistoryWindow, err = getenvDuration("HISTORY_WINDOW", cfg.HistoryWindow); err != nil {
		return cfg, err
	}
	if cfg.BackfillWindow, err = getenvDuration("BACKFILL_WINDOW", cfg.BackfillWindow); err != nil {
		return cfg, err
	}
	if cfg.PatternRefreshAge, err = getenvDuration("PATTERN_REFRESH_AGE", cfg.PatternRefreshAge); err != nil {
		return cfg, err
	}
	if cfg.RunInterval, err = getenvDuration("RUN_INTERVAL", cfg.RunInterval); err != nil {
		return cfg, err
	}

	if cfg.Workers, err = getenvInt("GAPFILL_WORKERS", cfg.Workers); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = getenvInt("GAPFILL_BATCH_SIZE", cfg.BatchSize); err != nil {
		return cfg, err
	}

	if v := strings.TrimSpace(os.Getenv("GENERATOR_SEED")); v != "" {
		seed, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return cfg, fmt.Errorf("invalid GENERATOR_SEED: %w", perr)
		}
		cfg.Seed = seed
	} else {
		cfg.Seed = time.Now().UnixNano()
	}

	cfg.RunOnce = envBool("RUN_ONCE")
	cfg.DryRun = envBool("DRY_RUN")

	sc := synth.DefaultConfig(cfg.SamplingInterval)
	if sc.BlendFlow, err = getenvFloat("BLEND_FLOW", sc.BlendFlow); err != nil {
		return cfg, err
	}
	if sc.BlendPressure, err = getenvFloat("BLEND_PRESSURE", sc.BlendPressure); err != nil {
		return cfg, err
	}
	if sc.BlendTemperature, err = getenvFloat("BLEND_TEMPERATURE", sc.BlendTemperature); err != nil {
		return cfg, err
	}
	if sc.NoiseSigma, err = getenvFloat("NOISE_SIGMA", sc.NoiseSigma); err != nil {
		return cfg, err
	}
	if sc.CouplingFactor, err = getenvFloat("COUPLING_FACTOR", sc.CouplingFactor); err != nil {
		return cfg, err
	}
	if sc.ClampLow, err = getenvFloat("CLAMP_LOW", sc.ClampLow); err != nil {
		return cfg, err
	}
	if sc.ClampHigh, err = getenvFloat("CLAMP_HIGH", sc.ClampHigh); err != nil {
		return cfg, err
	}
	if verr := sc.Validate(); verr != nil {
		return cfg, fmt.Errorf("invalid synthesizer tuning: %w", verr)
	}
	cfg.Synth = sc

	return cfg, nil
}

// API holds environment-driven settings for the REST API.
type API struct {
	DatabaseURL  string
	Port         int
	BearerToken  string
	DefaultLimit int
}

// LoadAPI reads API configuration from environment variables (optionally .env).
func LoadAPI() (API, error) {
	_ = godotenv.Load(".env")

	cfg := API{
		Port:         defaultAPIPort,
		DefaultLimit: defaultAPIReadingsLimit,
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	var err error
	if cfg.Port, err = getenvInt("PORT", cfg.Port); err != nil {
		return cfg, err
	}
	if cfg.DefaultLimit, err = getenvInt("API_DEFAULT_LIMIT", cfg.DefaultLimit); err != nil {
		return cfg, err
	}
	cfg.BearerToken = os.Getenv("API_BEARER_TOKEN")

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c API) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def, fmt.Errorf("invalid %s: %s", key, v)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	return v == "1" || strings.EqualFold(v, "true")
}
