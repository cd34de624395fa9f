package main

import (
	"errors"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dzeleniak/tleme/internal/auth"
	"github.com/dzeleniak/tleme/internal/location"
	"github.com/dzeleniak/tleme/internal/observability"
	"github.com/dzeleniak/tleme/internal/propagation"
	"github.com/dzeleniak/tleme/internal/tle"
	"github.com/dzeleniak/tleme/internal/visibility"
)

// config is everything the commands need, read from TLEME_* variables.
type config struct {
	Store       tle.StoreConfig
	Threshold   float64
	Propagation propagation.Config
	Location    location.Config
}

// serveConfig holds the settings only `tleme serve` reads.
type serveConfig struct {
	Addr                string
	Auth                auth.Config
	TrustProxy          bool
	RateLimit           float64
	RateBurst           int
	StreamMaxConcurrent int
	StreamInterval      time.Duration
	RefreshInterval     time.Duration
	Tracing             observability.TracingConfig
}

// parseLogLevel maps TLEME_LOG_LEVEL to a slog level; unknown values are info.
func parseLogLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadConfig(logger *slog.Logger) config {
	cfg := config{
		Store:       loadStoreConfig(logger),
		Threshold:   visibility.DefaultThreshold,
		Propagation: loadPropConfig(logger),
		Location: location.Config{
			IPURL:        os.Getenv("TLEME_IP_URL"),
			GeoIPURL:     os.Getenv("TLEME_GEOIP_URL"),
			ElevationURL: os.Getenv("TLEME_ELEVATION_URL"),
		},
	}

	if v := os.Getenv("TLEME_VISIBILITY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < -90 || f > 90 {
			logger.Warn("invalid TLEME_VISIBILITY_THRESHOLD value, using default", "value", v, "default", visibility.DefaultThreshold)
		} else {
			cfg.Threshold = f
		}
	}

	return cfg
}

func loadStoreConfig(logger *slog.Logger) tle.StoreConfig {
	cfg := tle.StoreConfig{
		SourceURL:    tle.DefaultSourceURL,
		CacheDir:     tle.DefaultCacheDir,
		CacheFile:    tle.DefaultCacheFile,
		MaxAge:       tle.DefaultMaxAge,
		FetchTimeout: 30 * time.Second,
	}

	if v := os.Getenv("TLEME_SOURCE_URL"); v != "" {
		cfg.SourceURL = v
	}
	if v := os.Getenv("TLEME_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("TLEME_CACHE_FILE"); v != "" {
		cfg.CacheFile = v
	}

	if v := os.Getenv("TLEME_STALE_DAYS"); v != "" {
		days, err := strconv.ParseFloat(v, 64)
		if err != nil || days <= 0 {
			logger.Warn("invalid TLEME_STALE_DAYS value, using default", "value", v, "default", 3)
		} else {
			cfg.MaxAge = time.Duration(days * float64(24*time.Hour))
		}
	}

	if v := os.Getenv("TLEME_FETCH_TIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid TLEME_FETCH_TIMEOUT value, using default", "value", v, "default", 30)
		} else {
			cfg.FetchTimeout = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("TLEME_STALE_FALLBACK"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid TLEME_STALE_FALLBACK value, defaulting to false", "value", v)
		} else {
			cfg.StaleFallback = enabled
		}
	}

	return cfg
}

func loadPropConfig(logger *slog.Logger) propagation.Config {
	cfg := propagation.Config{
		Workers:     runtime.NumCPU(),
		MaxEpochAge: propagation.DefaultMaxEpochAge,
	}

	if v := os.Getenv("TLEME_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid TLEME_WORKERS value, using default", "value", v, "default", cfg.Workers)
		} else {
			cfg.Workers = n
		}
	}

	if v := os.Getenv("TLEME_MAX_EPOCH_AGE_DAYS"); v != "" {
		days, err := strconv.ParseFloat(v, 64)
		if err != nil || days < 0 {
			logger.Warn("invalid TLEME_MAX_EPOCH_AGE_DAYS value, using default", "value", v, "default", 365)
		} else {
			cfg.MaxEpochAge = time.Duration(days * float64(24*time.Hour))
		}
	}

	return cfg
}

func loadServeConfig(logger *slog.Logger) (serveConfig, error) {
	cfg := serveConfig{
		Addr:                ":8080",
		RateLimit:           5,
		RateBurst:           10,
		StreamMaxConcurrent: 4,
		StreamInterval:      5 * time.Second,
		RefreshInterval:     time.Hour,
		Tracing: observability.TracingConfig{
			ServiceName: "tleme",
			Exporter:    observability.ExporterStdout,
			Endpoint:    os.Getenv("TLEME_OTLP_ENDPOINT"),
			SampleRatio: 1,
		},
	}

	if v := os.Getenv("TLEME_HTTP_ADDR"); v != "" {
		cfg.Addr = v
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		return cfg, err
	}
	cfg.Auth = authCfg

	if v := os.Getenv("TLEME_TRUST_PROXY"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid TLEME_TRUST_PROXY value, defaulting to false", "value", v)
		} else {
			cfg.TrustProxy = enabled
		}
	}

	if v := os.Getenv("TLEME_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			logger.Warn("invalid TLEME_RATE_LIMIT value, using default", "value", v, "default", cfg.RateLimit)
		} else {
			cfg.RateLimit = f
		}
	}

	if v := os.Getenv("TLEME_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid TLEME_RATE_BURST value, using default", "value", v, "default", cfg.RateBurst)
		} else {
			cfg.RateBurst = n
		}
	}

	if v := os.Getenv("TLEME_STREAM_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid TLEME_STREAM_MAX_CONCURRENT value, using default", "value", v, "default", cfg.StreamMaxConcurrent)
		} else {
			cfg.StreamMaxConcurrent = n
		}
	}

	if v := os.Getenv("TLEME_STREAM_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid TLEME_STREAM_INTERVAL value, using default", "value", v, "default", 5)
		} else {
			cfg.StreamInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("TLEME_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Minute {
			logger.Warn("invalid TLEME_REFRESH_INTERVAL value, using default", "value", v, "default", "1h")
		} else {
			cfg.RefreshInterval = d
		}
	}

	cfg.Tracing.Enabled = strings.EqualFold(os.Getenv("TLEME_TRACING_ENABLED"), "true")
	if v := strings.ToLower(os.Getenv("TLEME_TRACING_EXPORTER")); v != "" {
		cfg.Tracing.Exporter = v
	}
	if v := os.Getenv("TLEME_TRACING_SERVICE_NAME"); v != "" {
		cfg.Tracing.ServiceName = v
	}
	if v := os.Getenv("TLEME_TRACING_SAMPLE_RATIO"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			logger.Warn("invalid TLEME_TRACING_SAMPLE_RATIO value, using default", "value", v, "default", cfg.Tracing.SampleRatio)
		} else {
			cfg.Tracing.SampleRatio = f
		}
	}
	if err := cfg.Tracing.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("TLEME_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("TLEME_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("TLEME_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("TLEME_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}
