package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/radar-cache/internal/radar"
)

type AppConfig struct {
	Port string `validate:"required,numeric"`

	// CacheDirectory holds one sub-directory per capture session.
	CacheDirectory string `validate:"required"`

	// CheckInterval controls how often stale locations are refreshed. It must
	// divide an hour so checks line up with the wall clock.
	CheckInterval time.Duration `validate:"divides_hour"`
	// CacheExpiration is how long a capture stays valid.
	CacheExpiration time.Duration `validate:"gt=0"`

	// Cache retention.
	CacheRetention  time.Duration `validate:"gte=0"` // max age of cache folders (0 = unlimited)
	CacheMaxFolders int           `validate:"gte=0"` // max number of folders per location (0 = unlimited)

	RadarFrameCount    int           `validate:"min=1"`
	RefreshTimeout     time.Duration `validate:"gt=0"`
	RefreshConcurrency int           `validate:"min=1"`

	RadarSourceURL string        `validate:"required,url"`
	HTTPTimeout    time.Duration `validate:"gt=0"`

	// Locations are refreshed from startup, before any request mentions them.
	Locations []radar.Location `validate:"dive"`

	CORSAllowedOrigins string
	LogLevel           string `validate:"oneof=trace debug info warn error"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("divides_hour", func(fl validator.FieldLevel) bool {
		d := time.Duration(fl.Field().Int())
		if d < time.Minute || d%time.Minute != 0 {
			return false
		}
		return 60%int(d/time.Minute) == 0
	})
	return v
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Err(err).Msg("no .env file loaded")
	}

	cfg := &AppConfig{
		Port:               getenvDefault("PORT", "8080"),
		CacheDirectory:     getenvDefault("CACHE_DIRECTORY", "./cache"),
		RadarSourceURL:     getenvDefault("RADAR_SOURCE_URL", "https://www.bom.gov.au"),
		CORSAllowedOrigins: getenvDefault("CORS_ALLOWED_ORIGINS", "*"),
		LogLevel:           strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"CACHE_CHECK_INTERVAL", "5m", &cfg.CheckInterval},
		{"CACHE_EXPIRATION", "15m", &cfg.CacheExpiration},
		{"CACHE_RETENTION", "24h", &cfg.CacheRetention},
		{"REFRESH_TIMEOUT", "3m", &cfg.RefreshTimeout},
		{"HTTP_TIMEOUT", "30s", &cfg.HTTPTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getenvDefault(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"CACHE_MAX_FOLDERS", 288, &cfg.CacheMaxFolders}, // 24h of 5-minute captures
		{"RADAR_FRAME_COUNT", 7, &cfg.RadarFrameCount},
		{"REFRESH_CONCURRENCY", 2, &cfg.RefreshConcurrency},
	}
	for _, i := range ints {
		v, err := getenvInt(i.key, i.def)
		if err != nil {
			return nil, err
		}
		*i.dst = v
	}

	locs, err := ParseLocations(os.Getenv("LOCATIONS"))
	if err != nil {
		return nil, err
	}
	cfg.Locations = locs

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ParseLocations parses a comma separated list of "Suburb:STATE" pairs.
func ParseLocations(s string) ([]radar.Location, error) {
	var locs []radar.Location
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		suburb, state, ok := strings.Cut(part, ":")
		suburb, state = strings.TrimSpace(suburb), strings.TrimSpace(state)
		if !ok || suburb == "" || state == "" {
			return nil, fmt.Errorf("invalid location %q, expected Suburb:STATE", part)
		}
		locs = append(locs, radar.Location{Suburb: suburb, State: strings.ToUpper(state)})
	}
	return locs, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
