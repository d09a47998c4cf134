package infra

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string
	Port          string
	DefaultLocale string
	GeoIPDBPath   string

	TinifyAPIKey  string
	TinifyBaseURL string

	PipelineTimeout   time.Duration
	SanityThreshold   float64
	LosslessFormats   []string
	PreprocessMaxSize int64
	PreprocessMaxDim  int
	PreprocessQuality int
	ProgressCap       float64
	ProgressInterval  time.Duration

	MaxUploadBytes       int64
	ImageSourceAllowlist []string
	CORSAllowedOrigins   []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DefaultLocale:      getEnv("DEFAULT_LOCALE", "en"),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		TinifyAPIKey:       strings.TrimSpace(os.Getenv("TINIFY_API_KEY")),
		TinifyBaseURL:      getEnv("TINIFY_BASE_URL", "https://api.tinify.com"),
		PipelineTimeout:    time.Second * time.Duration(getEnvInt("PIPELINE_TIMEOUT_SECONDS", 60)),
		SanityThreshold:    getEnvFloat("LOSSLESS_SANITY_THRESHOLD", 0.8),
		LosslessFormats:    getEnvList("LOSSLESS_FORMATS", []string{"image/png"}),
		PreprocessMaxSize:  int64(getEnvInt("PREPROCESS_MAX_BYTES", 5*1024*1024)),
		PreprocessMaxDim:   getEnvInt("PREPROCESS_MAX_DIMENSION", 2048),
		PreprocessQuality:  getEnvInt("PREPROCESS_QUALITY", 80),
		ProgressCap:        getEnvFloat("PROGRESS_CAP", 95),
		ProgressInterval:   time.Millisecond * time.Duration(getEnvInt("PROGRESS_INTERVAL_MS", 250)),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", 25*1024*1024)),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 90)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}
	cfg.ImageSourceAllowlist = sourceAllowlist(cfg.TinifyBaseURL, os.Getenv("IMAGE_SOURCE_HOST_ALLOWLIST"))

	if cfg.SanityThreshold <= 0 || cfg.SanityThreshold > 1 {
		return nil, fmt.Errorf("LOSSLESS_SANITY_THRESHOLD must be within (0, 1], got %v", cfg.SanityThreshold)
	}
	if cfg.ProgressCap <= 0 || cfg.ProgressCap >= 100 {
		return nil, fmt.Errorf("PROGRESS_CAP must be within (0, 100), got %v", cfg.ProgressCap)
	}
	if cfg.PipelineTimeout <= 0 {
		return nil, fmt.Errorf("PIPELINE_TIMEOUT_SECONDS must be positive")
	}

	return cfg, nil
}

// RequireTinifyKey reports a configuration error when no API credential is set.
func (c *Config) RequireTinifyKey() error {
	if c == nil || c.TinifyAPIKey == "" {
		return fmt.Errorf("TINIFY_API_KEY is required")
	}
	return nil
}

// sourceAllowlist merges the hosts from IMAGE_SOURCE_HOST_ALLOWLIST with the
// service host so location references can always be fetched.
func sourceAllowlist(baseURL, raw string) []string {
	seen := map[string]struct{}{}
	if parsed, err := url.Parse(baseURL); err == nil && parsed.Hostname() != "" {
		seen[strings.ToLower(parsed.Hostname())] = struct{}{}
	}
	for _, host := range strings.Split(raw, ",") {
		host = strings.ToLower(strings.TrimSpace(host))
		if host != "" {
			seen[host] = struct{}{}
		}
	}
	hosts := make([]string, 0, len(seen))
	for host := range seen {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
