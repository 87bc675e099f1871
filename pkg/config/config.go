package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Scraper   ScraperConfig
	Proxy     ProxyConfig
	RenderAPI RenderAPIConfig
	Pipeline  PipelineConfig
	Snapshot  SnapshotConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	URL string
}

type ScraperConfig struct {
	Backends         []string // attempted in order; first is primary
	SearchURLBase    string
	RequestTimeout   time.Duration
	RetrySameBackend int // extra attempts after the first, per backend
	RetryDelay       time.Duration
	MaxAttempts      int // across all backends, per query key
	CountryCode      string
}

type ProxyConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Sessions []string // named sticky sessions, rotated per attempt
	SkipTest bool
}

type RenderAPIConfig struct {
	APIKey   string
	Endpoint string
	Premium  bool
}

type PipelineConfig struct {
	Workers             int
	BatchSize           int
	BatchDelay          time.Duration
	RequestsPerSecond   float64
	MaxRuntime          time.Duration
	ContactAttemptLimit int
	CronSpec            string
}

type SnapshotConfig struct {
	Enabled bool
	Dir     string
	R2      bool // also archive to R2 when credentials are present
}

func Load() *Config {
	godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "3000"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Scraper: ScraperConfig{
			Backends:         splitEnv("SCRAPER_BACKENDS", "stealth,renderapi"),
			SearchURLBase:    getEnv("SEARCH_URL_BASE", "https://www.zillow.com/homes/for_sale/"),
			RequestTimeout:   getDurationEnv("REQUEST_TIMEOUT", 60*time.Second),
			RetrySameBackend: getIntEnv("RETRY_SAME_BACKEND", 2),
			RetryDelay:       getDurationEnv("RETRY_DELAY", 2*time.Second),
			MaxAttempts:      getIntEnv("MAX_ATTEMPTS", 3),
			CountryCode:      getEnv("COUNTRY_CODE", "1"),
		},
		Proxy: ProxyConfig{
			Host:     getEnv("PROXY_HOST", ""),
			Port:     getEnv("PROXY_PORT", "7000"),
			User:     getEnv("PROXY_USER", ""),
			Password: getEnv("PROXY_PASSWORD", ""),
			Sessions: splitEnv("PROXY_SESSIONS", ""),
			SkipTest: getBoolEnv("PROXY_SKIP_TEST", false),
		},
		RenderAPI: RenderAPIConfig{
			APIKey:   getEnv("RENDER_API_KEY", ""),
			Endpoint: getEnv("RENDER_API_ENDPOINT", "https://api.scraperapi.com/"),
			Premium:  getBoolEnv("RENDER_API_PREMIUM", true),
		},
		Pipeline: PipelineConfig{
			Workers:             getIntEnv("PIPELINE_WORKERS", 3),
			BatchSize:           getIntEnv("BATCH_SIZE", 5),
			BatchDelay:          getDurationEnv("BATCH_DELAY", 10*time.Second),
			RequestsPerSecond:   getFloatEnv("REQUESTS_PER_SECOND", 0.5),
			MaxRuntime:          getDurationEnv("MAX_RUNTIME", 6*time.Minute),
			ContactAttemptLimit: getIntEnv("CONTACT_ATTEMPT_LIMIT", 5),
			CronSpec:            getEnv("PIPELINE_CRON", "*/30 * * * *"),
		},
		Snapshot: SnapshotConfig{
			Enabled: getBoolEnv("SNAPSHOT_ENABLED", false),
			Dir:     getEnv("SNAPSHOT_DIR", "snapshots"),
			R2:      getBoolEnv("SNAPSHOT_R2", false),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitEnv(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
