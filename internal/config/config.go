package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Browser    BrowserConfig
	Crawler    CrawlerConfig
	Snapshot   SnapshotConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Enrichment EnrichmentConfig
	Server     ServerConfig
	Logging    LoggingConfig
}

type BrowserConfig struct {
	Headless    bool
	Timeout     time.Duration
	UserAgent   string
	ProxyServer string
}

type CrawlerConfig struct {
	CategoryConcurrency  int
	PromotionConcurrency int
	NavigationTimeout    time.Duration
	CardWait             time.Duration
	MaxRetries           int
	RetryDelay           time.Duration
	SinkAttempts         int
}

type SnapshotConfig struct {
	Path string
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

// Enabled reports whether a database is configured. Without one the
// pipeline reconciles against the snapshot file in memory.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != "" || c.Host != ""
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Stream       string
	PollInterval time.Duration
	BatchSize    int
}

type LLMConfig struct {
	Provider   string
	APIKey     string
	APIURL     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

type EnrichmentConfig struct {
	BatchSize   int
	MaxRequests int
	// MinInterval of zero selects the provider default.
	MinInterval time.Duration
	EventLabel  string
	FuzzyCutoff float64
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	WorkerInterval  time.Duration
	AllowedOrigins  []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// envFiles are loaded in order when present. The first file to set a
// variable wins and the process environment is never overridden.
var envFiles = []string{".env", ".env.local"}

// LoadEnv reads optional .env files into the process environment.
func LoadEnv(logger *slog.Logger) {
	for _, file := range envFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			if logger != nil {
				logger.Warn("failed to load env file", "file", file, "error", err)
			}
			continue
		}
		if logger != nil {
			logger.Debug("loaded env file", "file", file)
		}
	}
}

func Load() (*Config, error) {
	LoadEnv(nil)

	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", "openai"))

	cfg := &Config{
		Browser: BrowserConfig{
			Headless:    getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:     getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			UserAgent:   getEnvOrDefault("BROWSER_USER_AGENT", ""),
			ProxyServer: getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Crawler: CrawlerConfig{
			CategoryConcurrency:  getIntOrDefault("CRAWLER_CATEGORY_CONCURRENCY", 3),
			PromotionConcurrency: getIntOrDefault("CRAWLER_PROMOTION_CONCURRENCY", 5),
			NavigationTimeout:    getDurationOrDefault("CRAWLER_NAVIGATION_TIMEOUT", 60*time.Second),
			CardWait:             getDurationOrDefault("CRAWLER_CARD_WAIT", 20*time.Second),
			MaxRetries:           getIntOrDefault("CRAWLER_MAX_RETRIES", 2),
			RetryDelay:           getDurationOrDefault("CRAWLER_RETRY_DELAY", 2*time.Second),
			SinkAttempts:         getIntOrDefault("CRAWLER_SINK_ATTEMPTS", 5),
		},
		Snapshot: SnapshotConfig{
			Path: getEnvOrDefault("SNAPSHOT_PATH", "amway_products_full.json"),
		},
		Database: DatabaseConfig{
			URL:      getEnvOrDefault("DATABASE_URL", ""),
			Host:     getEnvOrDefault("DB_HOST", ""),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "catalog"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:         getEnvOrDefault("REDIS_ADDR", ""),
			Password:     getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:           getIntOrDefault("REDIS_DB", 0),
			Stream:       getEnvOrDefault("REDIS_STREAM", "stream:catalog_changes"),
			PollInterval: getDurationOrDefault("OUTBOX_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("OUTBOX_BATCH_SIZE", 100),
		},
		LLM: LLMConfig{
			Provider:   provider,
			APIKey:     apiKey(provider),
			APIURL:     getEnvOrDefault("LLM_API_URL", ""),
			Model:      getEnvOrDefault("LLM_MODEL", ""),
			Timeout:    getDurationOrDefault("LLM_TIMEOUT", 60*time.Second),
			MaxRetries: getIntOrDefault("LLM_MAX_RETRIES", 2),
			RetryDelay: getDurationOrDefault("LLM_RETRY_DELAY", 2*time.Second),
		},
		Enrichment: EnrichmentConfig{
			BatchSize:   getIntOrDefault("ENRICH_BATCH_SIZE", 5),
			MaxRequests: getIntOrDefault("ENRICH_MAX_REQUESTS", 240),
			MinInterval: getDurationOrDefault("ENRICH_MIN_INTERVAL", 0),
			EventLabel:  getEnvOrDefault("ENRICH_EVENT_LABEL", "이벤트"),
			FuzzyCutoff: getFloatOrDefault("EVENT_FUZZY_CUTOFF", 0.6),
		},
		Server: ServerConfig{
			Port:            getIntOrDefault("PORT", 8080),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			WorkerInterval:  getDurationOrDefault("RUN_WORKER_INTERVAL", 10*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("CORS_ALLOWED_ORIGINS", nil),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// apiKey prefers LLM_API_KEY and falls back to the provider specific
// variable.
func apiKey(provider string) string {
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		return key
	}
	switch provider {
	case "google", "gemini":
		return os.Getenv("GOOGLE_API_KEY")
	}
	return os.Getenv("OPENAI_API_KEY")
}

func (c *Config) Validate() error {
	var errs []error

	if c.Crawler.CategoryConcurrency < 1 {
		errs = append(errs, fmt.Errorf("CRAWLER_CATEGORY_CONCURRENCY must be at least 1"))
	}
	if c.Crawler.PromotionConcurrency < 1 {
		errs = append(errs, fmt.Errorf("CRAWLER_PROMOTION_CONCURRENCY must be at least 1"))
	}
	if c.Crawler.NavigationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CRAWLER_NAVIGATION_TIMEOUT must be positive"))
	}
	if c.Browser.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("BROWSER_TIMEOUT must be positive"))
	}
	if c.Crawler.SinkAttempts < 1 {
		errs = append(errs, fmt.Errorf("CRAWLER_SINK_ATTEMPTS must be at least 1"))
	}

	switch c.LLM.Provider {
	case "openai", "google", "gemini":
	default:
		errs = append(errs, fmt.Errorf("unknown AI_PROVIDER %q, use openai or google", c.LLM.Provider))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("LLM_TIMEOUT must be positive"))
	}

	if c.Enrichment.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("ENRICH_BATCH_SIZE must be at least 1"))
	}
	if c.Enrichment.MaxRequests < 0 {
		errs = append(errs, fmt.Errorf("ENRICH_MAX_REQUESTS cannot be negative"))
	}
	if c.Enrichment.FuzzyCutoff <= 0 || c.Enrichment.FuzzyCutoff > 1 {
		errs = append(errs, fmt.Errorf("EVENT_FUZZY_CUTOFF must be in (0, 1]"))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text"))
	}

	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
