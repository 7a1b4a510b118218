package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AI_PROVIDER", "")
	t.Setenv("OPENAI_API_KEY", "sk-default")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 3, cfg.Crawler.CategoryConcurrency)
	assert.Equal(t, 5, cfg.Crawler.PromotionConcurrency)
	assert.Equal(t, 60*time.Second, cfg.Crawler.NavigationTimeout)
	assert.Equal(t, "amway_products_full.json", cfg.Snapshot.Path)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-default", cfg.LLM.APIKey)
	assert.Equal(t, 5, cfg.Enrichment.BatchSize)
	assert.Equal(t, 240, cfg.Enrichment.MaxRequests)
	assert.Equal(t, "이벤트", cfg.Enrichment.EventLabel)
	assert.InDelta(t, 0.6, cfg.Enrichment.FuzzyCutoff, 1e-9)
	assert.Equal(t, "stream:catalog_changes", cfg.Redis.Stream)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BROWSER_HEADLESS", "false")
	t.Setenv("CRAWLER_CATEGORY_CONCURRENCY", "2")
	t.Setenv("AI_PROVIDER", "Google")
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("LLM_MODEL", "gemini-2.0-flash")
	t.Setenv("ENRICH_MIN_INTERVAL", "7s")
	t.Setenv("DATABASE_URL", "postgres://localhost/catalog")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 2, cfg.Crawler.CategoryConcurrency)
	assert.Equal(t, "google", cfg.LLM.Provider)
	assert.Equal(t, "g-key", cfg.LLM.APIKey)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Model)
	assert.Equal(t, 7*time.Second, cfg.Enrichment.MinInterval)
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_GenericKeyWins(t *testing.T) {
	t.Setenv("AI_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("LLM_API_KEY", "sk-generic")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-generic", cfg.LLM.APIKey)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("CRAWLER_CATEGORY_CONCURRENCY", "many")
	t.Setenv("BROWSER_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Crawler.CategoryConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Browser.Timeout)
}

func TestLoad_UnknownProvider(t *testing.T) {
	t.Setenv("AI_PROVIDER", "watson")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watson")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		t.Setenv("AI_PROVIDER", "openai")
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"category concurrency", func(c *Config) { c.Crawler.CategoryConcurrency = 0 }, "CRAWLER_CATEGORY_CONCURRENCY"},
		{"promotion concurrency", func(c *Config) { c.Crawler.PromotionConcurrency = 0 }, "CRAWLER_PROMOTION_CONCURRENCY"},
		{"navigation timeout", func(c *Config) { c.Crawler.NavigationTimeout = 0 }, "CRAWLER_NAVIGATION_TIMEOUT"},
		{"batch size", func(c *Config) { c.Enrichment.BatchSize = 0 }, "ENRICH_BATCH_SIZE"},
		{"cutoff", func(c *Config) { c.Enrichment.FuzzyCutoff = 1.5 }, "EVENT_FUZZY_CUTOFF"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadEnv_DoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SNAPSHOT_PATH=from-file.json\nREDIS_ADDR=redis:6379\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("SNAPSHOT_PATH", "from-env.json")
	t.Setenv("REDIS_ADDR", "")
	require.NoError(t, os.Unsetenv("REDIS_ADDR"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env.json", cfg.Snapshot.Path)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}
