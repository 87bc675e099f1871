package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, []string{"stealth", "renderapi"}, cfg.Scraper.Backends)
	assert.Equal(t, 3, cfg.Scraper.MaxAttempts)
	assert.Equal(t, 2, cfg.Scraper.RetrySameBackend)
	assert.Equal(t, 2*time.Second, cfg.Scraper.RetryDelay)
	assert.Equal(t, "1", cfg.Scraper.CountryCode)

	assert.Equal(t, 3, cfg.Pipeline.Workers)
	assert.Equal(t, 5, cfg.Pipeline.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.BatchDelay)
	assert.Equal(t, 5, cfg.Pipeline.ContactAttemptLimit)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PIPELINE_WORKERS", "7")
	t.Setenv("SCRAPER_BACKENDS", "headless")
	t.Setenv("RETRY_DELAY", "500ms")
	t.Setenv("SNAPSHOT_ENABLED", "true")

	cfg := Load()

	assert.Equal(t, 7, cfg.Pipeline.Workers)
	assert.Equal(t, []string{"headless"}, cfg.Scraper.Backends)
	assert.Equal(t, 500*time.Millisecond, cfg.Scraper.RetryDelay)
	assert.True(t, cfg.Snapshot.Enabled)
}

func TestEnvOverrideBadValuesFallBack(t *testing.T) {
	t.Setenv("PIPELINE_WORKERS", "many")
	t.Setenv("RETRY_DELAY", "soon")

	cfg := Load()

	assert.Equal(t, 3, cfg.Pipeline.Workers)
	assert.Equal(t, 2*time.Second, cfg.Scraper.RetryDelay)
}
