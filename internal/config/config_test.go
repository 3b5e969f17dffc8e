package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "market.yandex", cfg.Scraper.HostMarker)
	assert.Equal(t, 8, cfg.Scraper.SpecThreshold)
	assert.Equal(t, 100, cfg.Scraper.BatchSize)
	assert.Equal(t, 20*time.Second, cfg.Scraper.Timeout)
	assert.Equal(t, "ru-RU", cfg.Browser.Locale)
	assert.Equal(t, "stream:market_products", cfg.Redis.Stream)
	assert.Equal(t, "stream:market_parse_requests", cfg.Redis.RequestStream)
	assert.NotEmpty(t, cfg.Redis.ConsumerName)
	assert.False(t, cfg.Database.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("SCRAPER_DELAY_MIN", "3s")
	t.Setenv("SCRAPER_DELAY_MAX", "6s")
	t.Setenv("SCRAPER_USE_BROWSER", "true")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DB_MAX_CONNS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr())
	assert.Equal(t, 3*time.Second, cfg.Scraper.DelayMin)
	assert.Equal(t, 6*time.Second, cfg.Scraper.DelayMax)
	assert.True(t, cfg.Scraper.UseBrowser)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"inverted delays", func(c *Config) { c.Scraper.DelayMin = time.Hour }, "SCRAPER_DELAY_MIN"},
		{"zero threshold", func(c *Config) { c.Scraper.SpecThreshold = 0 }, "SCRAPER_SPEC_THRESHOLD"},
		{"zero batch", func(c *Config) { c.Scraper.BatchSize = 0 }, "SCRAPER_BATCH_SIZE"},
		{"redis without db", func(c *Config) { c.Redis.Enabled = true }, "REDIS_ENABLED requires DB_ENABLED"},
		{"no workers", func(c *Config) { c.Jobs.Workers = 0 }, "job worker"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
