package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("GATEWAY_TIMEOUT", "")
	t.Setenv("PERSISTENCE", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.GatewayTimeout)
	assert.True(t, cfg.PersistenceEnabled)
	assert.Equal(t, 20, cfg.HistoryLimit)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "Production")
	t.Setenv("ALLOWED_ORIGINS", "https://shop.example.com, https://admin.example.com,")
	t.Setenv("GATEWAY_TIMEOUT", "45")
	t.Setenv("STREAM_TIMEOUT", "90s")
	t.Setenv("PERSISTENCE", "off")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("HISTORY_LIMIT", "not-a-number")

	cfg := Load()
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"https://shop.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 45*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 90*time.Second, cfg.StreamTimeout)
	assert.False(t, cfg.PersistenceEnabled)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 1e-9)
	assert.Equal(t, 20, cfg.HistoryLimit)
}
