package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, "Asia/Riyadh", cfg.Timezone)
	assert.Equal(t, 30*time.Second, cfg.SchedulerPollPeriod)
	assert.Empty(t, cfg.BotToken, "no token configured means the Notifier falls back to Noop")
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}
