package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("NTFY_ENABLED", "")
	t.Setenv("NTFY_SERVER", "")
	t.Setenv("NTFY_MIN_INTERVAL", "")
	t.Setenv("NTFY_BURST", "")

	cfg := LoadConfig()
	assert.False(t, cfg.Enabled, "notifications are disabled by default")
	assert.Equal(t, "https://ntfy.sh", cfg.Server)
	assert.Equal(t, time.Minute, cfg.MinInterval)
	assert.Equal(t, 2, cfg.Burst)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("NTFY_ENABLED", "true")
	t.Setenv("NTFY_TOPIC", "darts")
	t.Setenv("NTFY_PRIORITY", "urgent")
	t.Setenv("NTFY_MIN_INTERVAL", "30s")
	t.Setenv("NTFY_BURST", "oops")

	cfg := LoadConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "darts", cfg.Topic)
	assert.Equal(t, "urgent", cfg.Priority)
	assert.Equal(t, 30*time.Second, cfg.MinInterval)
	assert.Equal(t, 2, cfg.Burst, "invalid burst falls back to the default")
}

func TestValidate(t *testing.T) {
	valid := Config{Enabled: true, Topic: "t", Priority: "default", Burst: 1}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"disabled skips checks", func(c *Config) { c.Enabled = false; c.Topic = "" }, false},
		{"missing topic", func(c *Config) { c.Topic = "" }, true},
		{"bad priority", func(c *Config) { c.Priority = "loud" }, true},
		{"negative interval", func(c *Config) { c.MinInterval = -time.Second }, true},
		{"zero burst", func(c *Config) { c.Burst = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}
