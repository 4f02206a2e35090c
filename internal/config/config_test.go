package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.Hub.BaseURL)
	assert.Equal(t, []string{"/ws", "/hub", "/matchHub"}, cfg.Hub.Suffixes)
	assert.Equal(t, 15*time.Second, cfg.Hub.AckTimeout)
	assert.True(t, cfg.Hub.InsecureSkipVerify, "certificate verification is skipped by default")
	assert.Equal(t, "default", cfg.Submitter)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, LogFormatJSON, cfg.Logging.Format)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MATCHSYNC_HUB_URL", "https://hub.example.com/live")
	t.Setenv("MATCHSYNC_HUB_ACK_TIMEOUT", "2s")
	t.Setenv("MATCHSYNC_TOURNAMENT", "spring-open")
	t.Setenv("MATCHSYNC_LOGGING_FORMAT", "console")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://hub.example.com/live", cfg.Hub.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Hub.AckTimeout)
	assert.Equal(t, "spring-open", cfg.Tournament)
	assert.Equal(t, LogFormatConsole, cfg.Logging.Format)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matchsync.yaml")
	content := `
hub:
  base_url: wss://darts.example.com
  suffixes: ["/matchHub"]
  plain_fallback: true
  reconnect_delay: 250ms
tournament: winter-cup
observer:
  enabled: false
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://darts.example.com", cfg.Hub.BaseURL)
	assert.Equal(t, []string{"/matchHub"}, cfg.Hub.Suffixes)
	assert.True(t, cfg.Hub.PlainFallback)
	assert.Equal(t, 250*time.Millisecond, cfg.Hub.ReconnectDelay)
	assert.Equal(t, "winter-cup", cfg.Tournament)
	assert.False(t, cfg.Observer.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Unset keys keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Hub.HeartbeatInterval)
	assert.Equal(t, LogFormatJSON, cfg.Logging.Format)
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hub: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	t.Setenv("MATCHSYNC_LOGGING_LEVEL", "chatty")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestClientConfigCarriesToken(t *testing.T) {
	cfg := &Config{Hub: HubConfig{BaseURL: "http://hub", Token: "secret"}}

	wsCfg := cfg.ClientConfig()
	assert.Equal(t, "Bearer secret", wsCfg.Supervisor.Header.Get("Authorization"))

	cfg.Hub.Token = ""
	assert.Nil(t, cfg.ClientConfig().Supervisor.Header)
}
