package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// HubServerConfig configures the development hub.
type HubServerConfig struct {
	Port string
	Name string
	// Replay configuration
	Recording      string
	ReplayInterval time.Duration
	ReplayGroup    string
	ReplayLoop     bool
	// Submission handling
	DropReplies       bool
	EchoResults       bool
	RejectSubmissions bool
}

func LoadHubServerConfig() (*HubServerConfig, error) {
	// Parse replay interval
	intervalStr := getEnvOrDefault("HUB_REPLAY_INTERVAL", "1s")
	interval, err := time.ParseDuration(intervalStr)
	if err != nil {
		return nil, fmt.Errorf("invalid HUB_REPLAY_INTERVAL: %s", intervalStr)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("invalid HUB_REPLAY_INTERVAL: %s (must be positive)", intervalStr)
	}

	name := getEnvOrDefault("HUB_NAME", "")
	if name == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			name = hostname
		} else {
			name = "hubfaker"
		}
	}

	cfg := &HubServerConfig{
		Port:              getEnvOrDefault("PORT", "8080"),
		Name:              name,
		Recording:         getEnvOrDefault("HUB_RECORDING", ""),
		ReplayInterval:    interval,
		ReplayGroup:       getEnvOrDefault("HUB_REPLAY_GROUP", ""),
		ReplayLoop:        getEnvBoolOrDefault("HUB_REPLAY_LOOP", true),
		DropReplies:       getEnvBoolOrDefault("HUB_DROP_REPLIES", false),
		EchoResults:       getEnvBoolOrDefault("HUB_ECHO_RESULTS", true),
		RejectSubmissions: getEnvBoolOrDefault("HUB_REJECT_SUBMISSIONS", false),
	}

	// Validate
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s (must be numeric)", cfg.Port)
	}
	if cfg.Recording != "" {
		if _, err := os.Stat(cfg.Recording); err != nil {
			return nil, fmt.Errorf("HUB_RECORDING: %w", err)
		}
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
