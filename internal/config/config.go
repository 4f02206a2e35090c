package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Hub        HubConfig      `mapstructure:"hub"`
	Tournament string         `mapstructure:"tournament"`
	Submitter  string         `mapstructure:"submitter"`
	Observer   ObserverConfig `mapstructure:"observer"`
	Logging    LoggingConfig  `mapstructure:"logging"`
}

type HubConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	Suffixes             []string      `mapstructure:"suffixes"`
	PlainFallback        bool          `mapstructure:"plain_fallback"`
	InsecureSkipVerify   bool          `mapstructure:"insecure_skip_verify"`
	Token                string        `mapstructure:"token"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	SecureConnectTimeout time.Duration `mapstructure:"secure_connect_timeout"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	AckTimeout           time.Duration `mapstructure:"ack_timeout"`
}

type ObserverConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Addr          string        `mapstructure:"addr"`
	BroadcasterID string        `mapstructure:"broadcaster_id"`
	KeepAlive     time.Duration `mapstructure:"keepalive"`
}

// Log encodings accepted by logging.format.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults
	v.SetDefault("hub.base_url", "http://localhost:8080")
	v.SetDefault("hub.suffixes", []string{"/ws", "/hub", "/matchHub"})
	v.SetDefault("hub.plain_fallback", false)
	v.SetDefault("hub.insecure_skip_verify", true)
	v.SetDefault("hub.connect_timeout", "5s")
	v.SetDefault("hub.secure_connect_timeout", "10s")
	v.SetDefault("hub.heartbeat_interval", "30s")
	v.SetDefault("hub.idle_timeout", "90s")
	v.SetDefault("hub.reconnect_delay", "5s")
	v.SetDefault("hub.ack_timeout", "15s")
	v.SetDefault("tournament", "")
	v.SetDefault("submitter", "default")
	v.SetDefault("observer.enabled", true)
	v.SetDefault("observer.addr", ":8090")
	v.SetDefault("observer.broadcaster_id", "")
	v.SetDefault("observer.keepalive", "15s")
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", LogFormatJSON)

	// Environment variable support
	v.SetEnvPrefix("MATCHSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("hub.base_url", "MATCHSYNC_HUB_URL")
	_ = v.BindEnv("hub.token", "MATCHSYNC_HUB_TOKEN")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("matchsync")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
