package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Problems []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Problems) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, p := range e.Problems {
		sb.WriteString(fmt.Sprintf("  - %s\n", p))
	}
	return sb.String()
}

func (e *ValidationErrors) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks the client configuration and reports every problem at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	validateBaseURL(errs, c.Hub.BaseURL)

	for _, s := range c.Hub.Suffixes {
		if strings.TrimSpace(s) == "" {
			errs.add("hub.suffixes must not contain empty entries")
			break
		}
	}

	positive := map[string]time.Duration{
		"hub.connect_timeout":        c.Hub.ConnectTimeout,
		"hub.secure_connect_timeout": c.Hub.SecureConnectTimeout,
		"hub.heartbeat_interval":     c.Hub.HeartbeatInterval,
		"hub.idle_timeout":           c.Hub.IdleTimeout,
		"hub.reconnect_delay":        c.Hub.ReconnectDelay,
		"hub.ack_timeout":            c.Hub.AckTimeout,
	}
	for _, key := range sortedKeys(positive) {
		if positive[key] <= 0 {
			errs.add("%s must be positive, got %s", key, positive[key])
		}
	}
	if c.Hub.HeartbeatInterval > 0 && c.Hub.IdleTimeout > 0 && c.Hub.IdleTimeout <= c.Hub.HeartbeatInterval {
		errs.add("hub.idle_timeout (%s) must exceed hub.heartbeat_interval (%s)", c.Hub.IdleTimeout, c.Hub.HeartbeatInterval)
	}

	if c.Submitter == "" {
		errs.add("submitter must not be empty")
	}
	if c.Observer.Enabled && c.Observer.Addr == "" {
		errs.add("observer.addr is required when the observer is enabled")
	}

	validateLogging(errs, c.Logging)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateBaseURL(errs *ValidationErrors, base string) {
	if base == "" {
		errs.add("hub.base_url is required (set MATCHSYNC_HUB_URL env var)")
		return
	}
	u, err := url.Parse(base)
	if err != nil {
		errs.add("hub.base_url %q is not a valid URL: %v", base, err)
		return
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ws", "wss":
	default:
		errs.add("hub.base_url %q must use http, https, ws or wss", base)
	}
	if u.Host == "" {
		errs.add("hub.base_url %q has no host", base)
	}
}

func validateLogging(errs *ValidationErrors, l LoggingConfig) {
	if _, err := zapcore.ParseLevel(l.Level); err != nil {
		errs.add("logging.level %q is not a log level", l.Level)
	}
	switch l.Format {
	case "", LogFormatJSON, LogFormatConsole:
	default:
		errs.add("logging.format %q must be %s or %s", l.Format, LogFormatJSON, LogFormatConsole)
	}
	if l.Enabled && l.Directory == "" {
		errs.add("logging.directory is required when file logging is enabled")
	}
}

func sortedKeys(m map[string]time.Duration) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
