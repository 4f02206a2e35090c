package config

import (
	"net/http"

	"github.com/dgnsrekt/matchsync/internal/ws"
)

// ClientConfig maps the hub settings onto the websocket client.
func (c *Config) ClientConfig() ws.Config {
	var header http.Header
	if c.Hub.Token != "" {
		header = http.Header{"Authorization": {"Bearer " + c.Hub.Token}}
	}
	return ws.Config{
		BaseURL:       c.Hub.BaseURL,
		Suffixes:      c.Hub.Suffixes,
		PlainFallback: c.Hub.PlainFallback,
		AckTimeout:    c.Hub.AckTimeout,
		Supervisor: ws.SupervisorConfig{
			ConnectTimeout:       c.Hub.ConnectTimeout,
			SecureConnectTimeout: c.Hub.SecureConnectTimeout,
			HeartbeatInterval:    c.Hub.HeartbeatInterval,
			IdleTimeout:          c.Hub.IdleTimeout,
			ReconnectDelay:       c.Hub.ReconnectDelay,
			InsecureSkipVerify:   c.Hub.InsecureSkipVerify,
			Header:               header,
		},
	}
}
