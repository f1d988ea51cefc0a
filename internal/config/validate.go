package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validateURL("server.rest_url", c.Server.RestURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("server.ws_url", c.Server.WSURL, "ws", "wss"); err != nil {
		return err
	}

	if c.Transport.ConnectTimeout <= 0 {
		return errors.New("transport.connect_timeout must be > 0")
	}
	if c.Transport.ReconnectDelay < 0 {
		return errors.New("transport.reconnect_delay must be >= 0")
	}
	if c.Transport.MaxReconnectAttempts < 0 {
		return errors.New("transport.max_reconnect_attempts must be >= 0")
	}
	if c.Transport.PingInterval <= 0 {
		return errors.New("transport.ping_interval must be > 0")
	}
	if c.Transport.PingTimeout <= c.Transport.PingInterval {
		return fmt.Errorf("transport.ping_timeout (%s) must exceed ping_interval (%s)",
			c.Transport.PingTimeout, c.Transport.PingInterval)
	}
	if c.Transport.BufferSize < 1 {
		return errors.New("transport.buffer_size must be >= 1")
	}

	if c.Writes.ThrottleInterval <= 0 {
		return errors.New("writes.throttle_interval must be > 0")
	}
	if c.Writes.RequestTimeout <= 0 {
		return errors.New("writes.request_timeout must be > 0")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Poller.ResyncInterval < 0 {
		return errors.New("poller.resync_interval must be >= 0")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			return errors.New("metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%s has no host", field)
			}
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of %s, got %q", field, strings.Join(schemes, ", "), u.Scheme)
}
