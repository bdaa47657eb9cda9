package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate checks the config for structural correctness.
func Validate(c *Config) []error {
	var errs []error

	if c.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", c.Version))
	}

	// Client
	if c.Client.ServerURL == "" && c.Client.Socket == "" {
		errs = append(errs, fmt.Errorf("client: server_url or socket is required"))
	}
	if c.Client.ServerURL != "" {
		u, err := url.Parse(c.Client.ServerURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("client: server_url must be an http(s) URL, got %q", c.Client.ServerURL))
		}
	}
	if c.Client.Fallback && c.Client.Socket == "" {
		errs = append(errs, fmt.Errorf("client: fallback requires socket"))
	}
	if c.Client.HeaderTimeout < 0 {
		errs = append(errs, fmt.Errorf("client: header_timeout must not be negative"))
	}

	// Daemon
	if c.Daemon.Socket == "" {
		errs = append(errs, fmt.Errorf("daemon: socket is required"))
	}
	if c.Daemon.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Daemon.Listen); err != nil {
			errs = append(errs, fmt.Errorf("daemon: listen must be host:port, got %q", c.Daemon.Listen))
		}
	}
	if c.Daemon.Shell == "" {
		errs = append(errs, fmt.Errorf("daemon: shell is required"))
	}
	if c.Daemon.KillGrace <= 0 {
		errs = append(errs, fmt.Errorf("daemon: kill_grace must be positive"))
	}
	for k := range c.Daemon.Env {
		if k == "" || strings.Contains(k, "=") {
			errs = append(errs, fmt.Errorf("daemon: invalid env name %q", k))
		}
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log: level must be debug, info, warn, or error; got %q", c.Log.Level))
	}

	return errs
}
