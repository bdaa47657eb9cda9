// Package config loads cmdlog.yaml, the shared client and daemon
// configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultFile is looked up in the working directory.
	DefaultFile   = "cmdlog.yaml"
	DefaultSocket = "/tmp/cmdlogd.sock"
	DefaultListen = "127.0.0.1:7433"

	envPrefix = "CMDLOG_"
)

// Config represents a cmdlog.yaml file.
type Config struct {
	Version int          `yaml:"version" env:"VERSION"`
	Client  ClientConfig `yaml:"client"  envPrefix:"CLIENT_"`
	Daemon  DaemonConfig `yaml:"daemon"  envPrefix:"DAEMON_"`
	Log     LogConfig    `yaml:"log"     envPrefix:"LOG_"`

	// FilePath is the file the config was loaded from, empty for defaults.
	FilePath string `yaml:"-"`
}

// ClientConfig is read by cmdlog.
type ClientConfig struct {
	ServerURL     string        `yaml:"server_url"     env:"SERVER_URL"`
	Socket        string        `yaml:"socket"         env:"SOCKET"`
	Fallback      bool          `yaml:"fallback"       env:"FALLBACK"`
	HeaderTimeout time.Duration `yaml:"header_timeout" env:"HEADER_TIMEOUT"`
}

// DaemonConfig is read by cmdlogd.
type DaemonConfig struct {
	Listen    string            `yaml:"listen"               env:"LISTEN"`
	Socket    string            `yaml:"socket"               env:"SOCKET"`
	Shell     string            `yaml:"shell"                env:"SHELL"`
	Dir       string            `yaml:"dir,omitempty"        env:"DIR"`
	Env       map[string]string `yaml:"env,omitempty"        env:"ENV"`
	KillGrace time.Duration     `yaml:"kill_grace"           env:"KILL_GRACE"`
}

// LogConfig controls the slog handler. An empty File means stderr for the
// daemon and no logging for the TUI.
type LogConfig struct {
	Level string `yaml:"level"          env:"LEVEL"`
	File  string `yaml:"file,omitempty" env:"FILE"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Version: 1,
		Client: ClientConfig{
			ServerURL:     "http://" + DefaultListen,
			Socket:        DefaultSocket,
			Fallback:      true,
			HeaderTimeout: 10 * time.Second,
		},
		Daemon: DaemonConfig{
			Listen:    DefaultListen,
			Socket:    DefaultSocket,
			Shell:     "/bin/sh",
			KillGrace: 5 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Parse decodes YAML on top of the defaults and expands environment
// variables in path fields.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.expand()
	return cfg, nil
}

// Load reads path, applies CMDLOG_* environment overrides, and returns the
// result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if cfg, err = Parse(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		cfg.FilePath = path
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("config environment: %w", err)
	}
	cfg.expand()
	return cfg, nil
}

// Save writes the config as YAML.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) expand() {
	c.Client.Socket = os.ExpandEnv(c.Client.Socket)
	c.Daemon.Socket = os.ExpandEnv(c.Daemon.Socket)
	c.Daemon.Dir = os.ExpandEnv(c.Daemon.Dir)
	c.Log.File = os.ExpandEnv(c.Log.File)
}

// SlogLevel maps Level to a slog level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
