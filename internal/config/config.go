// Package config loads daemon configuration from a jsonc file, an optional
// .env file, and environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"

	"github.com/teng-lin/beamcode/internal/launcher"
)

// AdapterConfig parameterizes one backend adapter.
type AdapterConfig struct {
	// Command spawns the CLI for dial-back adapters.
	Command []string `json:"command,omitempty"`
	// Env is extra environment for the child, KEY=VALUE form.
	Env []string `json:"env,omitempty"`
	// BaseURL points at an already-running backend server (opencode).
	BaseURL string `json:"baseURL,omitempty"`
	// Model is the default model for the adapter.
	Model string `json:"model,omitempty"`
	// AllowedTools are glob patterns auto-allowed without a permission
	// round-trip.
	AllowedTools []string `json:"allowedTools,omitempty"`
	// Disable removes the adapter from the registry.
	Disable bool `json:"disable,omitempty"`
}

// Config is the daemon configuration.
type Config struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`

	// ControlAPIToken protects the admin surface; generated when empty.
	ControlAPIToken string `json:"controlApiToken,omitempty"`

	HistorySize            int `json:"historySize"`
	MaxSessions            int `json:"maxSessions"`
	IdleSessionTimeoutMs   int `json:"idleSessionTimeoutMs"`
	ReconnectGracePeriodMs int `json:"reconnectGracePeriodMs"`
	SocketTimeoutMs        int `json:"socketTimeoutMs"`

	Adapters map[string]AdapterConfig `json:"adapters,omitempty"`
}

// Default returns the baseline configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Hostname:               "127.0.0.1",
		Port:                   7433,
		DataDir:                filepath.Join(home, ".beamcode"),
		LogLevel:               "info",
		HistorySize:            500,
		MaxSessions:            16,
		IdleSessionTimeoutMs:   int(30 * time.Minute / time.Millisecond),
		ReconnectGracePeriodMs: 5000,
		SocketTimeoutMs:        30000,
		Adapters: map[string]AdapterConfig{
			"claude": {
				Command: []string{"claude", "--sdk-url", "{gatewayUrl}?sessionId={sessionId}"},
			},
			"acp":    {},
			"gemini": {Command: []string{"gemini", "--experimental-acp"}},
			"opencode": {
				BaseURL: "http://127.0.0.1:4096",
			},
		},
	}
}

// Path returns the config file location under dir (or the default data
// dir when dir is empty).
func Path(dir string) string {
	if dir == "" {
		dir = Default().DataDir
	}
	return filepath.Join(dir, "config.jsonc")
}

// Load reads configuration: defaults, then the jsonc file, then a .env file
// next to it, then environment overrides.
func Load(dir string) (*Config, error) {
	cfg := Default()

	path := Path(dir)
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// A .env beside the config file is loaded quietly.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays BEAMCODE_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("BEAMCODE_HOSTNAME"); v != "" {
		cfg.Hostname = v
	}
	if v := os.Getenv("BEAMCODE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("BEAMCODE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("BEAMCODE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BEAMCODE_CONTROL_TOKEN"); v != "" {
		cfg.ControlAPIToken = v
	}
	if v := os.Getenv("BEAMCODE_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSessions = n
		}
	}
}

// IdleSessionTimeout returns the idle timeout as a duration.
func (c *Config) IdleSessionTimeout() time.Duration {
	return time.Duration(c.IdleSessionTimeoutMs) * time.Millisecond
}

// ReconnectGracePeriod returns the reconnect grace as a duration.
func (c *Config) ReconnectGracePeriod() time.Duration {
	return time.Duration(c.ReconnectGracePeriodMs) * time.Millisecond
}

// SocketTimeout returns the socket delivery timeout as a duration.
func (c *Config) SocketTimeout() time.Duration {
	return time.Duration(c.SocketTimeoutMs) * time.Millisecond
}

// LauncherCommands converts adapter configs to launcher specs.
func (c *Config) LauncherCommands() map[string]launcher.CommandSpec {
	specs := make(map[string]launcher.CommandSpec)
	for name, ac := range c.Adapters {
		if ac.Disable || len(ac.Command) == 0 {
			continue
		}
		env := make(map[string]string)
		for _, kv := range ac.Env {
			for i := 0; i < len(kv); i++ {
				if kv[i] == '=' {
					env[kv[:i]] = kv[i+1:]
					break
				}
			}
		}
		specs[name] = launcher.CommandSpec{Args: ac.Command, Env: env}
	}
	return specs
}

// GatewayURL is the ws endpoint CLI children dial back.
func (c *Config) GatewayURL() string {
	return fmt.Sprintf("ws://%s:%d/cli/ws", c.Hostname, c.Port)
}

// StateFilePath is where the daemon discovery record lives.
func (c *Config) StateFilePath() string {
	return filepath.Join(c.DataDir, "daemon.json")
}
