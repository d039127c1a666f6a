package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1", cfg.Hostname)
	assert.Equal(t, 7433, cfg.Port)
	assert.Equal(t, 500, cfg.HistorySize)
	assert.Contains(t, cfg.Adapters, "claude")
	assert.Contains(t, cfg.Adapters, "opencode")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 7433, cfg.Port)
}

func TestLoadJSONCWithComments(t *testing.T) {
	dir := t.TempDir()
	content := `{
		// local dev setup
		"port": 9000,
		"logLevel": "debug",
		"adapters": {
			"claude": {"command": ["claude", "--sdk-url", "{gatewayUrl}"]},
		},
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.jsonc"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BEAMCODE_PORT", "8123")
	t.Setenv("BEAMCODE_LOG_LEVEL", "warn")
	t.Setenv("BEAMCODE_CONTROL_TOKEN", "tok-1")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Port)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "tok-1", cfg.ControlAPIToken)
}

func TestLauncherCommands(t *testing.T) {
	cfg := Default()
	cfg.Adapters["custom"] = AdapterConfig{
		Command: []string{"my-agent", "--port", "1"},
		Env:     []string{"AGENT_MODE=acp"},
	}
	cfg.Adapters["disabled"] = AdapterConfig{Command: []string{"x"}, Disable: true}

	specs := cfg.LauncherCommands()
	require.Contains(t, specs, "custom")
	assert.Equal(t, "acp", specs["custom"].Env["AGENT_MODE"])
	assert.NotContains(t, specs, "disabled")
	assert.NotContains(t, specs, "opencode", "adapters without a command are not launched")
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, int64(5000), cfg.ReconnectGracePeriod().Milliseconds())
	assert.Equal(t, int64(30000), cfg.SocketTimeout().Milliseconds())
}

func TestGatewayURL(t *testing.T) {
	cfg := Default()
	cfg.Hostname = "localhost"
	cfg.Port = 9999
	assert.Equal(t, "ws://localhost:9999/cli/ws", cfg.GatewayURL())
}
