package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VEGAFLOW_HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 5*time.Minute, cfg.RunTimeout)
	assert.Equal(t, 1000, cfg.MaxSteps)
	assert.Equal(t, DefaultDBPath(), cfg.DatabasePath)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "vegaflow.yaml", `
database_path: /tmp/flows.db
log_level: debug
log_format: json
run_timeout: 30s
llm:
  model: claude-test
tracing:
  enabled: true
mcp:
  servers:
    - name: files
      command: mcp-files
      args: ["--root", "/data"]
      env:
        token: abc
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/flows.db", cfg.DatabasePath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.RunTimeout)
	assert.Equal(t, "claude-test", cfg.LLM.Model)
	assert.True(t, cfg.Tracing.Enabled)
	require.Len(t, cfg.MCP.Servers, 1)
	assert.Equal(t, "files", cfg.MCP.Servers[0].Name)
	assert.Equal(t, []string{"--root", "/data"}, cfg.MCP.Servers[0].Args)
	assert.Equal(t, "abc", cfg.MCP.Servers[0].Env["token"])
}

func TestLoadEnv(t *testing.T) {
	path := writeFile(t, "vegaflow.yaml", "log_level: info\n")
	t.Setenv("VEGAFLOW_LOG_LEVEL", "warn")
	t.Setenv("VEGAFLOW_LLM_API_KEY", "sk-test")
	t.Setenv("VEGAFLOW_MAX_STEPS", "7")
	t.Setenv("VEGAFLOW_TOOL_TIMEOUT", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 7, cfg.MaxSteps)
	assert.Equal(t, 30*time.Second, cfg.ToolTimeout)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"log level", "log_level: loud\n", "invalid log level: loud"},
		{"log format", "log_format: xml\n", "invalid log format: xml"},
		{"negative steps", "max_steps: -1\n", "max steps cannot be negative"},
		{"negative tool timeout", "tool_timeout: -1s\n", "the tool timeout cannot be negative"},
		{"mcp without command", "mcp:\n  servers:\n    - name: x\n", "mcp server x needs a command or a url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "vegaflow.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadKnownMCPServer(t *testing.T) {
	cfg, err := Load(writeFile(t, "vegaflow.yaml", "mcp:\n  servers:\n    - name: filesystem\n"))
	require.NoError(t, err)
	require.Len(t, cfg.MCP.Servers, 1)
	assert.Empty(t, cfg.MCP.Servers[0].Command)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
