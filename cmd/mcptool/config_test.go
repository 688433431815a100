package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8000", config.Server.Listen)
	assert.Equal(t, "/mcp/v1/mcp", config.Server.Path)
	assert.Equal(t, 30*time.Minute, config.Server.SessionTTL)
	assert.Equal(t, "info", config.Log.Level)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "none", config.Tracing.Exporter)
}

func TestLoadConfigOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  name: imagehub
  listen: ":9001"
  allowed_origins:
    - https://app.example.com
log:
  level: debug
  format: json
auth:
  bearer_tokens:
    - secret: tok-1
      id: u1
      name: alice
      scopes: [tools:call]
`), 0o600))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "imagehub", config.Server.Name)
	assert.Equal(t, ":9001", config.Server.Listen)
	assert.Equal(t, []string{"https://app.example.com"}, config.Server.AllowedOrigins)
	// Untouched keys keep their defaults.
	assert.Equal(t, "/mcp/v1/mcp", config.Server.Path)
	assert.Equal(t, "debug", config.Log.Level)

	require.Len(t, config.Auth.BearerTokens, 1)
	assert.Equal(t, "alice", config.Auth.BearerTokens[0].Name)

	providers := authProviders(config.Auth)
	require.Len(t, providers, 1)
	assert.Equal(t, "bearer", providers[0].Type())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestBuildLoggerRejectsUnknownLevel(t *testing.T) {
	config := DefaultConfig()
	config.Log.Level = "verbose"
	_, err := config.buildLogger()
	assert.Error(t, err)
}
