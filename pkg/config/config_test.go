package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ZeroConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mock", cfg.Embedder.Type)
	assert.Equal(t, "chromem", cfg.Vector.Type)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Orchestrator.MaxReplans)
	assert.Equal(t, 5, cfg.Orchestrator.MaxSearchIterations)
	assert.False(t, cfg.Storage.Redis.Enabled)
	assert.False(t, cfg.Storage.Mongo.Enabled)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  model: my-model
llm:
  primary:
    model: gpt-4o
storage:
  redis:
    enabled: true
    addr: redis.internal:6379
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "my-model", cfg.Server.Model)
	assert.Equal(t, "gpt-4o", cfg.LLM.Primary.Model)
	// Fast tier inherits primary settings when unset.
	assert.Equal(t, "gpt-4o", cfg.LLM.Fast.Model)
	assert.True(t, cfg.Storage.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Storage.Redis.Addr)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("CONDUCTOR_TEST_MODEL", "env-model")

	path := writeConfig(t, `
llm:
  primary:
    model: ${CONDUCTOR_TEST_MODEL}
    api_key: ${CONDUCTOR_TEST_MISSING:-fallback-key}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-model", cfg.LLM.Primary.Model)
	assert.Equal(t, "fallback-key", cfg.LLM.Primary.APIKey)
}

func TestLoad_InvalidVectorType(t *testing.T) {
	path := writeConfig(t, "vector:\n  type: pinecone\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector.type")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/conductor.yaml")
	assert.Error(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("CONDUCTOR_X", "value")

	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"${CONDUCTOR_X}", "value"},
		{"$CONDUCTOR_X", "value"},
		{"${CONDUCTOR_X:-default}", "value"},
		{"${CONDUCTOR_UNSET_Y:-default}", "default"},
		{"${CONDUCTOR_UNSET_Y}", ""},
		{"prefix-${CONDUCTOR_X}-suffix", "prefix-value-suffix"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expandEnvVars(tt.in), "input %q", tt.in)
	}
}
