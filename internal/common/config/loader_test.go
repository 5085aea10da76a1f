package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  redis:
    address: localhost:6379
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Orchestrator.MaxParallelAgents)
	assert.Equal(t, 30*time.Second, GetDuration(cfg.Orchestrator.AgentTimeout))
	assert.Equal(t, 0.9, cfg.Orchestrator.LLMThreshold)
	assert.Equal(t, 3, cfg.Guardrails.MinLength)
	assert.Equal(t, 2000, cfg.Guardrails.MaxLength)
	assert.Equal(t, "local", cfg.Jobs.Dispatcher)
	assert.Equal(t, 1800, cfg.APIs.DataSources.CacheTTL)
	assert.Equal(t, int64(100), cfg.RateLimits["groq"].Roles["analyst"])
	assert.Equal(t, int64(1000), cfg.RateLimits["tavily"].Global)
	assert.False(t, cfg.Database.Postgres.Enabled())
}

func TestLoadFromFile_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("TEST_LLM_MODEL", "mixtral-8x7b")
	path := writeConfig(t, `
database:
  redis:
    address: localhost:6379
apis:
  llm:
    model: ${TEST_LLM_MODEL}
rate_limits:
  groq:
    roles:
      analyst: 7
    global: 70
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "mixtral-8x7b", cfg.APIs.LLM.Model)
	assert.Equal(t, int64(7), cfg.RateLimits["groq"].Roles["analyst"])
	assert.Equal(t, int64(70), cfg.RateLimits["groq"].Global)
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing redis",
			body:    "app:\n  name: x\n",
			wantErr: "database.redis.address or url is required",
		},
		{
			name: "zeebe dispatcher without camunda",
			body: `
database:
  redis:
    address: localhost:6379
jobs:
  dispatcher: zeebe
`,
			wantErr: "requires camunda.enabled",
		},
		{
			name: "postgres without database name",
			body: `
database:
  redis:
    address: localhost:6379
  postgres:
    host: db
    user: app
`,
			wantErr: "database.postgres.database is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetWorkerConfig_Fallback(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{
		"process-pharma-query": {Enabled: false, MaxJobsActive: 2},
	}}

	assert.False(t, IsWorkerEnabled(cfg, "process-pharma-query"))
	assert.Equal(t, 2, GetWorkerConfig(cfg, "process-pharma-query").MaxJobsActive)
	assert.True(t, IsWorkerEnabled(cfg, "unknown"))
	assert.Equal(t, 5, GetWorkerConfig(cfg, "unknown").MaxJobsActive)
}
