package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-sre/cortex/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Orchestrator.MaxDepth)
	assert.Equal(t, 64, cfg.Hub.QueueBound)
	assert.Equal(t, 30*time.Second, cfg.Collaborators.Timeout)
	assert.Equal(t, "memory", cfg.Archive.Backend)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cortex.yaml")
	content := `
server:
  addr: ":9999"
orchestrator:
  max_depth: 5
collaborators:
  tool_executor_url: "http://executor:8000"
  timeout: 10s
archive:
  backend: redis
  redis_addr: "redis:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Orchestrator.MaxDepth)
	assert.Equal(t, "http://executor:8000", cfg.Collaborators.ToolExecutorURL)
	assert.Equal(t, 10*time.Second, cfg.Collaborators.Timeout)
	assert.Equal(t, "redis", cfg.Archive.Backend)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("CORTEX_ORCHESTRATOR_MAX_DEPTH", "7")
	t.Setenv("CORTEX_COLLABORATORS_DATA_COLLECTOR_URL", "http://collector:8000")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Orchestrator.MaxDepth)
	assert.Equal(t, "http://collector:8000", cfg.Collaborators.DataCollectorURL)
}

func TestLoad_EnvOverridesDefaultlessKeys(t *testing.T) {
	t.Setenv("CORTEX_PLANNER_API_KEY", "sk-ant-test")
	t.Setenv("CORTEX_COLLABORATORS_TOOL_ROUTES", "/etc/cortex/routes.yaml")
	t.Setenv("CORTEX_ARCHIVE_REDIS_DB", "4")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-ant-test", cfg.Planner.APIKey)
	assert.Equal(t, "/etc/cortex/routes.yaml", cfg.Collaborators.ToolRoutes)
	assert.Equal(t, 4, cfg.Archive.RedisDB)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero max depth", func(c *config.Config) { c.Orchestrator.MaxDepth = 0 }},
		{"zero plan bound", func(c *config.Config) { c.Orchestrator.MaxTasksPerPlan = 0 }},
		{"zero queue bound", func(c *config.Config) { c.Hub.QueueBound = 0 }},
		{"unknown archive backend", func(c *config.Config) { c.Archive.Backend = "postgres" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
