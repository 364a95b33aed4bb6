package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/config"
)

func TestDefaultValues(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "react", cfg.Service.DeepSearchAgentMode)
	assert.Equal(t, 25, cfg.Agents.React.MaxSteps)
	assert.Equal(t, 4, cfg.Agents.React.MaxToolThreads)
	assert.Equal(t, "local", cfg.Agents.CodeAct.ExecutorType)
}

func TestLoadFromTOML(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.toml")
	require.NoError(t, err)
	_, err = f.WriteString(`
[service]
deepsearch_agent_mode = "codact"

[agents.react]
max_steps = 10
`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := config.Load(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "codact", cfg.Service.DeepSearchAgentMode)
	assert.Equal(t, 10, cfg.Agents.React.MaxSteps)
}

func TestAPIKeysOnlyFromEnv(t *testing.T) {
	t.Setenv("SERPER_API_KEY", "test-key")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "test-key", cfg.APIKeys.SerperAPIKey)
}

func TestValidateAPIKeys(t *testing.T) {
	t.Setenv("SERPER_API_KEY", "")
	t.Setenv("JINA_API_KEY", "")
	t.Setenv("WOLFRAM_ALPHA_APP_ID", "")
	perTool, valid := config.ValidateAPIKeys()
	assert.False(t, valid)
	assert.False(t, perTool["search_links"])

	t.Setenv("SERPER_API_KEY", "x")
	t.Setenv("JINA_API_KEY", "x")
	t.Setenv("WOLFRAM_ALPHA_APP_ID", "x")
	_, valid = config.ValidateAPIKeys()
	assert.True(t, valid)
}
