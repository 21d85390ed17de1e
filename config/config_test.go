package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DefaultTemplate(t *testing.T) {
	cfg, err := Parse([]byte(DefaultTemplate))
	require.NoError(t, err)

	assert.Equal(t, "gateway", cfg.API.Backend)
	assert.Equal(t, 2*time.Minute, cfg.API.RequestTimeout)
	assert.Equal(t, "my-org", cfg.SCM.Owner)
	assert.Equal(t, 30*time.Minute, cfg.Agent.SessionTimeout)
	assert.Equal(t, 5*time.Second, cfg.Agent.IterationDelay)
	assert.Nil(t, cfg.Agent.MaxTokens)
	assert.True(t, cfg.Agent.PinSystemMessage)
	assert.Equal(t, "cargo test", cfg.Languages["rust"].Test)
	assert.Equal(t, "go vet ./...", cfg.ActiveLanguage().Analyse)
}

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
scm:
  owner: acme
  repo: widgets
agent:
  max_tokens: 4000
  pin_system_message: false
`))
	require.NoError(t, err)

	require.NotNil(t, cfg.Agent.MaxTokens)
	assert.Equal(t, 4000, *cfg.Agent.MaxTokens)
	assert.False(t, cfg.Agent.PinSystemMessage)
	assert.Equal(t, "main", cfg.SCM.BaseBranch)
	assert.Equal(t, "http://localhost:8080", cfg.API.Endpoint)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := map[string]string{
		"missing owner":    "scm:\n  repo: r\n",
		"bad backend":      "scm: {owner: o, repo: r}\napi:\n  backend: carrier-pigeon\n",
		"unknown language": "scm: {owner: o, repo: r}\nagent:\n  language: cobol\n",
		"negative tokens":  "scm: {owner: o, repo: r}\nagent:\n  max_tokens: -1\n",
		"bad log level":    "scm: {owner: o, repo: r}\nlogging:\n  level: loud\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestParse_SecretsFromEnvironment(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("INFERENCE_GATEWAY_API_KEY", "gw-key")

	cfg, err := Parse([]byte("scm: {owner: o, repo: r}\n"))
	require.NoError(t, err)

	token, err := cfg.SCMToken()
	require.NoError(t, err)
	assert.Equal(t, "ghp_test", token)
	assert.Equal(t, "gw-key", cfg.Secrets.GatewayAPIKey)
}

func TestSCMToken_Missing(t *testing.T) {
	t.Setenv("GITLAB_TOKEN", "")
	cfg, err := Parse([]byte("scm: {kind: gitlab, owner: o, repo: r}\n"))
	require.NoError(t, err)

	_, err = cfg.SCMToken()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITLAB_TOKEN")
}

func TestInitAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".coder", "config.yaml")

	require.NoError(t, Init(path, false))
	assert.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "go", cfg.Agent.Language)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "TOKEN")
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coder init")
}
