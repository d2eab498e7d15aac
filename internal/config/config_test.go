package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"NABD_HOME_URL", "NABD_SEARCH_URL", "NABD_DATA_DIR", "NABD_DOWNLOAD_DIR",
		"NABD_PROVIDER", "NABD_MODEL", "NABD_LOG_LEVEL", "NABD_STRICT_SURFACES",
		"LLM_API_KEY", "LLM_BASE_URL", "ANTHROPIC_API_KEY",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultHomeURL, cfg.HomeURL)
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, 1024, cfg.Assistant.MaxTokens)
	assert.Equal(t, 15000, cfg.Assistant.PageLimit)
	assert.Equal(t, 5000, cfg.Assistant.ContextLimit)
	assert.Equal(t, 10000, cfg.Assistant.QuestionLimit)
	assert.Equal(t, 6, cfg.Assistant.HistoryMessages)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.StrictSurfaces)
	assert.NotNil(t, cfg.Providers)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHomeURL, cfg.HomeURL)
	assert.Equal(t, defaultSearchURL, cfg.SearchURL)
}

func TestLoadFileAndFillDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
home_url: https://example.org
provider: deepseek
providers:
  deepseek:
    api_key: sk-test
assistant:
  page_limit: 2000
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.org", cfg.HomeURL)
	assert.Equal(t, "deepseek", cfg.Provider)
	assert.Equal(t, "sk-test", cfg.GetProviderConfig("deepseek").APIKey)
	assert.Equal(t, 2000, cfg.Assistant.PageLimit)
	// Unset fields fall back to defaults.
	assert.Equal(t, 1024, cfg.Assistant.MaxTokens)
	assert.Equal(t, defaultUserAgent, cfg.UserAgent)
}

func TestLoadInvalidFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("home_url: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)

	t.Setenv("NABD_HOME_URL", "https://start.example")
	t.Setenv("NABD_PROVIDER", "openai")
	t.Setenv("NABD_MODEL", "gpt-4o-mini")
	t.Setenv("NABD_LOG_LEVEL", "debug")
	t.Setenv("NABD_STRICT_SURFACES", "true")
	t.Setenv("LLM_API_KEY", "sk-generic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "https://start.example", cfg.HomeURL)
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.StrictSurfaces)
	assert.Equal(t, "sk-generic", cfg.GetProviderConfig("openai").APIKey)
	assert.Equal(t, "sk-ant", cfg.GetProviderConfig("anthropic").APIKey)
}

func TestGetProviderConfigMissing(t *testing.T) {
	cfg := DefaultConfig()
	pc := cfg.GetProviderConfig("nope")
	require.NotNil(t, pc)
	assert.Empty(t, pc.APIKey)
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.HomeURL = "https://saved.example"
	cfg.Providers["anthropic"] = &ProviderConfig{APIKey: "k"}
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://saved.example", loaded.HomeURL)
	assert.Equal(t, "k", loaded.GetProviderConfig("anthropic").APIKey)
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/nabd"
	assert.Equal(t, "/tmp/nabd/nabd.db", cfg.DatabasePath())
	assert.Equal(t, "/tmp/nabd/nabd.log", cfg.LogPath())

	cfg.Log.File = "/var/log/nabd.log"
	assert.Equal(t, "/var/log/nabd.log", cfg.LogPath())
}
