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
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearProviderEnv(t *testing.T) {
	for _, name := range []string{
		"GOOGLE_API_KEY", "GOOGLE_APPLICATION_CREDENTIALS", "GOOGLE_CLOUD_PROJECT", "GOOGLE_CLOUD_LOCATION",
		"OPENAI_API_KEY", "TAVILY_MCP_URL", "TAVILY_API_KEY", "FIRECRAWL_MCP_URL", "FIRECRAWL_API_KEY",
		"BRAVE_SEARCH_KEY", "SERPER_API_KEY", "DATABASE_URL", "REDIS_URL",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearProviderEnv(t)
	cfg, err := LoadConfig(writeConfig(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.ModelFor("researcher"))
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.ModelFor("captioner"))
	assert.Equal(t, EngineLive, cfg.Engine.Default)
	assert.Equal(t, GraphV1, cfg.Workflow.Mode)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "elevenlabs_bsj_voice_placeholder", cfg.Pipeline.VoiceID)
	assert.Contains(t, cfg.Pipeline.OffTopicBlacklist, "celtics")
	assert.Equal(t, 12*time.Hour, cfg.Server.TokenTTL)
	assert.False(t, cfg.LLM.HasCredentials())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("TAVILY_MCP_URL", "https://mcp.tavily.com/mcp/")
	t.Setenv("CONTENTPIPE_ENGINE_DEFAULT", "adk")

	path := writeConfig(t, `{
		"llm": {"models": {"scriptwriter": "gemini-2.5-pro"}},
		"pipeline": {"offtopic_blacklist": [" Lakers ", ""]},
		"workflow": {"mode": "V2"},
		"schedules": [{"id": "daily", "topic": "solar", "cron": "@daily"}]
	}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "g-key", cfg.LLM.Gemini.APIKey)
	assert.True(t, cfg.LLM.HasCredentials())
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.ModelFor("scriptwriter"))
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.ModelFor("researcher"))
	assert.Equal(t, "https://mcp.tavily.com/mcp/", cfg.Tools.Tavily.URL)
	assert.True(t, cfg.Tools.Tavily.Enabled())
	assert.Equal(t, EngineLive, cfg.Engine.Default)
	assert.Equal(t, GraphV2, cfg.Workflow.Mode)
	assert.Equal(t, []string{"lakers"}, cfg.Pipeline.OffTopicBlacklist)
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "solar", cfg.Schedules[0].Topic)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadConfigRejectsInvalidSections(t *testing.T) {
	clearProviderEnv(t)
	cases := map[string]string{
		"provider":  `{"llm": {"provider": "llama"}}`,
		"engine":    `{"engine": {"default": "fast"}}`,
		"driver":    `{"storage": {"driver": "sqlite"}}`,
		"reviewers": `{"server": {"reviewers": {"ada": "$2a$10$hash"}}}`,
		"schedule":  `{"schedules": [{"id": "x", "topic": "", "cron": "@daily"}]}`,
		"duplicate": `{"schedules": [{"id": "x", "topic": "a", "cron": "@daily"}, {"id": "x", "topic": "b", "cron": "@daily"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestNormalizeEngine(t *testing.T) {
	assert.Equal(t, EngineLive, NormalizeEngine(""))
	assert.Equal(t, EngineLive, NormalizeEngine("ADK"))
	assert.Equal(t, EngineStub, NormalizeEngine(" stub "))
	assert.Equal(t, "other", NormalizeEngine("other"))
}

func TestStorageValidate(t *testing.T) {
	require.NoError(t, StorageConfig{Driver: DriverRedis, Redis: RedisConfig{URL: "redis://localhost:6379/0"}}.Validate())
	require.Error(t, StorageConfig{Driver: DriverRedis, Redis: RedisConfig{Host: "localhost", Port: "abc"}}.Validate())
	require.NoError(t, StorageConfig{Driver: DriverPostgres, Postgres: PostgresConfig{Host: "db", DBName: "contentpipe"}}.Validate())
	require.Error(t, StorageConfig{Driver: DriverPostgres}.Validate())
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "cp", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/cp?sslmode=disable", p.DSN())
	p.URL = "postgres://x"
	assert.Equal(t, "postgres://x", p.DSN())
}
