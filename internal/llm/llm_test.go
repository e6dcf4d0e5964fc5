package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/contentpipe/config"
)

func TestNewProviderWithoutCredentials(t *testing.T) {
	_, err := NewProvider(context.Background(), config.LLMConfig{Provider: config.ProviderGemini})
	require.ErrorIs(t, err, ErrNoCredentials)

	_, err = NewProvider(context.Background(), config.LLMConfig{Provider: config.ProviderOpenAI})
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestOpenAIProviderGenerate(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	p, err := NewProvider(context.Background(), config.LLMConfig{
		Provider: config.ProviderOpenAI,
		OpenAI:   config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"},
	})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	out, err := p.Generate(context.Background(), Request{Model: "gpt-test", System: "be brief", Prompt: "hello", Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[1].Content)
}
