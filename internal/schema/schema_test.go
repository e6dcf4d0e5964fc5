package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCompilesAll(t *testing.T) {
	r := NewRegistry()

	assert.ElementsMatch(t, []string{"research", "script", "thumbnail_prompts", "captions", "voiceover", "newsletter"}, r.Keys())
}

func TestCheck(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Check("thumbnail_prompts", []any{"a", "b", "c"}))
	assert.Error(t, r.Check("thumbnail_prompts", []any{"a"}))

	require.NoError(t, r.Check("script", map[string]any{
		"beats":   []any{"Hook", "Context", "Evidence", "Turn", "Takeaway"},
		"draft":   "d",
		"summary": "s",
	}))
	assert.Error(t, r.Check("script", map[string]any{
		"beats":   []any{"Intro", "Body", "Conclusion"},
		"draft":   "d",
		"summary": "s",
	}))
	assert.Error(t, r.Check("script", map[string]any{
		"beats":   []any{"1", "2", "3", "4", "5", "6", "7", "8", "9"},
		"draft":   "d",
		"summary": "s",
	}))

	captions := map[string]any{
		"youtube":   []any{"y"},
		"tiktok":    []any{"t"},
		"instagram": []any{"i"},
		"hashtags":  []any{"#a", "#b", "#c"},
	}
	assert.Error(t, r.Check("captions", captions))
	captions["hashtags"] = []any{"#a", "#b", "#c", "#d", "#e", "#f", "#g", "#h"}
	assert.NoError(t, r.Check("captions", captions))
	err := r.Check("script", map[string]any{"beats": []any{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script.v1")

	assert.NoError(t, r.Check("research", map[string]any{"notes": []any{"n"}}))
	assert.NoError(t, r.Check("unknown_key", 42))
}
