package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
)

func TestFieldsDecodesStrings(t *testing.T) {
	st := pipeline.NewState("t")
	st.Set(pipeline.KeyScript, "```json\n{\"script\": {\"beats\": [\"a\"], \"draft\": \"d\", \"summary\": \"s\"}}\n```")
	st.Set(pipeline.KeyCaptions, "definitely not json")
	st.Set(pipeline.KeyThumbnailPrompts, []any{"already", "decoded"})

	changed := Fields(st)

	assert.Equal(t, []string{pipeline.KeyScript}, changed)
	assert.Equal(t, []any{"a"}, st.Map(pipeline.KeyScript)["beats"])
	assert.Equal(t, "definitely not json", st.Fields[pipeline.KeyCaptions])
	assert.Equal(t, []any{"already", "decoded"}, st.Fields[pipeline.KeyThumbnailPrompts])
}

func TestProjectBounds(t *testing.T) {
	st := pipeline.NewState("t")
	st.Set("deep", map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": map[string]any{"d": "leaf"},
			},
		},
	})
	st.Set("list", []any{1, 2, 3, 4, 5, 6, 7})
	st.Set("long", strings.Repeat("x", 4001))
	st.Set("empty", map[string]any{})

	out := Project(st, DefaultOptions())

	assert.Equal(t, map[string]any{"d": "leaf"}, out["deep.a.b.c"])
	assert.Len(t, out["list"], 5)
	long, ok := out["long"].(string)
	require.True(t, ok)
	assert.Equal(t, 4001, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "…"))
	assert.Equal(t, "t", out["topic"])
	assert.NotContains(t, out, "empty")
	assert.NotContains(t, out, "")

	_, stillNested := st.Fields["deep"].(map[string]any)
	assert.True(t, stillNested)
}

func TestMarkdownSummary(t *testing.T) {
	st := pipeline.NewState("t")
	st.Set(pipeline.KeyResearch, map[string]any{
		"topics":    []any{"solar"},
		"key_stats": []any{map[string]any{"label": "share", "value": 30, "source": "IEA"}},
		"citations": []any{map[string]any{"title": "Report", "url": "https://example.com"}},
	})
	st.Set(pipeline.KeyScript, pipeline.Script{Beats: []string{"Intro"}, Draft: "Draft text", Summary: "Short"})
	st.Set(pipeline.KeyCaptions, pipeline.Captions{YouTube: []string{"yt"}, Hashtags: []string{"#a", "#b"}})

	md := Markdown(st)

	assert.Contains(t, md, "# Research Findings")
	assert.Contains(t, md, "- share: 30 (source: IEA)")
	assert.Contains(t, md, "- [Report](https://example.com)")
	assert.Contains(t, md, "**Beats**:\n- Intro")
	assert.Contains(t, md, "**YouTube**:\n- yt")
	assert.Contains(t, md, "**Hashtags**: #a #b")
	assert.NotContains(t, md, "# Voiceover")
}

func TestHTMLIsSanitised(t *testing.T) {
	html, err := HTML("# Title\n\n[x](javascript:alert(1)) <script>alert(1)</script>")
	require.NoError(t, err)

	assert.Contains(t, html, "<h1")
	assert.NotContains(t, html, "<script>")
	assert.NotContains(t, html, "javascript:")
}

func TestMarkdownHook(t *testing.T) {
	st := pipeline.NewState("t")
	st.Set(pipeline.KeyThumbnailPrompts, []any{"one"})

	MarkdownHook(st, pipeline.KeyThumbnailPrompts)

	assert.Equal(t, "# Thumbnail Prompts\n\n- one", st.Fields["thumbnail_prompts_markdown"])
}
