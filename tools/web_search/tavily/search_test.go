package tavily

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mohammad-safakhou/contentpipe/tools/mcp"
)

func TestParseResultsTextLayout(t *testing.T) {
	res := &mcp.CallResult{Content: []mcp.Content{{Type: "text", Text: "Detailed Results:\n\nTitle: Solar boom\nURL: https://a.example\nContent: Panels are cheap.\n\nTitle: No link\n\nTitle: Wind\nURL: https://b.example\n"}}}

	got := ParseResults(res)

	assert.Len(t, got, 2)
	assert.Equal(t, "Solar boom", got[0].Title)
	assert.Equal(t, "Panels are cheap.", got[0].Snippet)
	assert.Equal(t, "https://b.example", got[1].URL)
}

func TestParseResultsJSON(t *testing.T) {
	res := &mcp.CallResult{Content: []mcp.Content{{Type: "text", Text: `{"results":[{"title":"T","url":"https://x","content":"C"},{"title":"skip"}]}`}}}

	got := ParseResults(res)

	assert.Len(t, got, 1)
	assert.Equal(t, "C", got[0].Snippet)
}

func TestParseResultsStructured(t *testing.T) {
	res := &mcp.CallResult{StructuredContent: map[string]any{"results": []any{map[string]any{"url": "https://s", "snippet": "S"}}}}

	got := ParseResults(res)

	assert.Len(t, got, 1)
	assert.Equal(t, "S", got[0].Snippet)
}
