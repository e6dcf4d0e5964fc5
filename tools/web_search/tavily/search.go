// Package tavily searches through a Tavily MCP server.
package tavily

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/contentpipe/tools/mcp"
	"github.com/mohammad-safakhou/contentpipe/tools/web_search/models"
)

// Search calls the server's search tool. When Tool is empty the first tool
// whose name mentions "search" is used.
type Search struct {
	Client *mcp.Client
	Tool   string

	once    sync.Once
	tool    string
	toolErr error
}

func (s *Search) resolveTool(ctx context.Context) (string, error) {
	s.once.Do(func() {
		if s.Tool != "" {
			s.tool = s.Tool
			return
		}
		tools, err := s.Client.ListTools(ctx)
		if err != nil {
			s.toolErr = err
			return
		}
		for _, t := range tools {
			if strings.Contains(strings.ToLower(t.Name), "search") {
				s.tool = t.Name
				return
			}
		}
		s.toolErr = fmt.Errorf("tavily: no search tool on %s", s.Client.Name())
	})
	return s.tool, s.toolErr
}

func (s *Search) Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]models.Result, error) {
	tool, err := s.resolveTool(ctx)
	if err != nil {
		return nil, err
	}
	args := map[string]any{"query": q, "max_results": k}
	if len(sites) > 0 {
		args["include_domains"] = sites
	}
	if recency > 0 {
		args["days"] = recency
	}
	res, err := s.Client.CallTool(ctx, tool, args)
	if err != nil {
		return nil, fmt.Errorf("tavily search: %w", err)
	}
	out := ParseResults(res)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// ParseResults reads structured content, a JSON text payload, or the
// "Title:/URL:/Content:" text layout the Tavily server returns.
func ParseResults(res *mcp.CallResult) []models.Result {
	if res == nil {
		return nil
	}
	if out := fromJSON(res.StructuredContent); len(out) > 0 {
		return out
	}
	text := res.Text()
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err == nil {
		if out := fromJSON(payload); len(out) > 0 {
			return out
		}
	}
	return fromText(text)
}

func fromJSON(payload map[string]any) []models.Result {
	items, _ := payload["results"].([]any)
	var out []models.Result
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		r := models.Result{Title: str(m["title"]), URL: str(m["url"]), Snippet: str(m["content"])}
		if r.Snippet == "" {
			r.Snippet = str(m["snippet"])
		}
		if r.URL != "" {
			out = append(out, r)
		}
	}
	return out
}

func fromText(text string) []models.Result {
	var out []models.Result
	var cur models.Result
	flush := func() {
		if cur.URL != "" {
			out = append(out, cur)
		}
		cur = models.Result{}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Title:"):
			flush()
			cur.Title = strings.TrimSpace(strings.TrimPrefix(line, "Title:"))
		case strings.HasPrefix(line, "URL:"):
			cur.URL = strings.TrimSpace(strings.TrimPrefix(line, "URL:"))
		case strings.HasPrefix(line, "Content:"):
			cur.Snippet = strings.TrimSpace(strings.TrimPrefix(line, "Content:"))
		}
	}
	flush()
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
