// Package firecrawl scrapes pages through a Firecrawl MCP server.
package firecrawl

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/contentpipe/tools/mcp"
	"github.com/mohammad-safakhou/contentpipe/tools/web_fetch/models"
)

// DefaultTool is the Firecrawl scrape tool name.
const DefaultTool = "firecrawl_scrape"

type Fetch struct {
	Client   *mcp.Client
	Tool     string
	MaxChars int
}

func (f *Fetch) Exec(ctx context.Context, url string) (models.Result, error) {
	if strings.TrimSpace(url) == "" {
		return models.Result{}, fmt.Errorf("firecrawl: empty url")
	}
	tool := f.Tool
	if tool == "" {
		tool = DefaultTool
	}
	t0 := time.Now()
	res, err := f.Client.CallTool(ctx, tool, map[string]any{
		"url":             url,
		"formats":         []string{"markdown"},
		"onlyMainContent": true,
	})
	if err != nil {
		return models.Result{}, fmt.Errorf("firecrawl scrape: %w", err)
	}

	out := models.Result{URL: url, Status: 200, Fetcher: "firecrawl", RenderMS: int(time.Since(t0) / time.Millisecond)}
	text := res.Text()
	var doc struct {
		Markdown string `json:"markdown"`
		Metadata struct {
			Title      string `json:"title"`
			StatusCode int    `json:"statusCode"`
		} `json:"metadata"`
	}
	if json.Unmarshal([]byte(text), &doc) == nil && doc.Markdown != "" {
		text = doc.Markdown
		out.Title = doc.Metadata.Title
		if doc.Metadata.StatusCode != 0 {
			out.Status = doc.Metadata.StatusCode
		}
	}
	text = strings.TrimSpace(text)
	if f.MaxChars > 0 && len([]rune(text)) > f.MaxChars {
		text = string([]rune(text)[:f.MaxChars])
	}
	out.Text = text
	return out, nil
}
