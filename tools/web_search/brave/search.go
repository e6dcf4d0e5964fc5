package brave

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/contentpipe/internal/httpclient"
	"github.com/mohammad-safakhou/contentpipe/tools/web_search/models"
)

// Endpoint is the Brave web search API.
var Endpoint = "https://api.search.brave.com/res/v1/web/search"

type Search struct {
	ApiKey string
	Client *httpclient.Client
}

func (s Search) Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]models.Result, error) {
	// https://api.search.brave.com/app/documentation/web-search
	query := q
	if len(sites) > 0 {
		parts := make([]string, len(sites))
		for i, site := range sites {
			parts[i] = "site:" + site
		}
		query += " (" + strings.Join(parts, " OR ") + ")"
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", fmt.Sprint(k))
	switch {
	case recency > 0 && recency <= 1:
		params.Set("freshness", "pd")
	case recency > 1 && recency <= 7:
		params.Set("freshness", "pw")
	case recency > 7 && recency <= 31:
		params.Set("freshness", "pm")
	}

	client := s.Client
	if client == nil {
		client = httpclient.New(0, 1, 0)
	}
	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	headers := map[string]string{"Accept": "application/json", "X-Subscription-Token": s.ApiKey}
	if err := client.DoJSON(ctx, http.MethodGet, Endpoint+"?"+params.Encode(), headers, nil, &raw); err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}
	var out []models.Result
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out = append(out, models.Result{Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}
	return out, nil
}
