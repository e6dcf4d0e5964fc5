package serper

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/contentpipe/internal/httpclient"
	"github.com/mohammad-safakhou/contentpipe/tools/web_search/models"
)

// Endpoint is the Serper search API.
var Endpoint = "https://google.serper.dev/search"

type Search struct {
	ApiKey string
	Client *httpclient.Client
}

func (s Search) Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]models.Result, error) {
	// https://serper.dev/ docs
	payload := map[string]any{"q": q, "num": k}
	if len(sites) > 0 {
		payload["q"] = q + " " + siteFilter(sites)
	}
	if recency > 0 {
		payload["tbs"] = fmt.Sprintf("qdr:d%d", recency)
	}

	client := s.Client
	if client == nil {
		client = httpclient.New(0, 1, 0)
	}
	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := client.DoJSON(ctx, http.MethodPost, Endpoint, map[string]string{"X-API-KEY": s.ApiKey}, payload, &raw); err != nil {
		return nil, fmt.Errorf("serper search: %w", err)
	}

	var out []models.Result
	for i, it := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, models.Result{Title: it.Title, URL: it.Link, Snippet: it.Snippet})
	}
	return out, nil
}

func siteFilter(sites []string) string {
	parts := make([]string, len(sites))
	for i, s := range sites {
		parts[i] = "site:" + s
	}
	return strings.Join(parts, " OR ")
}
