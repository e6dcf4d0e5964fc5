// Package stub returns deterministic placeholder search results.
package stub

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/contentpipe/tools/web_search/models"
)

type Search struct{}

func (Search) Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]models.Result, error) {
	if k <= 0 {
		k = 5
	}
	out := make([]models.Result, 0, k)
	for i := 1; i <= k; i++ {
		out = append(out, models.Result{
			Title:   fmt.Sprintf("Result %d for %s", i, q),
			URL:     fmt.Sprintf("https://example.com/%d", i),
			Snippet: "Stub snippet for development.",
		})
	}
	return out, nil
}
