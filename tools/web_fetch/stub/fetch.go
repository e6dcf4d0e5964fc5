// Package stub returns a placeholder page for any URL.
package stub

import (
	"context"

	"github.com/mohammad-safakhou/contentpipe/tools/web_fetch/models"
)

// Content is the body returned for every fetch.
const Content = "<html><body><h1>Placeholder</h1><p>Stub content for development.</p></body></html>"

type Fetch struct{}

func (Fetch) Exec(ctx context.Context, url string) (models.Result, error) {
	return models.Result{URL: url, Status: 200, Text: Content, Fetcher: "stub"}, nil
}
