package web_fetch

import (
	"context"
	"errors"
	"time"

	"github.com/mohammad-safakhou/contentpipe/tools/mcp"
	"github.com/mohammad-safakhou/contentpipe/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/contentpipe/tools/web_fetch/firecrawl"
	"github.com/mohammad-safakhou/contentpipe/tools/web_fetch/models"
	"github.com/mohammad-safakhou/contentpipe/tools/web_fetch/stub"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

// WebFetcher retrieves a page and returns its readable text.
type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	ChromedpFetcherType  FetcherType = "chromedp"
	FirecrawlFetcherType FetcherType = "firecrawl"
	StubFetcherType      FetcherType = "stub"
)

var ErrUnsupportedFetcher = errors.New("unsupported fetcher type")

// Options carries what the fetchers need; unused fields are ignored.
type Options struct {
	Timeout  time.Duration
	MaxChars int
	MCP      *mcp.Client
	Tool     string
}

func NewWebFetcher(fetcherType FetcherType, opts Options) (WebFetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = MaxCharsDefault
	}

	switch fetcherType {
	case ChromedpFetcherType:
		return &chromedp.Fetch{Timeout: opts.Timeout, MaxChars: opts.MaxChars}, nil
	case FirecrawlFetcherType:
		if opts.MCP == nil {
			return nil, errors.New("firecrawl fetch needs an MCP client")
		}
		return &firecrawl.Fetch{Client: opts.MCP, Tool: opts.Tool, MaxChars: opts.MaxChars}, nil
	case StubFetcherType:
		return stub.Fetch{}, nil
	default:
		return nil, ErrUnsupportedFetcher
	}
}
